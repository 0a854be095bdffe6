// Package liquidvm implements a server-side template engine: a lexer,
// a Pratt-style expression/tag parser, a bytecode compiler and a
// stack-based virtual machine that renders templates against a runtime
// data context.
package liquidvm

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind classifies a render-time or compile-time failure. Kinds are
// sentinel values: match one with IsKind even after juju/errors has
// annotated the error chain.
type Kind int

const (
	// KindSyntax covers lexer/parser rejections of the input.
	KindSyntax Kind = iota
	// KindType covers a value of the wrong kind for an operation.
	KindType
	// KindFilterArgument covers a filter rejecting its arguments.
	KindFilterArgument
	// KindFilterValue covers a filter rejecting its input value.
	KindFilterValue
	// KindNoSuchFilter covers an unregistered filter name in strict mode.
	KindNoSuchFilter
	// KindTemplateNotFound covers a loader miss.
	KindTemplateNotFound
	// KindDisabledTag covers a tag used where it is forbidden (include
	// inside render).
	KindDisabledTag
	// KindContextDepth covers include/render nesting past the configured
	// maximum.
	KindContextDepth
	// KindLoopIterationLimit covers a loop exceeding the configured
	// iteration ceiling.
	KindLoopIterationLimit
	// KindLocalNamespaceLimit covers the locals map growing past its
	// configured ceiling.
	KindLocalNamespaceLimit
	// KindOutputStreamLimit covers the root output buffer growing past
	// its configured ceiling.
	KindOutputStreamLimit
	// KindStackOverflow covers VM value-stack exhaustion.
	KindStackOverflow
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "LiquidSyntaxError"
	case KindType:
		return "LiquidTypeError"
	case KindFilterArgument:
		return "FilterArgumentError"
	case KindFilterValue:
		return "FilterValueError"
	case KindNoSuchFilter:
		return "NoSuchFilter"
	case KindTemplateNotFound:
		return "TemplateNotFound"
	case KindDisabledTag:
		return "DisabledTagError"
	case KindContextDepth:
		return "ContextDepthError"
	case KindLoopIterationLimit:
		return "LoopIterationLimitError"
	case KindLocalNamespaceLimit:
		return "LocalNamespaceLimitError"
	case KindOutputStreamLimit:
		return "OutputStreamLimitError"
	case KindStackOverflow:
		return "StackOverflow"
	default:
		return "UnknownError"
	}
}

// Error is the single error type raised anywhere in the pipeline: lexer,
// parser, compiler, or VM. Sender names the component (e.g. "lexer",
// "parser", "filter:upcase", "tag:for").
type Error struct {
	Kind     Kind
	Template string
	Line     int
	Column   int
	Token    *Token
	Sender   string
	OrigErr  error
}

// Error formats the failure with its kind, origin, and source position.
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s", e.Kind)
	if e.Sender != "" {
		s += " (where: " + e.Sender + ")"
	}
	if e.Template != "" {
		s += " in " + e.Template
	}
	if e.Line > 0 {
		s += fmt.Sprintf(" | Line %d Col %d", e.Line, e.Column)
		if e.Token != nil {
			s += fmt.Sprintf(" near %q", e.Token.Val)
		}
	}
	s += "] "
	if e.OrigErr != nil {
		s += e.OrigErr.Error()
	}
	return s
}

// Unwrap exposes OrigErr so errors.Is/errors.As from the standard library
// (and juju/errors' Cause) can see through an *Error.
func (e *Error) Unwrap() error { return e.OrigErr }

// Fatal reports whether this error must abort rendering regardless of the
// configured Tolerance (resource-limit errors and stack overflow always are).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindContextDepth, KindLoopIterationLimit, KindLocalNamespaceLimit,
		KindOutputStreamLimit, KindStackOverflow:
		return true
	default:
		return false
	}
}

// newError builds an *Error, annotating the underlying cause with
// juju/errors so the wrapping call chain (lexer->parser->compiler->vm)
// stays visible in %+v output while errors.Cause still unwraps to the
// original message.
func newError(kind Kind, sender string, tmpl string, tok *Token, cause error) *Error {
	e := &Error{
		Kind:     kind,
		Template: tmpl,
		Sender:   sender,
		OrigErr:  errors.Annotatef(cause, "%s", kind),
	}
	if tok != nil {
		e.Token = tok
		e.Line = tok.Line
		e.Column = tok.Col
		if tok.Filename != "" {
			e.Template = tok.Filename
		}
	}
	return e
}

func errorf(kind Kind, sender string, tmpl string, tok *Token, format string, args ...any) *Error {
	return newError(kind, sender, tmpl, tok, errors.Errorf(format, args...))
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		cause := errors.Cause(err)
		if cause == err {
			return false
		}
		err = cause
	}
	return false
}
