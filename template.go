package liquidvm

import "strings"

// Template is a parsed and compiled template. The compiled program is
// immutable, so a single Template may render concurrently from any
// number of goroutines; each Render call gets its own VM and context.
type Template struct {
	env  *Environment
	name string

	root    *RootNode
	program *Program
}

func (env *Environment) newTemplate(name, src string) (*Template, error) {
	root, err := Parse(name, src)
	if err != nil {
		return nil, err
	}
	program, err := Compile(name, root)
	if err != nil {
		return nil, err
	}
	return &Template{env: env, name: name, root: root, program: program}, nil
}

// FromString parses and compiles a template against a fresh default
// environment; for anything beyond one-off rendering, configure an
// Environment and use its FromString.
func FromString(src string) (*Template, error) {
	return NewEnvironment().FromString(src)
}

// MustFromString is FromString, panicking on a parse or compile error.
// Intended for templates baked into the binary.
func MustFromString(src string) *Template {
	tpl, err := FromString(src)
	if err != nil {
		panic(err)
	}
	return tpl
}

// Name returns the template's loader name ("<string>" for inline ones).
func (tpl *Template) Name() string { return tpl.name }

// Root exposes the parsed tree, mainly for tooling and tests.
func (tpl *Template) Root() *RootNode { return tpl.root }

// Program exposes the compiled bytecode program.
func (tpl *Template) Program() *Program { return tpl.program }

// Render executes the template against the given data context and
// returns the rendered output.
func (tpl *Template) Render(globals Context) (string, error) {
	if globals == nil {
		globals = Context{}
	}
	rc := newRenderContext(tpl.env, globals, tpl.name)

	var out strings.Builder
	var outputBytes int64
	machine := newVM(tpl.env, tpl.program, rc, tpl.name, &out, true, &outputBytes)
	if _, err := machine.pushBlockFrame(tpl.program.Block, nil); err != nil {
		return "", err
	}
	if err := machine.run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// MustRender is Render, panicking on error.
func (tpl *Template) MustRender(globals Context) string {
	s, err := tpl.Render(globals)
	if err != nil {
		panic(err)
	}
	return s
}
