package liquidvm

import (
	"strings"
	"testing"

	. "gopkg.in/check.v1"
)

func TestGoCheck(t *testing.T) { TestingT(t) }

type RenderSuite struct {
	env *Environment
}

var _ = Suite(&RenderSuite{})

func (s *RenderSuite) SetUpTest(c *C) {
	s.env = NewEnvironment()
	s.env.Loader = MapLoader{
		"p":     "{% assign x = 42 %}",
		"greet": "Hello {{ name }}!",
		"card":  "[{{ card }}]",
		"item":  "{{ item }}{{ forloop.index }}",
		"outer": "{% render 'mid' %}",
		"mid":   "{% include 'greet' %}",
		"loop":  "{% for i in (1..4) %}{{ i }}{% endfor %}",
		"self":  "{% include 'self' %}",
		"deep":  "{% render 'deep' %}",
	}
}

func (s *RenderSuite) render(c *C, src string, ctx Context) string {
	tpl, err := s.env.FromString(src)
	c.Assert(err, IsNil)
	out, err := tpl.Render(ctx)
	c.Assert(err, IsNil)
	return out
}

func (s *RenderSuite) renderErr(c *C, src string, ctx Context) error {
	tpl, err := s.env.FromString(src)
	c.Assert(err, IsNil)
	_, err = tpl.Render(ctx)
	c.Assert(err, NotNil)
	return err
}

func (s *RenderSuite) TestIncludeSharesLocals(c *C) {
	c.Check(s.render(c, "{% include 'p' %}{{ x }}", nil), Equals, "42")
}

func (s *RenderSuite) TestRenderIsolatesLocals(c *C) {
	c.Check(s.render(c, "{% render 'p' %}{{ x | default: 'none' }}", nil), Equals, "none")
}

func (s *RenderSuite) TestRenderCannotMutateCallerLocals(c *C) {
	out := s.render(c, "{% assign x = 'mine' %}{% render 'p' %}{{ x }}", nil)
	c.Check(out, Equals, "mine")
}

func (s *RenderSuite) TestIncludeKeywordArguments(c *C) {
	c.Check(s.render(c, "{% include 'greet', name: 'Bob' %}", nil), Equals, "Hello Bob!")
}

func (s *RenderSuite) TestIncludeWithClause(c *C) {
	c.Check(s.render(c, "{% include 'card' with product %}", Context{"product": "X"}), Equals, "[X]")
}

func (s *RenderSuite) TestIncludeWithAlias(c *C) {
	s.env.Loader.(MapLoader)["aliased"] = "[{{ it }}]"
	c.Check(s.render(c, "{% include 'aliased' with product as it %}", Context{"product": "X"}), Equals, "[X]")
}

func (s *RenderSuite) TestIncludeSeesCallerLoopVariable(c *C) {
	s.env.Loader.(MapLoader)["cell"] = "({{ i }})"
	out := s.render(c, "{% for i in (1..2) %}{% include 'cell' %}{% endfor %}", nil)
	c.Check(out, Equals, "(1)(2)")
}

func (s *RenderSuite) TestRenderForClause(c *C) {
	out := s.render(c, "{% render 'item' for xs as item %}", Context{"xs": []any{"a", "b"}})
	c.Check(out, Equals, "a1b2")
}

func (s *RenderSuite) TestRenderForHasNoParentloop(c *C) {
	s.env.Loader.(MapLoader)["pl"] = "[{{ forloop.parentloop.index }}]"
	out := s.render(c, "{% for i in (1..2) %}{% render 'pl' for xs %}{% endfor %}", Context{"xs": []any{"z"}})
	c.Check(out, Equals, "[][]")
}

func (s *RenderSuite) TestRenderIsolatesCounters(c *C) {
	s.env.Loader.(MapLoader)["count"] = "{% increment n %}"
	out := s.render(c, "{% increment n %}{% render 'count' %}{% increment n %}", nil)
	// The rendered partial starts its own counter at zero and the
	// caller's counter is untouched by it.
	c.Check(out, Equals, "001")
}

func (s *RenderSuite) TestIncludeSharesCounters(c *C) {
	s.env.Loader.(MapLoader)["count"] = "{% increment n %}"
	out := s.render(c, "{% increment n %}{% include 'count' %}{% increment n %}", nil)
	c.Check(out, Equals, "012")
}

func (s *RenderSuite) TestIncludeDisabledInsideRender(c *C) {
	err := s.renderErr(c, "{% render 'mid' %}", nil)
	c.Check(IsKind(err, KindDisabledTag), Equals, true)
	c.Check(err.Error(), Matches, ".*include is disabled.*")
}

func (s *RenderSuite) TestTemplateNotFound(c *C) {
	err := s.renderErr(c, "{% include 'nope' %}", nil)
	c.Check(IsKind(err, KindTemplateNotFound), Equals, true)
}

func (s *RenderSuite) TestContextDepthLimitNamesTag(c *C) {
	s.env.MaxContextDepth = 3
	err := s.renderErr(c, "{% include 'self' %}", nil)
	c.Check(IsKind(err, KindContextDepth), Equals, true)
	c.Check(err.Error(), Matches, ".*include.*")

	err = s.renderErr(c, "{% render 'deep' %}", nil)
	c.Check(IsKind(err, KindContextDepth), Equals, true)
	c.Check(err.Error(), Matches, ".*render.*")
}

func (s *RenderSuite) TestLoopIterationLimit(c *C) {
	s.env.MaxLoopIterations = 5
	err := s.renderErr(c, "{% for i in (1..10) %}x{% endfor %}", nil)
	c.Check(IsKind(err, KindLoopIterationLimit), Equals, true)
}

func (s *RenderSuite) TestLoopIterationLimitSpansIncludes(c *C) {
	s.env.MaxLoopIterations = 6
	err := s.renderErr(c, "{% for i in (1..3) %}{% include 'loop' %}{% endfor %}", nil)
	c.Check(IsKind(err, KindLoopIterationLimit), Equals, true)
}

func (s *RenderSuite) TestRenderLoopLimitInheritanceIsOptIn(c *C) {
	s.env.Loader.(MapLoader)["spin"] = "{% for i in (1..4) %}x{% endfor %}"
	s.env.MaxLoopIterations = 6

	out := s.render(c, "{% render 'spin' %}{% render 'spin' %}", nil)
	c.Check(out, Equals, "xxxxxxxx")

	s.env.RenderInheritsLoopLimit = true
	err := s.renderErr(c, "{% render 'spin' %}{% render 'spin' %}", nil)
	c.Check(IsKind(err, KindLoopIterationLimit), Equals, true)
}

func (s *RenderSuite) TestLocalNamespaceLimit(c *C) {
	s.env.MaxLocalNamespace = 1
	err := s.renderErr(c, "{% assign a = 1 %}{% assign b = 2 %}", nil)
	c.Check(IsKind(err, KindLocalNamespaceLimit), Equals, true)
}

func (s *RenderSuite) TestOutputStreamLimit(c *C) {
	s.env.MaxOutputBytes = 8
	err := s.renderErr(c, "{% for i in (1..100) %}0123456789{% endfor %}", nil)
	c.Check(IsKind(err, KindOutputStreamLimit), Equals, true)
}

func (s *RenderSuite) TestLimitsAreFatalEvenInLaxMode(c *C) {
	s.env.Tolerance = ToleranceLax
	s.env.MaxLoopIterations = 2
	err := s.renderErr(c, "{% for i in (1..10) %}x{% endfor %}", nil)
	c.Check(IsKind(err, KindLoopIterationLimit), Equals, true)
}

func (s *RenderSuite) TestMissingFilterStrict(c *C) {
	err := s.renderErr(c, "{{ 'x' | nope }}", nil)
	c.Check(IsKind(err, KindNoSuchFilter), Equals, true)
}

func (s *RenderSuite) TestMissingFilterLaxPassesThrough(c *C) {
	s.env.Tolerance = ToleranceLax
	c.Check(s.render(c, "{{ 'x' | nope }}", nil), Equals, "x")
}

func (s *RenderSuite) TestFilterErrorWarnModeContinues(c *C) {
	s.env.Tolerance = ToleranceWarn
	out := s.render(c, "a{{ 1 | divided_by: 0 }}b", nil)
	c.Check(out, Equals, "ab")
}

func (s *RenderSuite) TestTypeErrorStrictMode(c *C) {
	err := s.renderErr(c, "{% if 1 > 'one' %}x{% endif %}", nil)
	c.Check(IsKind(err, KindType), Equals, true)
}

func (s *RenderSuite) TestTypeErrorLaxModeComparesFalse(c *C) {
	s.env.Tolerance = ToleranceLax
	c.Check(s.render(c, "{% if 1 > 'one' %}x{% else %}y{% endif %}", nil), Equals, "y")
}

func (s *RenderSuite) TestIterationOverScalarStrict(c *C) {
	err := s.renderErr(c, "{% for i in n %}x{% endfor %}", Context{"n": 5})
	c.Check(IsKind(err, KindType), Equals, true)
}

func (s *RenderSuite) TestStrictUndefined(c *C) {
	s.env.StrictUndefined = true
	err := s.renderErr(c, "{{ missing }}", nil)
	c.Check(IsKind(err, KindType), Equals, true)
	c.Check(err.Error(), Matches, ".*missing.*")
}

func (s *RenderSuite) TestCustomFilterRegistration(c *C) {
	s.env.RegisterFilter("shout", func(in Value, args []Value, kwargs map[string]Value) (Value, error) {
		return String(strings.ToUpper(in.String()) + "!!"), nil
	})
	c.Check(s.render(c, "{{ 'hey' | shout }}", nil), Equals, "HEY!!")
}

func (s *RenderSuite) TestContextFilterSeesTemplateName(c *C) {
	s.env.RegisterContextFilter("whoami", func(fc *FilterContext, in Value, args []Value, kwargs map[string]Value) (Value, error) {
		return String(fc.TemplateName), nil
	})
	c.Check(s.render(c, "{{ '' | whoami }}", nil), Equals, "<string>")
}

func (s *RenderSuite) TestEnvironmentFilterSeesEnvironment(c *C) {
	s.env.RegisterEnvironmentFilter("tolerance", func(env *Environment, in Value, args []Value, kwargs map[string]Value) (Value, error) {
		return String(env.Tolerance.String()), nil
	})
	c.Check(s.render(c, "{{ '' | tolerance }}", nil), Equals, "strict")
}

func (s *RenderSuite) TestCaptureUnaffectedByWhitespaceControl(c *C) {
	for _, src := range []string{
		"{% capture n %}X{% endcapture %}{{ n }}",
		"{%- capture n -%}X{%- endcapture -%}{{ n }}",
	} {
		c.Check(s.render(c, src, nil), Equals, "X", Commentf("source: %s", src))
	}
}

func (s *RenderSuite) TestEnvironmentFromYAML(c *C) {
	env, err := NewEnvironmentYAML([]byte(strings.Join([]string{
		"tolerance: warn",
		"strict_undefined: false",
		"max_loop_iterations: 7",
		"max_local_namespace: 5",
		"max_output_bytes: 1024",
		"max_context_depth: 9",
		"stack_size: 128",
		"render_inherits_loop_limit: true",
	}, "\n")))
	c.Assert(err, IsNil)
	c.Check(env.Tolerance, Equals, ToleranceWarn)
	c.Check(env.MaxLoopIterations, Equals, 7)
	c.Check(env.MaxLocalNamespace, Equals, 5)
	c.Check(env.MaxOutputBytes, Equals, 1024)
	c.Check(env.MaxContextDepth, Equals, 9)
	c.Check(env.StackSize, Equals, 128)
	c.Check(env.RenderInheritsLoopLimit, Equals, true)
}

func (s *RenderSuite) TestEnvironmentYAMLRejectsUnknownTolerance(c *C) {
	_, err := NewEnvironmentYAML([]byte("tolerance: whatever"))
	c.Check(err, NotNil)
}

func (s *RenderSuite) TestCompiledBytecodeRoundTrip(c *C) {
	tpl, err := s.env.FromString("{% for i in (1..3) %}{{ i | times: 2 }}{% endfor %}")
	c.Assert(err, IsNil)

	data, err := EncodeProgram(tpl.Program())
	c.Assert(err, IsNil)
	decoded, err := DecodeProgram(data)
	c.Assert(err, IsNil)

	c.Check(decoded.Block.Instructions.String(), Equals, tpl.Program().Block.Instructions.String())
	c.Check(len(decoded.Constants), Equals, len(tpl.Program().Constants))
	c.Check(decoded.LocalNames, DeepEquals, tpl.Program().LocalNames)
}

func (s *RenderSuite) TestBytecodeRejectsGarbage(c *C) {
	_, err := DecodeProgram([]byte("not bytecode"))
	c.Check(err, NotNil)
}
