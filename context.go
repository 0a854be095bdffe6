package liquidvm

// Context is the caller-supplied, read-only variable set a template
// renders against. Template examples:
//
//	{{ user.name }}
//	{% for item in items %}{{ item }}{% endfor %}
type Context map[string]any

// extensionFrame supplies additional name bindings that shadow outer
// ones: pushed by loop bodies (forloop/tablerowloop), include's `with`
// clause, and render's bound/for-each variables.
type extensionFrame map[string]Value

// cycleState tracks one `{% cycle %}` group's rotation index.
type cycleState struct {
	index int
}

// renderContext is the full per-render state machine memory:
// globals, locals, extension frames, cycle/counter state, and resource
// counters.
type renderContext struct {
	env     *Environment
	globals Context

	// locals is written by assign/capture/increment/decrement and is
	// shared across for/tablerow bodies: an assign inside a loop stays
	// visible after the loop ends.
	locals map[string]Value

	frames []extensionFrame

	cycles     map[string]*cycleState
	counters   map[string]int64

	loopIterations int64
	outputBytes    int64
	contextDepth   int

	tplName string
}

func newRenderContext(env *Environment, globals Context, tplName string) *renderContext {
	return &renderContext{
		env:      env,
		globals:  globals,
		locals:   make(map[string]Value),
		cycles:   make(map[string]*cycleState),
		counters: make(map[string]int64),
		tplName:  tplName,
	}
}

// isolated returns a context for a `render` invocation: fresh locals and
// counters, but the same globals and resource budgets.
func (rc *renderContext) isolated(tplName string) *renderContext {
	return &renderContext{
		env:          rc.env,
		globals:      rc.globals,
		locals:       make(map[string]Value),
		cycles:       make(map[string]*cycleState),
		counters:     make(map[string]int64),
		contextDepth: rc.contextDepth,
		tplName:      tplName,
	}
}

func (rc *renderContext) pushFrame(f extensionFrame) { rc.frames = append(rc.frames, f) }
func (rc *renderContext) popFrame()                  { rc.frames = rc.frames[:len(rc.frames)-1] }

// resolve implements the RESOLVE lookup chain: extension
// frames (innermost first), then locals, then counters, then globals,
// then Undefined. Counters sit below locals so an assign with the same
// name shadows its counter.
func (rc *renderContext) resolve(name string) Value {
	for i := len(rc.frames) - 1; i >= 0; i-- {
		if v, ok := rc.frames[i][name]; ok {
			return v
		}
	}
	if v, ok := rc.locals[name]; ok {
		return v
	}
	if v, ok := rc.counters[name]; ok {
		return Int(v)
	}
	if v, ok := rc.globals[name]; ok {
		return FromGo(v)
	}
	return rc.env.undefined(name)
}

// setLocal writes name into locals, enforcing the configured namespace
// size ceiling.
func (rc *renderContext) setLocal(name string, v Value) error {
	if _, exists := rc.locals[name]; !exists {
		if rc.env.MaxLocalNamespace > 0 && len(rc.locals) >= rc.env.MaxLocalNamespace {
			return errorf(KindLocalNamespaceLimit, "vm", rc.tplName, nil,
				"local namespace size exceeds the configured limit of %d.", rc.env.MaxLocalNamespace)
		}
	}
	rc.locals[name] = v
	return nil
}

// incrLoop bumps the shared loop-iteration counter, enforcing the
// configured ceiling. The counter is shared across included partials by
// way of the shared *renderContext; an isolated render inherits it only
// when the environment says so.
func (rc *renderContext) incrLoop() error {
	rc.loopIterations++
	if rc.env.MaxLoopIterations > 0 && rc.loopIterations > int64(rc.env.MaxLoopIterations) {
		return errorf(KindLoopIterationLimit, "vm", rc.tplName, nil,
			"loop iteration count exceeds the configured limit of %d.", rc.env.MaxLoopIterations)
	}
	return nil
}

func (rc *renderContext) incrDepth(sender string) error {
	rc.contextDepth++
	if rc.env.MaxContextDepth > 0 && rc.contextDepth > rc.env.MaxContextDepth {
		return errorf(KindContextDepth, sender, rc.tplName, nil,
			"context depth exceeds the configured limit of %d.", rc.env.MaxContextDepth)
	}
	return nil
}

// cycleKey derives the per-group key for `{% cycle %}`: the explicit
// group name if given, otherwise the concatenation of the value list.
func cycleKey(group string, values []Value) string {
	if group != "" {
		return "g:" + group
	}
	key := "v:"
	for _, v := range values {
		key += v.String() + "\x00"
	}
	return key
}

func (rc *renderContext) nextCycle(key string, n int) int {
	st, ok := rc.cycles[key]
	if !ok {
		st = &cycleState{}
		rc.cycles[key] = st
	}
	idx := st.index % n
	st.index++
	return idx
}

func (rc *renderContext) increment(name string) int64 {
	v := rc.counters[name]
	rc.counters[name] = v + 1
	return v
}

func (rc *renderContext) decrement(name string) int64 {
	v := rc.counters[name] - 1
	rc.counters[name] = v
	return v
}
