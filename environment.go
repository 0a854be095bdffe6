package liquidvm

import (
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	yaml "gopkg.in/yaml.v2"
)

var envLogger = loggo.GetLogger("liquidvm.environment")

// Tolerance chooses how a render reacts to a non-fatal error: abort,
// log and continue, or continue silently. Resource-limit errors and
// stack overflow abort regardless.
type Tolerance int

const (
	ToleranceStrict Tolerance = iota
	ToleranceWarn
	ToleranceLax
)

func (t Tolerance) String() string {
	switch t {
	case ToleranceStrict:
		return "strict"
	case ToleranceWarn:
		return "warn"
	case ToleranceLax:
		return "lax"
	default:
		return "unknown"
	}
}

// Environment groups engine configuration shared by every template
// created through it: the partial loader, the filter registry, the
// tolerance policy, and the resource ceilings. An Environment may be
// shared across goroutines once configured; per-render state never
// lives here.
type Environment struct {
	// Loader resolves include/render partial names. Nil disables
	// partials (every lookup reports TemplateNotFound).
	Loader TemplateLoader

	Tolerance Tolerance

	// StrictUndefined makes the first use of an unresolvable name an
	// error instead of the silent Undefined value.
	StrictUndefined bool

	// Autoescape is a reserved switch for an HTML-escaping output mode;
	// the engine records it but ships no escaper.
	Autoescape bool

	// Resource ceilings; zero disables the corresponding check.
	MaxLoopIterations int
	MaxLocalNamespace int
	MaxOutputBytes    int
	MaxContextDepth   int

	// StackSize is the VM value-stack capacity per render.
	StackSize int

	// RenderInheritsLoopLimit shares the loop-iteration budget with
	// isolated render invocations. Includes always share it.
	RenderInheritsLoopLimit bool

	filters map[string]*filterEntry

	cacheMu       sync.Mutex
	templateCache map[string]*Template
}

// NewEnvironment returns an Environment with the builtin filter set,
// strict tolerance, a context-depth ceiling of 30 and a 2048-slot value
// stack. The loop, namespace and output ceilings start at zero (off).
func NewEnvironment() *Environment {
	return &Environment{
		Tolerance:       ToleranceStrict,
		MaxContextDepth: 30,
		StackSize:       2048,
		filters:         copyFilters(builtinFilters),
		templateCache:   make(map[string]*Template),
	}
}

// environmentConfig is the YAML shape accepted by LoadYAML.
type environmentConfig struct {
	Tolerance               string `yaml:"tolerance"`
	StrictUndefined         bool   `yaml:"strict_undefined"`
	Autoescape              bool   `yaml:"autoescape"`
	MaxLoopIterations       int    `yaml:"max_loop_iterations"`
	MaxLocalNamespace       int    `yaml:"max_local_namespace"`
	MaxOutputBytes          int    `yaml:"max_output_bytes"`
	MaxContextDepth         int    `yaml:"max_context_depth"`
	StackSize               int    `yaml:"stack_size"`
	RenderInheritsLoopLimit bool   `yaml:"render_inherits_loop_limit"`
}

// LoadYAML overlays engine tuning from a YAML document onto the
// environment, so resource limits and tolerance can ship alongside a
// service's other configuration.
func (env *Environment) LoadYAML(data []byte) error {
	var cfg environmentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return errors.Annotate(err, "cannot parse environment configuration")
	}
	switch cfg.Tolerance {
	case "", "strict":
		env.Tolerance = ToleranceStrict
	case "warn":
		env.Tolerance = ToleranceWarn
	case "lax":
		env.Tolerance = ToleranceLax
	default:
		return errors.Errorf("unknown tolerance %q (want strict, warn, or lax)", cfg.Tolerance)
	}
	env.StrictUndefined = cfg.StrictUndefined
	env.Autoescape = cfg.Autoescape
	env.MaxLoopIterations = cfg.MaxLoopIterations
	env.MaxLocalNamespace = cfg.MaxLocalNamespace
	env.MaxOutputBytes = cfg.MaxOutputBytes
	if cfg.MaxContextDepth > 0 {
		env.MaxContextDepth = cfg.MaxContextDepth
	}
	if cfg.StackSize > 0 {
		env.StackSize = cfg.StackSize
	}
	env.RenderInheritsLoopLimit = cfg.RenderInheritsLoopLimit
	envLogger.Debugf("environment configured: tolerance=%s loops=%d locals=%d output=%d depth=%d",
		env.Tolerance, env.MaxLoopIterations, env.MaxLocalNamespace, env.MaxOutputBytes, env.MaxContextDepth)
	return nil
}

// NewEnvironmentYAML builds an environment from a YAML document.
func NewEnvironmentYAML(data []byte) (*Environment, error) {
	env := NewEnvironment()
	if err := env.LoadYAML(data); err != nil {
		return nil, err
	}
	return env, nil
}

// RegisterFilter adds (or replaces) a filter on this environment.
func (env *Environment) RegisterFilter(name string, fn FilterFunction) {
	env.filters[name] = &filterEntry{name: name, fn: fn}
}

// RegisterContextFilter adds a filter that receives the render state
// alongside its value and arguments.
func (env *Environment) RegisterContextFilter(name string, fn ContextFilterFunction) {
	env.filters[name] = &filterEntry{name: name, ctxFn: fn, withContext: true}
}

// RegisterEnvironmentFilter adds a filter that receives the environment
// alongside its value and arguments.
func (env *Environment) RegisterEnvironmentFilter(name string, fn EnvironmentFilterFunction) {
	env.filters[name] = &filterEntry{name: name, envFn: fn, withEnvironment: true}
}

func (env *Environment) filter(name string) (*filterEntry, bool) {
	entry, ok := env.filters[name]
	return entry, ok
}

// undefined is the value a failed name lookup produces.
func (env *Environment) undefined(name string) Value {
	return Undefined(name)
}

// FromString parses and compiles a one-off template bound to this
// environment.
func (env *Environment) FromString(src string) (*Template, error) {
	return env.newTemplate("<string>", src)
}

// GetTemplate resolves name through the configured loader, caching the
// compiled result. Loader misses surface as TemplateNotFound.
func (env *Environment) GetTemplate(name string) (*Template, error) {
	env.cacheMu.Lock()
	if tpl, ok := env.templateCache[name]; ok {
		env.cacheMu.Unlock()
		return tpl, nil
	}
	env.cacheMu.Unlock()

	if env.Loader == nil {
		return nil, errorf(KindTemplateNotFound, "loader", name, nil, "no template loader configured.")
	}
	src, err := env.Loader.Load(name)
	if err != nil {
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, newError(KindTemplateNotFound, "loader", name, nil, err)
	}
	tpl, err := env.newTemplate(name, src)
	if err != nil {
		return nil, err
	}
	env.cacheMu.Lock()
	env.templateCache[name] = tpl
	env.cacheMu.Unlock()
	return tpl, nil
}
