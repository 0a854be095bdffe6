package liquidvm

// TemplateLoader resolves the names used by include/render to template
// source text. Implementations may front a map, a file system, or
// remote storage; a miss must be reported as a TemplateNotFound error
// so the engine can apply its tolerance policy.
type TemplateLoader interface {
	Load(name string) (string, error)
}

// MapLoader serves partials from an in-memory name-to-source map.
type MapLoader map[string]string

// Load returns the source registered under name.
func (m MapLoader) Load(name string) (string, error) {
	src, ok := m[name]
	if !ok {
		return "", errorf(KindTemplateNotFound, "loader", name, nil, "template %q not found.", name)
	}
	return src, nil
}

// LoaderFunc adapts a plain function to the TemplateLoader interface.
type LoaderFunc func(name string) (string, error)

func (f LoaderFunc) Load(name string) (string, error) { return f(name) }
