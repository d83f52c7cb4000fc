package kb

// ScopedRegistry is a thin view over a Registry with the scope fixed.
type ScopedRegistry struct {
	scope string
	reg   *Registry
}

// Scope returns the bound scope.
func (s *ScopedRegistry) Scope() string { return s.scope }

func (s *ScopedRegistry) Register(kind, name string, obj any) (any, error) {
	return s.reg.Register(s.scope, kind, name, obj)
}

func (s *ScopedRegistry) Get(kind, name string) (any, error) {
	return s.reg.Get(s.scope, kind, name)
}

func (s *ScopedRegistry) Has(kind, name string) bool {
	return s.reg.Has(s.scope, kind, name)
}

func (s *ScopedRegistry) GetByKind(kind string) []any {
	return s.reg.GetByKind(s.scope, kind)
}

// GetAll returns every object in the bound scope.
func (s *ScopedRegistry) GetAll() []any {
	return s.reg.GetByScope(s.scope)
}
