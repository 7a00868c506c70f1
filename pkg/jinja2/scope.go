package jinja2

// Scope is one frame of the variable lookup chain. Child frames shadow
// their parents; Set always writes the receiving frame.
type Scope struct {
	vars   map[string]any
	parent *Scope
}

// NewScope creates an empty frame below parent (which may be nil).
func NewScope(parent *Scope) *Scope {
	return &Scope{vars: map[string]any{}, parent: parent}
}

// Get walks the chain from this frame to the root.
func (s *Scope) Get(name string) (any, bool) {
	for f := s; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds name in this frame.
func (s *Scope) Set(name string, v any) {
	s.vars[name] = v
}

// SetAll binds every entry of vars in this frame.
func (s *Scope) SetAll(vars map[string]any) {
	for k, v := range vars {
		s.vars[k] = v
	}
}

// Parent returns the enclosing frame.
func (s *Scope) Parent() *Scope { return s.parent }

// Names lists the names visible from this frame, innermost first.
func (s *Scope) Names() []string {
	seen := map[string]bool{}
	var out []string
	for f := s; f != nil; f = f.parent {
		for _, k := range sortedKeys(f.vars) {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
