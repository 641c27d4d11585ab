package weapon

// Registry is the non-global kind->specification collaborator (spec.md §9's
// "singleton factory" redesign note, mirrored here the same way
// internal/plan.Registry mirrors it for planners): constructed explicitly
// and passed into the bank, never reached through a package-level global.
type Registry struct {
	specs map[Kind]Specification
}

// NewRegistry builds a Registry pre-populated with DefaultSpecification for
// every kind named in spec.md §3.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[Kind]Specification)}
	for _, k := range []Kind{KindALM, KindASM, KindAAM, KindWGT, KindMMINE, KindNA} {
		r.specs[k] = DefaultSpecification(string(k))
	}
	return r
}

// SetSpecification overrides the specification used for kind.
func (r *Registry) SetSpecification(k Kind, spec Specification) {
	r.specs[k] = spec
}

// New constructs a Weapon of kind bound to tubeNumber using the registered
// specification, or (nil, false) if kind is unregistered.
func (r *Registry) New(kind Kind, tubeNumber int, opts ...Option) (*Weapon, bool) {
	spec, ok := r.specs[kind]
	if !ok {
		return nil, false
	}
	return New(kind, tubeNumber, spec, opts...), true
}

// Supported reports whether kind has a registered specification.
func (r *Registry) Supported(kind Kind) bool {
	_, ok := r.specs[kind]
	return ok
}
