package keel

// descriptorChain holds every descriptor registered for one identifier, in
// registration order. Plain lookups return the last entry; sequence
// resolution enumerates all of them. Slots run in reverse registration order
// so the last registration always holds slot 0 and shares its cache entry
// with plain resolution.
type descriptorChain struct {
	items []*ServiceDescriptor
}

func (c *descriptorChain) add(d *ServiceDescriptor) {
	c.items = append(c.items, d)
}

func (c *descriptorChain) last() *ServiceDescriptor {
	return c.items[len(c.items)-1]
}

func (c *descriptorChain) slotOf(d *ServiceDescriptor) int {
	for i := len(c.items) - 1; i >= 0; i-- {
		if c.items[i] == d {
			return len(c.items) - 1 - i
		}
	}

	return 0
}

// descriptorRegistry is the immutable, ordered set of service descriptors a
// provider was built from, indexed by identifier for last-wins lookup.
type descriptorRegistry struct {
	descriptors []*ServiceDescriptor
	lookup      map[serviceIdentifier]*descriptorChain
}

func newDescriptorRegistry(descriptors []*ServiceDescriptor) *descriptorRegistry {
	r := &descriptorRegistry{
		descriptors: make([]*ServiceDescriptor, len(descriptors)),
		lookup:      make(map[serviceIdentifier]*descriptorChain),
	}
	copy(r.descriptors, descriptors)

	for _, d := range r.descriptors {
		id := d.identifier()

		chain, ok := r.lookup[id]
		if !ok {
			chain = &descriptorChain{}
			r.lookup[id] = chain
		}

		chain.add(d)
	}

	return r
}

func (r *descriptorRegistry) chainFor(id serviceIdentifier) (*descriptorChain, bool) {
	chain, ok := r.lookup[id]
	return chain, ok
}

func (r *descriptorRegistry) all() []*ServiceDescriptor {
	return r.descriptors
}
