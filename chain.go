package keel

import (
	"fmt"
	"reflect"
	"sort"
)

// chainItem records one identifier on the active compilation path.
type chainItem struct {
	order    int
	implType reflect.Type
}

// callSiteChain is the set of identifiers currently being compiled along one
// recursion path. Meeting an identifier that is already on the path means the
// graph is cyclic; the chain renders the full path for the error. A chain is
// used by a single goroutine and needs no locking.
type callSiteChain struct {
	items map[serviceIdentifier]chainItem
}

func newCallSiteChain() *callSiteChain {
	return &callSiteChain{items: make(map[serviceIdentifier]chainItem)}
}

func (c *callSiteChain) checkCircularDependency(id serviceIdentifier) error {
	if _, ok := c.items[id]; ok {
		return ErrCircularDependency(c.cyclePath(id))
	}

	return nil
}

func (c *callSiteChain) add(id serviceIdentifier, implType reflect.Type) {
	c.items[id] = chainItem{order: len(c.items), implType: implType}
}

func (c *callSiteChain) remove(id serviceIdentifier) {
	delete(c.items, id)
}

// String renders the active path in compilation order, for inclusion in
// cannot-resolve errors.
func (c *callSiteChain) String() string {
	return joinChain(c.orderedNames())
}

func (c *callSiteChain) cyclePath(closing serviceIdentifier) []string {
	path := c.orderedNames()
	return append(path, closing.String())
}

func (c *callSiteChain) orderedNames() []string {
	type entry struct {
		order int
		name  string
	}

	entries := make([]entry, 0, len(c.items))
	for id, item := range c.items {
		name := id.String()
		if item.implType != nil && item.implType != id.serviceType {
			name = fmt.Sprintf("%s(%s)", id, item.implType)
		}

		entries = append(entries, entry{order: item.order, name: name})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}

	return names
}
