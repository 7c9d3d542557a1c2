package ontology

import (
	"fmt"

	biograph "github.com/brunobiangulo/biograph"
)

// ParentChain walks the parent references from the named entry up to a
// root, returning canonical names starting with the entry itself. A cycle
// in the chain is an error.
func (s *Store) ParentChain(canonical string) ([]string, error) {
	e, ok := s.LookupCanonical(canonical)
	if !ok {
		return nil, fmt.Errorf("%w: %s", biograph.ErrEntryNotFound, canonical)
	}

	visited := make(map[string]bool)
	var chain []string
	for e != nil {
		key := foldKey(e.CanonicalName)
		if visited[key] {
			return nil, fmt.Errorf("%w: via %s", biograph.ErrHierarchyCycle, e.CanonicalName)
		}
		visited[key] = true
		chain = append(chain, e.CanonicalName)

		if e.Parent == "" {
			break
		}
		next, ok := s.LookupCanonical(e.Parent)
		if !ok {
			// Dangling parent reference ends the chain.
			break
		}
		e = next
	}
	return chain, nil
}

// Children returns entries whose parent is the named entry.
func (s *Store) Children(canonical string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := foldKey(canonical)
	var out []*Entry
	for _, e := range s.entries {
		if foldKey(e.Parent) == key {
			out = append(out, e)
		}
	}
	return out
}

// Descendants collects every entry below the named one via BFS over the
// children relation.
func (s *Store) Descendants(canonical string) []*Entry {
	visited := map[string]bool{foldKey(canonical): true}
	queue := []string{canonical}
	var out []*Entry

	for len(queue) > 0 {
		var next []string
		for _, name := range queue {
			for _, child := range s.Children(name) {
				key := foldKey(child.CanonicalName)
				if visited[key] {
					continue
				}
				visited[key] = true
				out = append(out, child)
				next = append(next, child.CanonicalName)
			}
		}
		queue = next
	}
	return out
}

// SetParent sets the parent of canonical, rejecting assignments that would
// make the parent chain circular. Used when a review merge attaches a stub
// under an existing organization.
func (s *Store) SetParent(canonical, parent string) error {
	if _, ok := s.LookupCanonical(canonical); !ok {
		return fmt.Errorf("%w: %s", biograph.ErrEntryNotFound, canonical)
	}
	if parent != "" {
		if _, ok := s.LookupCanonical(parent); !ok {
			return fmt.Errorf("%w: parent %s", biograph.ErrEntryNotFound, parent)
		}
		chain, err := s.ParentChain(parent)
		if err != nil {
			return err
		}
		for _, name := range chain {
			if foldKey(name) == foldKey(canonical) {
				return fmt.Errorf("%w: %s would become its own ancestor", biograph.ErrHierarchyCycle, canonical)
			}
		}
	}
	return s.Update(canonical, func(e *Entry) {
		e.Parent = parent
	})
}
