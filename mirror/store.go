package mirror

import "sort"

// Store maps remote node ids to their mirrors. It holds every node that is
// currently part of the mirrored tree, the document included (id 0).
type Store struct {
	nodes map[NodeID]*Node
}

func newStore() *Store {
	return &Store{nodes: make(map[NodeID]*Node)}
}

// Get returns the node mirrored under id.
func (s *Store) Get(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Len returns the number of mirrored nodes, the document included.
func (s *Store) Len() int { return len(s.nodes) }

// IDs returns all mirrored ids in ascending order.
func (s *Store) IDs() []NodeID {
	ids := make([]NodeID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) put(n *Node) {
	s.nodes[n.id] = n
}

// deleteSubtree forgets n and every mirrored descendant.
func (s *Store) deleteSubtree(n *Node) {
	for _, c := range n.children {
		s.deleteSubtree(c)
	}
	if s.nodes[n.id] == n {
		delete(s.nodes, n.id)
	}
}
