package nodestate

import (
	"slices"
	"sync"
)

// EmptyNode is an existing node without properties or children.
var EmptyNode = NewNodeState(nil, nil)

// MemoryNodeState is an immutable in-memory node. Children may be of any
// NodeState implementation; unmodified subtrees produced by a builder are
// shared with the builder's base.
type MemoryNodeState struct {
	props    map[string]PropertyState
	children map[string]NodeState

	propNames  []string
	childNames []string

	fpOnce sync.Once
	fp     Digest
	fpErr  error
}

// NewNodeState creates a node from properties and children. Later properties
// with the same name replace earlier ones; non-existing children are dropped.
func NewNodeState(props []PropertyState, children map[string]NodeState) *MemoryNodeState {
	s := &MemoryNodeState{
		props:    make(map[string]PropertyState, len(props)),
		children: make(map[string]NodeState, len(children)),
	}
	for _, p := range props {
		s.props[p.Name()] = p
	}
	for name, child := range children {
		if child != nil && child.Exists() {
			s.children[name] = child
		}
	}
	s.propNames = sortedKeys(s.props)
	s.childNames = sortedKeys(s.children)
	return s
}

// Exists always returns true.
func (s *MemoryNodeState) Exists() bool { return true }

// Property returns the named property.
func (s *MemoryNodeState) Property(name string) (PropertyState, bool) {
	p, ok := s.props[name]
	return p, ok
}

// HasProperty reports whether the named property exists.
func (s *MemoryNodeState) HasProperty(name string) bool {
	_, ok := s.props[name]
	return ok
}

// Properties returns all properties sorted by name.
func (s *MemoryNodeState) Properties() []PropertyState {
	out := make([]PropertyState, 0, len(s.propNames))
	for _, name := range s.propNames {
		out = append(out, s.props[name])
	}
	return out
}

// PropertyCount returns the number of properties.
func (s *MemoryNodeState) PropertyCount() int { return len(s.props) }

// ChildNode returns the named child or MissingNode.
func (s *MemoryNodeState) ChildNode(name string) NodeState {
	if child, ok := s.children[name]; ok {
		return child
	}
	return MissingNode
}

// HasChildNode reports whether the named child exists.
func (s *MemoryNodeState) HasChildNode(name string) bool {
	_, ok := s.children[name]
	return ok
}

// ChildNodeNames returns the sorted child names.
func (s *MemoryNodeState) ChildNodeNames() []string { return slices.Clone(s.childNames) }

// ChildNodeCount returns the number of children.
func (s *MemoryNodeState) ChildNodeCount() int { return len(s.children) }

// Builder returns a new root builder based on this state.
func (s *MemoryNodeState) Builder() Builder { return NewBuilder(s) }

// CompareAgainstBase reports the differences between s and base to diff.
func (s *MemoryNodeState) CompareAgainstBase(base NodeState, diff Diff) bool {
	return Compare(s, base, diff)
}

// Fingerprint returns the structural digest of the subtree rooted at s. It is
// computed once and cached.
func (s *MemoryNodeState) Fingerprint() (Digest, error) {
	s.fpOnce.Do(func() {
		s.fp, s.fpErr = computeFingerprint(s)
	})
	return s.fp, s.fpErr
}

// Identical reports whether other is known to be structurally equal to s
// without walking both trees.
func (s *MemoryNodeState) Identical(other NodeState) bool {
	o, ok := other.(*MemoryNodeState)
	if !ok {
		return false
	}
	if s == o {
		return true
	}
	a, err := s.Fingerprint()
	if err != nil {
		return false
	}
	b, err := o.Fingerprint()
	if err != nil {
		return false
	}
	return a == b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
