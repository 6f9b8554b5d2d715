package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a field does not exist.
	ErrNotFound = errors.New("config: field not found")
	// ErrInvalid is returned when a field has the wrong shape or type.
	ErrInvalid = errors.New("config: invalid field")
)

// Tree is a read-only view of a YAML mapping.
type Tree struct {
	node *yaml.Node
}

// Parse parses a YAML document whose root is a mapping.
func Parse(data []byte) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return &Tree{node: &yaml.Node{Kind: yaml.MappingNode}}, nil
		}
		root = root.Content[0]
	}
	if root.Kind == 0 {
		return &Tree{node: &yaml.Node{Kind: yaml.MappingNode}}, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document root must be a mapping", ErrInvalid)
	}
	return &Tree{node: root}, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Has reports whether the field at name exists.
func (t *Tree) Has(name string) bool {
	_, err := t.lookup(name)
	return err == nil
}

// Sub returns the mapping at name as a Tree.
func (t *Tree) Sub(name string) (*Tree, error) {
	n, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %q is not a mapping", ErrInvalid, name)
	}
	return &Tree{node: n}, nil
}

// Int returns the integer at name.
func (t *Tree) Int(name string) (int, error) {
	n, err := t.lookup(name)
	if err != nil {
		return 0, err
	}
	v, err := scalarInt(n)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalid, name, err)
	}
	return v, nil
}

// Ints returns the integers at name. A scalar integer yields a one-element
// slice. Empty arrays and arrays with non-integer entries are rejected.
func (t *Tree) Ints(name string) ([]int, error) {
	n, err := t.lookup(name)
	if err != nil {
		return nil, err
	}

	if n.Kind == yaml.ScalarNode {
		v, err := scalarInt(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalid, name, err)
		}
		return []int{v}, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: %q must be an integer or an array of integers", ErrInvalid, name)
	}
	if len(n.Content) == 0 {
		return nil, fmt.Errorf("%w: %q is an empty array", ErrInvalid, name)
	}

	out := make([]int, 0, len(n.Content))
	for i, item := range n.Content {
		v, err := scalarInt(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %q entry %d: %w", ErrInvalid, name, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Tree) lookup(name string) (*yaml.Node, error) {
	if t == nil || t.node == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	n := t.node
	for _, part := range strings.Split(name, ".") {
		if n.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		var next *yaml.Node
		// Content holds alternating key and value nodes.
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		n = next
	}

	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n, nil
}

func scalarInt(n *yaml.Node) (int, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!int" {
		return 0, fmt.Errorf("not an integer: %q", n.Value)
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return 0, err
	}
	return v, nil
}
