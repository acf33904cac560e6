package satchel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec serializes attachment column data.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

// JSONCodec implements Codec using JSON encoding.
type JSONCodec struct{}

// Marshal serializes a value to JSON bytes.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON bytes into a value.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// TreeData converts tree to its JSON-compatible column shape:
// leaves become {"storage", "id", "metadata"} maps, branches become maps of
// name to sub-tree. A nil tree yields nil.
func TreeData(tree Tree) any {
	switch t := tree.(type) {
	case Leaf:
		meta := t.File.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		return map[string]any{
			"storage":  t.File.Storage,
			"id":       t.File.ID,
			"metadata": meta,
		}
	case Branch:
		out := make(map[string]any, len(t))
		for name, sub := range t {
			out[name] = TreeData(sub)
		}
		return out
	}
	return nil
}

// ParseTreeData is the inverse of TreeData. A node carrying a "storage" key
// is a leaf; any other map is a branch and is parsed recursively.
func ParseTreeData(data any) (Tree, error) {
	if data == nil {
		return nil, nil
	}
	return parseNode(data, "")
}

func parseNode(data any, at string) (Tree, error) {
	node, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: node %q is %T, not an object", ErrInvalidTree, at, data)
	}
	if raw, isLeaf := node[reservedName]; isLeaf {
		storage, _ := raw.(string)
		id, _ := node["id"].(string)
		if storage == "" || id == "" {
			return nil, fmt.Errorf("%w: leaf %q needs string storage and id", ErrInvalidTree, at)
		}
		var meta map[string]any
		switch m := node["metadata"].(type) {
		case nil:
			meta = map[string]any{}
		case map[string]any:
			meta = m
		default:
			return nil, fmt.Errorf("%w: leaf %q metadata is %T", ErrInvalidTree, at, m)
		}
		return Leaf{File: StoredFile{Storage: storage, ID: id, Metadata: meta}}, nil
	}
	branch := make(Branch, len(node))
	for name, sub := range node {
		child, err := parseNode(sub, at+"/"+name)
		if err != nil {
			return nil, err
		}
		branch[name] = child
	}
	return branch, nil
}

// EncodeTree serializes tree with codec. A nil tree encodes as the codec's null.
func EncodeTree(codec Codec, tree Tree) ([]byte, error) {
	return codec.Marshal(TreeData(tree))
}

// DecodeTree deserializes column data produced by EncodeTree.
// Empty input and null both decode to a nil tree.
func DecodeTree(codec Codec, data []byte) (Tree, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var raw any
	if err := codec.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTree, err)
	}
	return ParseTreeData(raw)
}

// MarshalTree serializes tree to the JSON column format.
func MarshalTree(tree Tree) ([]byte, error) {
	return EncodeTree(JSONCodec{}, tree)
}

// UnmarshalTree parses the JSON column format.
func UnmarshalTree(data []byte) (Tree, error) {
	return DecodeTree(JSONCodec{}, data)
}
