package satchel

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestJSONCodec(t *testing.T) {
	codec := JSONCodec{}

	t.Run("round trip", func(t *testing.T) {
		data, err := codec.Marshal(map[string]any{"a": "b"})
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var out map[string]any
		if err := codec.Unmarshal(data, &out); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if out["a"] != "b" {
			t.Errorf("expected b, got %v", out["a"])
		}
	})

	t.Run("nil", func(t *testing.T) {
		data, err := codec.Marshal(nil)
		if err != nil {
			t.Fatalf("Marshal nil failed: %v", err)
		}
		if string(data) != "null" {
			t.Errorf("expected 'null', got %q", string(data))
		}
	})

	t.Run("content type", func(t *testing.T) {
		if ct := codec.ContentType(); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
	})
}

// nested builds a derivative tree of the given depth with two children per
// branch.
func nested(depth int, prefix string) Tree {
	if depth == 0 {
		return leafAt("store", prefix+".jpg")
	}
	return Branch{
		"left":  nested(depth-1, prefix+"l"),
		"right": nested(depth-1, prefix+"r"),
	}
}

func TestTree_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tree Tree
	}{
		{"nil", nil},
		{"single", leafAt("cache", "abc123.jpg")},
		{"versions", Branch{"thumb": leafAt("store", "t.jpg"), "large": leafAt("store", "l.jpg")}},
		{"derivatives", sampleDerivatives()},
	}
	for depth := 1; depth <= 5; depth++ {
		tests = append(tests, struct {
			name string
			tree Tree
		}{fmt.Sprintf("depth %d", depth), nested(depth, "f")})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalTree(tt.tree)
			if err != nil {
				t.Fatalf("MarshalTree failed: %v", err)
			}
			got, err := UnmarshalTree(data)
			if err != nil {
				t.Fatalf("UnmarshalTree failed: %v", err)
			}
			if !Equal(got, tt.tree) {
				t.Errorf("round trip changed the tree: %s", data)
			}
			if len(Leaves(got)) != len(Leaves(tt.tree)) {
				t.Errorf("expected %d leaves, got %d", len(Leaves(tt.tree)), len(Leaves(got)))
			}
		})
	}
}

func TestTree_RoundTripMetadata(t *testing.T) {
	tree := NewLeaf(StoredFile{Storage: "store", ID: "a.jpg", Metadata: map[string]any{
		MetaFilename: "photo.jpg",
		MetaSize:     int64(42),
	}})
	data, err := MarshalTree(tree)
	if err != nil {
		t.Fatalf("MarshalTree failed: %v", err)
	}
	got, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree failed: %v", err)
	}
	f := got.(Leaf).File
	if f.Filename() != "photo.jpg" {
		t.Errorf("expected filename photo.jpg, got %q", f.Filename())
	}
	if size, ok := f.Size(); !ok || size != 42 {
		t.Errorf("expected size 42, got %d (%v)", size, ok)
	}
}

func TestMarshalTree_ColumnFormat(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		data, err := MarshalTree(NewLeaf(StoredFile{Storage: "cache", ID: "abc123.jpg"}))
		if err != nil {
			t.Fatalf("MarshalTree failed: %v", err)
		}
		want := `{"id":"abc123.jpg","metadata":{},"storage":"cache"}`
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	})

	t.Run("versions", func(t *testing.T) {
		data, err := MarshalTree(Branch{
			"thumb": NewLeaf(StoredFile{Storage: "store", ID: "a.jpg"}),
			"large": NewLeaf(StoredFile{Storage: "store", ID: "b.jpg"}),
		})
		if err != nil {
			t.Fatalf("MarshalTree failed: %v", err)
		}
		var column map[string]map[string]any
		if err := json.Unmarshal(data, &column); err != nil {
			t.Fatalf("column is not a map of leaves: %v", err)
		}
		if len(column) != 2 || column["thumb"]["id"] != "a.jpg" || column["large"]["storage"] != "store" {
			t.Errorf("unexpected column %s", data)
		}
	})

	t.Run("nil", func(t *testing.T) {
		data, err := MarshalTree(nil)
		if err != nil {
			t.Fatalf("MarshalTree failed: %v", err)
		}
		if string(data) != "null" {
			t.Errorf("expected null, got %s", data)
		}
	})
}

func TestUnmarshalTree(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		for _, in := range []string{"", "  ", "null", " null\n"} {
			tree, err := UnmarshalTree([]byte(in))
			if err != nil || tree != nil {
				t.Errorf("%q: expected nil tree, got %v, %v", in, tree, err)
			}
		}
	})

	t.Run("storage key marks a leaf", func(t *testing.T) {
		tree, err := UnmarshalTree([]byte(`{"a":{"storage":"store","id":"1"},"b":{"c":{"storage":"store","id":"2"}}}`))
		if err != nil {
			t.Fatalf("UnmarshalTree failed: %v", err)
		}
		if _, ok := tree.(Branch)["a"].(Leaf); !ok {
			t.Error("node with storage key should be a leaf")
		}
		if _, ok := tree.(Branch)["b"].(Branch); !ok {
			t.Error("node without storage key should be a branch")
		}
	})

	t.Run("missing metadata", func(t *testing.T) {
		tree, err := UnmarshalTree([]byte(`{"storage":"store","id":"1"}`))
		if err != nil {
			t.Fatalf("UnmarshalTree failed: %v", err)
		}
		if tree.(Leaf).File.Metadata == nil {
			t.Error("metadata should default to an empty map")
		}
	})

	invalid := []struct {
		name string
		data string
	}{
		{"malformed", `{"storage":`},
		{"not an object", `["a"]`},
		{"scalar child", `{"thumb":"a.jpg"}`},
		{"empty id", `{"storage":"store","id":""}`},
		{"numeric storage", `{"storage":1,"id":"a"}`},
		{"metadata not an object", `{"storage":"store","id":"a","metadata":[1]}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalTree([]byte(tt.data))
			if !errors.Is(err, ErrInvalidTree) {
				t.Errorf("expected ErrInvalidTree, got %v", err)
			}
		})
	}
}

type yamlCodec struct{}

func (yamlCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (yamlCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (yamlCodec) ContentType() string                { return "application/yaml" }

func TestEncodeTree_OtherCodec(t *testing.T) {
	tree := sampleDerivatives()
	data, err := EncodeTree(yamlCodec{}, tree)
	if err != nil {
		t.Fatalf("EncodeTree failed: %v", err)
	}
	got, err := DecodeTree(yamlCodec{}, data)
	if err != nil {
		t.Fatalf("DecodeTree failed: %v", err)
	}
	if !Equal(got, tree) {
		t.Errorf("yaml round trip changed the tree:\n%s", data)
	}
}
