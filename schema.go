package satchel

import (
	"fmt"
	"slices"
	"strings"
)

// reservedName cannot be used as a branch name: the column format uses it to
// tell leaves from branches.
const reservedName = "storage"

type schemaKind int

const (
	schemaSingle schemaKind = iota
	schemaVersions
	schemaDerivatives
)

// Schema constrains the shape of an attachment tree.
//
// Single attachments hold one file. Versions attachments hold branches whose
// names come from a fixed, declared set at every level. Derivatives
// attachments allow free-form names nested to any depth.
type Schema struct {
	kind  schemaKind
	names []string
}

// Single accepts exactly one file per attachment.
func Single() Schema {
	return Schema{kind: schemaSingle}
}

// Versions accepts named variants drawn from names.
func Versions(names ...string) Schema {
	declared := slices.Clone(names)
	slices.Sort(declared)
	return Schema{kind: schemaVersions, names: slices.Compact(declared)}
}

// Derivatives accepts arbitrarily nested, free-form variant trees.
func Derivatives() Schema {
	return Schema{kind: schemaDerivatives}
}

// Names returns the declared version names, sorted.
func (s Schema) Names() []string {
	return slices.Clone(s.names)
}

func (s Schema) String() string {
	switch s.kind {
	case schemaVersions:
		return "versions(" + strings.Join(s.names, ",") + ")"
	case schemaDerivatives:
		return "derivatives"
	default:
		return "single"
	}
}

// Allows reports whether name may be used as a branch name.
func (s Schema) Allows(name string) error {
	switch {
	case name == "" || name == reservedName:
		return fmt.Errorf("%w: %q is reserved", ErrUnknownVariant, name)
	case s.kind == schemaSingle:
		return fmt.Errorf("%w: %q (attachment holds a single file)", ErrUnknownVariant, name)
	case s.kind == schemaVersions:
		if _, ok := slices.BinarySearch(s.names, name); !ok {
			return fmt.Errorf("%w: %q not in %v", ErrUnknownVariant, name, s.names)
		}
	}
	return nil
}

// Validate checks every branch name in tree against the schema.
func (s Schema) Validate(tree Tree) error {
	switch t := tree.(type) {
	case nil, Leaf:
		return nil
	case Branch:
		for _, name := range sortedNames(t) {
			if err := s.Allows(name); err != nil {
				return err
			}
			if err := s.Validate(t[name]); err != nil {
				return err
			}
		}
	}
	return nil
}
