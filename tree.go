package satchel

import (
	"context"
	"slices"
)

// Tree is the content of an attachment: either a Leaf holding one stored
// file or a Branch of named sub-trees (versions or derivatives).
// A nil Tree means nothing is attached.
type Tree interface {
	isTree()
}

// Leaf is a Tree holding a single stored file.
type Leaf struct {
	File StoredFile
}

// Branch is a Tree of named sub-trees.
type Branch map[string]Tree

func (Leaf) isTree()   {}
func (Branch) isTree() {}

// NewLeaf wraps f in a Leaf.
func NewLeaf(f StoredFile) Leaf {
	return Leaf{File: f}
}

// sortedNames returns branch names in a stable order so every walk over the
// same tree visits leaves identically.
func sortedNames(b Branch) []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ForEachLeaf calls fn for every leaf of tree with the path of branch names
// leading to it. The walk stops at the first error, which is returned.
func ForEachLeaf(tree Tree, fn func(path []string, f StoredFile) error) error {
	return walk(tree, nil, fn)
}

func walk(tree Tree, prefix []string, fn func([]string, StoredFile) error) error {
	switch t := tree.(type) {
	case Leaf:
		return fn(slices.Clone(prefix), t.File)
	case Branch:
		for _, name := range sortedNames(t) {
			if err := walk(t[name], append(prefix, name), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Leaves returns every stored file in tree.
func Leaves(tree Tree) []StoredFile {
	var files []StoredFile
	_ = ForEachLeaf(tree, func(_ []string, f StoredFile) error {
		files = append(files, f)
		return nil
	})
	return files
}

// Map returns a structurally identical tree with fn applied to every leaf.
// tree itself is not modified.
func Map(tree Tree, fn func(path []string, f StoredFile) (StoredFile, error)) (Tree, error) {
	return mapTree(tree, nil, fn)
}

func mapTree(tree Tree, prefix []string, fn func([]string, StoredFile) (StoredFile, error)) (Tree, error) {
	switch t := tree.(type) {
	case Leaf:
		f, err := fn(slices.Clone(prefix), t.File)
		if err != nil {
			return nil, err
		}
		return Leaf{File: f}, nil
	case Branch:
		out := make(Branch, len(t))
		for _, name := range sortedNames(t) {
			sub, err := mapTree(t[name], append(prefix, name), fn)
			if err != nil {
				return nil, err
			}
			out[name] = sub
		}
		return out, nil
	}
	return nil, nil
}

// MapParallel is Map with leaves processed concurrently by at most size
// workers. The first failure aborts the batch and is returned as a *TaskError.
func MapParallel(ctx context.Context, tree Tree, size int, fn func(ctx context.Context, path []string, f StoredFile) (StoredFile, error)) (Tree, error) {
	type job struct {
		path []string
		file StoredFile
	}
	var jobs []job
	_ = ForEachLeaf(tree, func(path []string, f StoredFile) error {
		jobs = append(jobs, job{path: path, file: f})
		return nil
	})

	results := make([]StoredFile, len(jobs))
	tasks := make([]Task, len(jobs))
	for i, j := range jobs {
		tasks[i] = func(ctx context.Context) error {
			f, err := fn(ctx, j.path, j.file)
			if err != nil {
				return err
			}
			results[i] = f
			return nil
		}
	}
	if err := Parallel(ctx, size, tasks...); err != nil {
		return nil, err
	}

	// Map walks leaves in the same order ForEachLeaf collected them.
	next := 0
	return Map(tree, func(_ []string, _ StoredFile) (StoredFile, error) {
		f := results[next]
		next++
		return f, nil
	})
}

// Equal reports whether a and b have the same shape and reference the same
// files. Metadata is not compared.
func Equal(a, b Tree) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Leaf:
		y, ok := b.(Leaf)
		return ok && x.File.Equal(y.File)
	case Branch:
		y, ok := b.(Branch)
		if !ok || len(x) != len(y) {
			return false
		}
		for name, sub := range x {
			other, ok := y[name]
			if !ok || !Equal(sub, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Lookup returns the sub-tree reached by following path from tree.
// An empty path returns tree itself.
func Lookup(tree Tree, path ...string) (Tree, bool) {
	if tree == nil {
		return nil, false
	}
	for _, name := range path {
		b, ok := tree.(Branch)
		if !ok {
			return nil, false
		}
		tree, ok = b[name]
		if !ok {
			return nil, false
		}
	}
	return tree, true
}

// Paths returns the branch-name path of every leaf in tree.
func Paths(tree Tree) [][]string {
	var paths [][]string
	_ = ForEachLeaf(tree, func(path []string, _ StoredFile) error {
		paths = append(paths, path)
		return nil
	})
	return paths
}

// inStorage reports whether every leaf of tree lives in the storage key.
// An empty tree is trivially in any storage.
func inStorage(tree Tree, key string) bool {
	for _, f := range Leaves(tree) {
		if f.Storage != key {
			return false
		}
	}
	return true
}
