package satchel

import (
	"context"
	"io"
	"slices"
	"sync"
)

// Raw is unprocessed upload input: a RawFile or a RawVariants tree.
type Raw interface {
	isRaw()
}

// RawFile is a single uploaded stream.
type RawFile struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Metadata    map[string]any
}

// RawVariants maps variant names to raw sub-trees.
type RawVariants map[string]Raw

func (RawFile) isRaw()     {}
func (RawVariants) isRaw() {}

// NewRawFile wraps r as a RawFile with the given original filename.
func NewRawFile(r io.Reader, filename, contentType string) RawFile {
	return RawFile{Reader: r, Filename: filename, ContentType: contentType}
}

// validateRaw checks every variant name in raw against schema before any
// content is uploaded.
func validateRaw(schema Schema, raw Raw) error {
	v, ok := raw.(RawVariants)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := schema.Allows(name); err != nil {
			return err
		}
		if err := validateRaw(schema, v[name]); err != nil {
			return err
		}
	}
	return nil
}

type rawJob struct {
	path []string
	file RawFile
}

func collectRaw(raw Raw, prefix []string, jobs *[]rawJob) {
	switch r := raw.(type) {
	case RawFile:
		*jobs = append(*jobs, rawJob{path: slices.Clone(prefix), file: r})
	case RawVariants:
		names := make([]string, 0, len(r))
		for name := range r {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			collectRaw(r[name], append(prefix, name), jobs)
		}
	}
}

// BuildTree uploads every file of raw with upload and assembles the resulting
// Tree with the same shape. Names are validated against schema before any
// upload starts. Uploads run on at most concurrency workers; when one fails,
// the files already uploaded are returned alongside the error so the caller
// can remove them.
func BuildTree(
	ctx context.Context,
	raw Raw,
	schema Schema,
	concurrency int,
	upload func(ctx context.Context, path []string, f RawFile) (StoredFile, error),
) (Tree, []StoredFile, error) {
	if raw == nil {
		return nil, nil, nil
	}
	if err := validateRaw(schema, raw); err != nil {
		return nil, nil, err
	}

	var jobs []rawJob
	collectRaw(raw, nil, &jobs)

	var (
		mu       sync.Mutex
		uploaded []StoredFile
	)
	results := make([]StoredFile, len(jobs))
	tasks := make([]Task, len(jobs))
	for i, job := range jobs {
		tasks[i] = func(ctx context.Context) error {
			f, err := upload(ctx, job.path, job.file)
			if err != nil {
				return err
			}
			results[i] = f
			mu.Lock()
			uploaded = append(uploaded, f)
			mu.Unlock()
			return nil
		}
	}
	if err := Parallel(ctx, concurrency, tasks...); err != nil {
		return nil, uploaded, err
	}

	tree := Tree(nil)
	for i, job := range jobs {
		tree = graft(tree, job.path, results[i])
	}
	return tree, uploaded, nil
}

// graft places f at path inside tree, creating branches as needed.
func graft(tree Tree, path []string, f StoredFile) Tree {
	if len(path) == 0 {
		return Leaf{File: f}
	}
	b, ok := tree.(Branch)
	if !ok {
		b = Branch{}
	}
	b[path[0]] = graft(b[path[0]], path[1:], f)
	return b
}
