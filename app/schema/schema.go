// Package schema enumerates schema files in a directory tree and derives the location
// of the generated model for each of them.
package schema

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSuffix is the file name suffix of schema documents
const DefaultSuffix = ".schema.yaml"

// Walk returns a lazy sequence of absolute paths for all files under root with the given suffix.
// Symlinked root and symlinked files are followed, paths are reported under root as given.
// Each exclude entry is a directory relative to root, its whole subtree is skipped.
// A file system error is yielded once and ends the sequence.
func Walk(root, suffix string, exclude ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			yield("", fmt.Errorf("can't resolve %s: %w", root, err))
			return
		}
		realRoot, err := filepath.EvalSymlinks(absRoot)
		if err != nil {
			yield("", fmt.Errorf("can't resolve %s: %w", root, err))
			return
		}

		skip := make(map[string]bool, len(exclude))
		for _, ex := range exclude {
			if ex == "" {
				continue
			}
			skip[filepath.Join(realRoot, ex)] = true
		}

		stopped := false
		err = filepath.WalkDir(realRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if skip[path] {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), suffix) {
				return nil
			}
			if ok, err := isSchemaFile(path, d); err != nil || !ok {
				return err
			}
			rel, err := filepath.Rel(realRoot, path)
			if err != nil {
				return err
			}
			if !yield(filepath.Join(absRoot, rel), nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", fmt.Errorf("failed to walk %s: %w", root, err))
		}
	}
}

// isSchemaFile accepts regular files and symlinks to regular files, a dangling link is an error
func isSchemaFile(path string, d fs.DirEntry) (bool, error) {
	if d.Type().IsRegular() {
		return true, nil
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("can't follow link %s: %w", path, err)
	}
	return fi.Mode().IsRegular(), nil
}

// List collects Walk results, stops on the first error
func List(root, suffix string, exclude ...string) ([]string, error) {
	res := []string{}
	for path, err := range Walk(root, suffix, exclude...) {
		if err != nil {
			return nil, err
		}
		res = append(res, path)
	}
	return res, nil
}

// OutputPath makes the location of the model generated from input. The relative directory of input under root
// is kept under outRoot and the schema suffix of the file name is replaced by ext,
// i.e. root/stock/trade.schema.yaml -> outRoot/stock/trade.py
func OutputPath(root, outRoot, input, suffix, ext string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("can't resolve %s: %w", root, err)
	}
	absInput, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("can't resolve %s: %w", input, err)
	}
	rel, err := filepath.Rel(absRoot, absInput)
	if err != nil {
		return "", fmt.Errorf("can't make relative path for %s: %w", input, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under %s", input, root)
	}
	name := strings.TrimSuffix(filepath.Base(rel), suffix) + ext
	return filepath.Join(outRoot, filepath.Dir(rel), name), nil
}

// BaseName returns the entity name of a schema file, the file name without suffix.
// If the name doesn't end with suffix, the extension is stripped instead.
func BaseName(path, suffix string) string {
	name := filepath.Base(path)
	if suffix != "" && strings.HasSuffix(name, suffix) && name != suffix {
		return strings.TrimSuffix(name, suffix)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
