// Package mapping resolves content types to transformation rule files.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoMappings is reported by Validate when the table is empty.
var ErrNoMappings = errors.New("mapping: at least one mapping is required")

// Registry is a read-only content type to rule file table. It is safe for
// concurrent use.
type Registry struct {
	baseDir string
	rules   map[string]string
}

// NewRegistry copies the given table; later changes to it are not observed.
func NewRegistry(baseDir string, table map[string]string) *Registry {
	rules := make(map[string]string, len(table))
	for contentType, filename := range table {
		rules[contentType] = filename
	}
	return &Registry{baseDir: baseDir, rules: rules}
}

// BaseDir returns the directory rule filenames are joined with.
func (r *Registry) BaseDir() string {
	return r.baseDir
}

// Has reports whether a rule is configured for contentType.
func (r *Registry) Has(contentType string) bool {
	_, ok := r.rules[contentType]
	return ok
}

// Resolve returns the absolute rule file path for contentType. Callers must
// check Has first; resolving an unmapped type panics.
func (r *Registry) Resolve(contentType string) string {
	filename, ok := r.rules[contentType]
	if !ok {
		panic(fmt.Sprintf("mapping: resolve called for unmapped content type %q", contentType))
	}
	path := filepath.Join(r.baseDir, filename)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ContentTypes lists the configured content types in sorted order.
func (r *Registry) ContentTypes() []string {
	types := make([]string, 0, len(r.rules))
	for contentType := range r.rules {
		types = append(types, contentType)
	}
	sort.Strings(types)
	return types
}

// Validate checks that the table is not empty and that every rule file
// exists and can be opened for reading. All problems are reported.
func (r *Registry) Validate() error {
	if len(r.rules) == 0 {
		return ErrNoMappings
	}

	var errs []error
	for _, contentType := range r.ContentTypes() {
		path := r.Resolve(contentType)
		if err := CheckReadable(path); err != nil {
			errs = append(errs, fmt.Errorf("mapping for %q: %w", contentType, err))
		}
	}
	return errors.Join(errs...)
}

// CheckReadable fails when path is missing, is a directory, or cannot be opened.
func CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
