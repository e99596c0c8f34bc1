// Package resolver locates the image file for a document id on local disk.
//
// The mapping is an operator-maintained, trusted source. Paths taken from it are
// only checked for existence unless confinement is enabled, in which case every
// candidate must resolve (symlinks included) inside the images root.
package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"docimage/internal/mapping"
)

// Resolver finds image files under an images root.
type Resolver struct {
	root    string
	confine bool
	memo    *cache.Cache
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMemo remembers resolved paths for ttl. A zero or negative ttl disables the memo.
func WithMemo(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.memo = cache.New(ttl, 2*ttl)
		}
	}
}

// WithConfinement rejects candidates that resolve outside the images root.
func WithConfinement(on bool) Option {
	return func(r *Resolver) { r.confine = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver rooted at imagesRoot.
func New(imagesRoot string, opts ...Option) *Resolver {
	r := &Resolver{root: imagesRoot, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "resolver"))
	return r
}

// Root returns the images root.
func (r *Resolver) Root() string { return r.root }

// Flush drops every memoized path. Call it when the mapping changes.
func (r *Resolver) Flush() {
	if r.memo != nil {
		r.memo.Flush()
	}
}

// Resolve returns the absolute path of the image mapped to id. Candidates, first hit wins:
//
//  1. the mapped value as given
//  2. the mapped value joined under the images root
//  3. the mapped value's basename under the images root
//  4. a case-insensitive match of the basename among the images root entries
//  5. a case-insensitive match of the basename in the mapped value's directory under the root
//
// It reports false when id is not mapped or no candidate exists.
func (r *Resolver) Resolve(id string, m mapping.Mapping) (string, bool) {
	value, ok := m.Lookup(id)
	if !ok {
		return "", false
	}

	key := id + "\x00" + value
	if r.memo != nil {
		if v, found := r.memo.Get(key); found {
			p := v.(string)
			if isFile(p) {
				return p, true
			}
			r.memo.Delete(key)
		}
	}

	p, ok := r.search(value)
	if !ok {
		r.logger.Debug("image_unresolved", slog.String("id", id), slog.String("image_path", value))
		return "", false
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if r.memo != nil {
		r.memo.Set(key, p, cache.DefaultExpiration)
	}
	return p, true
}

func (r *Resolver) search(value string) (string, bool) {
	base := filepath.Base(value)
	candidates := []string{
		value,
		filepath.Join(r.root, value),
		filepath.Join(r.root, base),
	}
	for _, c := range candidates {
		if r.accept(c) {
			return c, true
		}
	}

	dirs := []string{r.root}
	if sub := filepath.Dir(filepath.Join(r.root, value)); filepath.Clean(sub) != filepath.Clean(r.root) {
		dirs = append(dirs, sub)
	}
	for _, dir := range dirs {
		if c, ok := matchFold(dir, base); ok && r.accept(c) {
			return c, true
		}
	}
	return "", false
}

func (r *Resolver) accept(path string) bool {
	if !isFile(path) {
		return false
	}
	if !r.confine {
		return true
	}
	ok, err := WithinBase(r.root, path)
	if err != nil || !ok {
		r.logger.Warn("image_outside_root", slog.String("path", path))
		return false
	}
	return true
}

// matchFold scans dir's direct entries for a name equal to name ignoring case.
func matchFold(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// WithinBase reports whether target resolves to a location inside base, following symlinks.
func WithinBase(base, target string) (bool, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false, fmt.Errorf("resolve base path: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, fmt.Errorf("resolve target path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absBase); err == nil {
		absBase = resolved
	}
	if resolved, err := filepath.EvalSymlinks(absTarget); err == nil {
		absTarget = resolved
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
