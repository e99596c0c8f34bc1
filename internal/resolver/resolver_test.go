package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docimage/internal/logging"
	"docimage/internal/mapping"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	return path
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	absFile := touch(t, filepath.Join(outside, "abs.jpg"))
	touch(t, filepath.Join(root, "rel.png"))
	touch(t, filepath.Join(root, "sub", "nested.gif"))
	touch(t, filepath.Join(root, "nested.gif"))
	touch(t, filepath.Join(root, "flat.webp"))
	touch(t, filepath.Join(root, "Upper.JPG"))
	touch(t, filepath.Join(root, "photos", "a.png"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.png"), 0o755))

	m := mapping.Mapping{
		"abs":      absFile,
		"rel":      "rel.png",
		"joined":   "sub/nested.gif",
		"basename": "elsewhere/deep/flat.webp",
		"fold":     "upper.jpg",
		"doc-42":   "photos/a.PNG",
		"missing":  "gone.png",
		"dir":      "dir.png",
	}

	tests := []struct {
		id     string
		want   string
		wantOK bool
	}{
		{id: "abs", want: absFile, wantOK: true},
		{id: "rel", want: filepath.Join(root, "rel.png"), wantOK: true},
		{id: "joined", want: filepath.Join(root, "sub", "nested.gif"), wantOK: true},
		{id: "basename", want: filepath.Join(root, "flat.webp"), wantOK: true},
		{id: "fold", want: filepath.Join(root, "Upper.JPG"), wantOK: true},
		{id: "doc-42", want: filepath.Join(root, "photos", "a.png"), wantOK: true},
		{id: "missing"},
		{id: "dir"},
		{id: "doc-99"},
	}

	r := New(root, WithLogger(logging.Nop()))
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := r.Resolve(tt.id, m)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Confinement(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	absFile := touch(t, filepath.Join(outside, "secret.png"))
	touch(t, filepath.Join(root, "inside.png"))

	m := mapping.Mapping{
		"outside":  absFile,
		"traverse": "../" + filepath.Base(outside) + "/secret.png",
		"inside":   "inside.png",
		"link":     "link.png",
	}
	if err := os.Symlink(absFile, filepath.Join(root, "link.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	open := New(root, WithLogger(logging.Nop()))
	_, ok := open.Resolve("outside", m)
	assert.True(t, ok)
	_, ok = open.Resolve("link", m)
	assert.True(t, ok)

	confined := New(root, WithConfinement(true), WithLogger(logging.Nop()))
	for _, id := range []string{"outside", "traverse", "link"} {
		_, ok := confined.Resolve(id, m)
		assert.False(t, ok, id)
	}
	got, ok := confined.Resolve("inside", m)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "inside.png"), got)
}

func TestResolve_Memo(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.png"))
	m := mapping.Mapping{"b": "sub/b.png"}

	r := New(root, WithMemo(time.Minute), WithLogger(logging.Nop()))

	got, ok := r.Resolve("b", m)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "b.png"), got)

	// A better candidate appears; the memo keeps the earlier answer until flushed.
	touch(t, filepath.Join(root, "sub", "b.png"))
	got, _ = r.Resolve("b", m)
	assert.Equal(t, filepath.Join(root, "b.png"), got)

	r.Flush()
	got, _ = r.Resolve("b", m)
	assert.Equal(t, filepath.Join(root, "sub", "b.png"), got)

	// Memoized paths that disappear are not served.
	require.NoError(t, os.Remove(filepath.Join(root, "sub", "b.png")))
	got, ok = r.Resolve("b", m)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "b.png"), got)
}

func TestWithinBase(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{name: "child", target: filepath.Join(base, "a.png"), want: true},
		{name: "nested", target: filepath.Join(base, "x", "y.png"), want: true},
		{name: "parent", target: filepath.Dir(base), want: false},
		{name: "traversal", target: filepath.Join(base, "..", "a.png"), want: false},
		{name: "sibling prefix", target: base + "-other/a.png", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithinBase(base, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
