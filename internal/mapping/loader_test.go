package mapping

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mapping
		wantErr error
	}{
		{
			name:  "basic",
			input: "document_id,image_path\ndoc-1,a.png\ndoc-2,photos/b.jpg\n",
			want:  Mapping{"doc-1": "a.png", "doc-2": "photos/b.jpg"},
		},
		{
			name:  "column order and extra columns",
			input: "title,image_path,notes,document_id\nT,x.gif,n,doc-9\n",
			want:  Mapping{"doc-9": "x.gif"},
		},
		{
			name:  "last duplicate wins",
			input: "document_id,image_path\nd,first.png\nd,second.png\n",
			want:  Mapping{"d": "second.png"},
		},
		{
			name:  "rows missing values are skipped",
			input: "document_id,image_path\n,orphan.png\nnopath,\nshort\nok,ok.png\n",
			want:  Mapping{"ok": "ok.png"},
		},
		{
			name:  "byte order mark on header",
			input: "\ufeffdocument_id,image_path\nd,a.png\n",
			want:  Mapping{"d": "a.png"},
		},
		{
			name:  "quoted values with commas",
			input: "document_id,image_path\n\"doc,1\",\"dir/a, b.png\"\n",
			want:  Mapping{"doc,1": "dir/a, b.png"},
		},
		{
			name:  "header only",
			input: "document_id,image_path\n",
			want:  Mapping{},
		},
		{
			name:    "missing image_path column",
			input:   "document_id,path\nd,a.png\n",
			wantErr: ErrMissingColumns,
		},
		{
			name:    "missing document_id column",
			input:   "id,image_path\nd,a.png\n",
			wantErr: ErrMissingColumns,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrSourceUnreadable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(strings.NewReader(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv"))
		assert.ErrorIs(t, err, ErrSourceUnreadable)
	})

	t.Run("same file twice yields identical mapping", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "map.csv")
		require.NoError(t, os.WriteFile(path, []byte("document_id,image_path\na,1.png\nb,2.png\na,3.png\n"), 0o644))

		first, err := LoadFile(path)
		require.NoError(t, err)
		second, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, "3.png", first["a"])
	})
}

func TestMappingLookup(t *testing.T) {
	m := Mapping{"a": "x.png"}
	v, ok := m.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "x.png", v)
	_, ok = m.Lookup("b")
	assert.False(t, ok)
}
