package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_WriteLoad(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		p := filepath.Join(dir, fmt.Sprintf("dir-%d", i))
		require.NoError(t, os.Mkdir(p, 0o755))
		paths = append(paths, p)
	}
	file := filepath.Join(dir, "single.txt")
	writeFile(t, file, "x")
	paths = append(paths, file)

	meta, err := NewMetadata(paths, "", time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.NoError(t, meta.Write(dir))

	var loaded Metadata
	require.NoError(t, loaded.Load(filepath.Join(dir, MetadataFilename)))
	assert.Equal(t, meta, &loaded)
	assert.Equal(t, paths, loaded.Paths())
	assert.Equal(t, dir, loaded.PathsMapping["12.zip"].ExtractPath)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), loaded.CreatedAt())
}

func TestMetadata_MembersNumericOrder(t *testing.T) {
	meta := Metadata{PathsMapping: map[string]PathMetadata{
		"10.zip":   {Path: "k"},
		"2.zip":    {Path: "c"},
		"0.zip":    {Path: "a"},
		"1.zip":    {Path: "b"},
		"zzz.zip":  {Path: "z"},
		"extra.gz": {Path: "e"},
	}}
	assert.Equal(t, []string{"0.zip", "1.zip", "2.zip", "10.zip", "extra.gz", "zzz.zip"}, meta.Members())
	assert.Equal(t, []string{"a", "b", "c", "k", "e", "z"}, meta.Paths())
}

func TestMetadata_JSONLayout(t *testing.T) {
	dir := t.TempDir()
	meta := &Metadata{
		CreationTimestampUTC: 1714566600.25,
		PathsMapping: map[string]PathMetadata{
			"0.zip": {Path: "/data/notes.txt", ExtractPath: "/data"},
		},
	}
	require.NoError(t, meta.Write(dir))

	raw, err := os.ReadFile(filepath.Join(dir, MetadataFilename))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"creation_timestamp_utc": 1714566600.25,
		"paths_mapping": {"0.zip": {"path": "/data/notes.txt", "extract_path": "/data"}}
	}`, string(raw))
}

func TestMetadata_LoadRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"creation_timestamp_utc": `,
		"empty mapping": `{"creation_timestamp_utc": 1, "paths_mapping": {}}`,
		"escaping name": `{"creation_timestamp_utc": 1, "paths_mapping": {"../0.zip": {"path": "a", "extract_path": "."}}}`,
		"no path":       `{"creation_timestamp_utc": 1, "paths_mapping": {"0.zip": {"extract_path": "."}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), MetadataFilename)
			writeFile(t, path, body)

			var m Metadata
			var fErr *FormatError
			require.ErrorAs(t, m.Load(path), &fErr)
		})
	}

	t.Run("missing", func(t *testing.T) {
		var m Metadata
		var fErr *FormatError
		require.ErrorAs(t, m.Load(filepath.Join(t.TempDir(), MetadataFilename)), &fErr)
	})
}

func TestExtractPath(t *testing.T) {
	assert.Equal(t, "/srv/data", ExtractPath("/srv/data", true))
	assert.Equal(t, "/srv", ExtractPath("/srv/data.db", false))
	assert.Equal(t, ".", ExtractPath("notes.txt", false))
}
