package archive

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/cloudbackup/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture creates data/notes.txt and data/photos with three files.
func fixture(t *testing.T) (notes, photos string) {
	t.Helper()
	data := filepath.Join(t.TempDir(), "data")
	notes = filepath.Join(data, "notes.txt")
	photos = filepath.Join(data, "photos")
	writeFile(t, notes, "remember the milk")
	writeFile(t, filepath.Join(photos, "a.jpg"), "jpeg-a")
	writeFile(t, filepath.Join(photos, "b.jpg"), "jpeg-b")
	writeFile(t, filepath.Join(photos, "2024", "c.jpg"), "jpeg-c")
	return notes, photos
}

// zipEntries lists the file entries of a zip, directories excluded.
func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := openZip(path)
	require.NoError(t, err)
	defer r.Close()

	entries := map[string]string{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		entries[f.Name] = string(data)
	}
	return entries
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestBuild_FileAndDirectory(t *testing.T) {
	notes, photos := fixture(t)
	tmp := filepath.Join(t.TempDir(), "tmp")
	created := time.Date(2024, 5, 1, 12, 30, 0, 500_000_000, time.UTC)

	archivePath, meta, err := Build(Options{
		Paths:  []string{notes, photos},
		TmpDir: tmp,
		Now:    func() time.Time { return created },
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ArchiveName), archivePath)
	assert.NoDirExists(t, filepath.Join(tmp, scratchDirName))
	assert.NoFileExists(t, archivePath+".part")

	top := zipEntries(t, archivePath)
	assert.Equal(t, []string{"0.zip", "1.zip", MetadataFilename}, keys(top))

	unpacked := t.TempDir()
	require.NoError(t, Extract(archivePath, unpacked))

	first := zipEntries(t, filepath.Join(unpacked, "0.zip"))
	assert.Equal(t, map[string]string{"notes.txt": "remember the milk"}, first)

	second := zipEntries(t, filepath.Join(unpacked, "1.zip"))
	assert.Equal(t, map[string]string{
		"a.jpg":      "jpeg-a",
		"b.jpg":      "jpeg-b",
		"2024/c.jpg": "jpeg-c",
	}, second)

	var loaded Metadata
	require.NoError(t, loaded.Load(filepath.Join(unpacked, MetadataFilename)))
	assert.Equal(t, meta, &loaded)
	assert.Equal(t, filepath.Dir(notes), loaded.PathsMapping["0.zip"].ExtractPath)
	assert.Equal(t, notes, loaded.PathsMapping["0.zip"].Path)
	assert.Equal(t, photos, loaded.PathsMapping["1.zip"].ExtractPath)
	assert.Equal(t, created, loaded.CreatedAt())
}

func TestBuild_ReportsEveryMissingPath(t *testing.T) {
	notes, _ := fixture(t)
	tmp := filepath.Join(t.TempDir(), "tmp")
	missingA := filepath.Join(t.TempDir(), "gone.txt")
	missingB := filepath.Join(t.TempDir(), "gone-dir")

	_, _, err := Build(Options{Paths: []string{missingA, notes, missingB}, TmpDir: tmp})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{filepath.ToSlash(missingA), filepath.ToSlash(missingB)}, vErr.Missing)
	assert.Contains(t, err.Error(), filepath.ToSlash(missingA))
	assert.NoDirExists(t, tmp)
}

func TestBuild_RelativePathsResolveAgainstRootDir(t *testing.T) {
	notes, _ := fixture(t)
	root := filepath.Dir(notes)

	archivePath, meta, err := Build(Options{
		Paths:   []string{"notes.txt", "photos"},
		RootDir: root,
		TmpDir:  filepath.Join(t.TempDir(), "tmp"),
	})
	require.NoError(t, err)
	assert.FileExists(t, archivePath)
	assert.Equal(t, ".", meta.PathsMapping["0.zip"].ExtractPath)
	assert.Equal(t, "photos", meta.PathsMapping["1.zip"].ExtractPath)
}

func TestBuild_RecreatesTmpDir(t *testing.T) {
	notes, _ := fixture(t)
	tmp := filepath.Join(t.TempDir(), "tmp")
	writeFile(t, filepath.Join(tmp, "leftover", "1.zip"), "crashed run")

	_, _, err := Build(Options{Paths: []string{notes}, TmpDir: tmp})
	require.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ArchiveName, entries[0].Name())
}

func TestBuild_SkipsTmpDirInsideBackedUpDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"), "remember the milk")
	writeFile(t, filepath.Join(root, "big.bin"), strings.Repeat("x", 1<<20))
	tmp := filepath.Join(root, "tmp")

	archivePath, _, err := Build(Options{
		Paths:       []string{"."},
		RootDir:     root,
		TmpDir:      tmp,
		Compression: config.CompressionStore,
	})
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, Extract(archivePath, out))
	assert.Equal(t, []string{"big.bin", "notes.txt"}, keys(zipEntries(t, filepath.Join(out, "0.zip"))))
}

func TestBuild_RejectsPathInsideTmpDir(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "tmp")
	inside := filepath.Join(tmp, "keep.txt")
	writeFile(t, inside, "would be erased")

	_, _, err := Build(Options{Paths: []string{inside}, TmpDir: tmp})
	require.ErrorContains(t, err, "inside tmp dir")
	assert.FileExists(t, inside)
}

func TestBuild_ValidatedSkipsExistenceCheck(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.txt")

	_, _, err := Build(Options{Paths: []string{missing}, TmpDir: filepath.Join(t.TempDir(), "tmp"), Validated: true})

	var vErr *ValidationError
	require.Error(t, err)
	assert.False(t, errors.As(err, &vErr))
}

func TestBuild_Compression(t *testing.T) {
	for _, compression := range []string{config.CompressionDeflate, config.CompressionStore, config.CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			_, photos := fixture(t)
			archivePath, _, err := Build(Options{
				Paths:       []string{photos},
				TmpDir:      filepath.Join(t.TempDir(), "tmp"),
				Compression: compression,
			})
			require.NoError(t, err)

			out := t.TempDir()
			require.NoError(t, Extract(archivePath, out))
			restored := t.TempDir()
			require.NoError(t, Extract(filepath.Join(out, "0.zip"), restored))

			data, err := os.ReadFile(filepath.Join(restored, "2024", "c.jpg"))
			require.NoError(t, err)
			assert.Equal(t, "jpeg-c", string(data))
		})
	}
}

func TestBuild_UnsupportedCompression(t *testing.T) {
	notes, _ := fixture(t)
	_, _, err := Build(Options{Paths: []string{notes}, TmpDir: t.TempDir(), Compression: "lz4"})
	require.Error(t, err)
}

func TestBundle_FailureLeavesNoArchive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "0.zip"), "member")
	dst := filepath.Join(t.TempDir(), ArchiveName)

	err := bundle(dir, []string{"0.zip", "1.zip"}, dst, zip.Deflate)
	require.Error(t, err)
	assert.NoFileExists(t, dst)
	assert.NoFileExists(t, dst+".part")
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../evil.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("pwned"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(t.TempDir(), "dest")
	err = Extract(path, dest)

	var fErr *FormatError
	require.ErrorAs(t, err, &fErr)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func TestExtract_CorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0.zip")
	writeFile(t, path, "this is not a zip file")

	err := Extract(path, t.TempDir())
	var fErr *FormatError
	require.ErrorAs(t, err, &fErr)
}

func TestExtract_PreservesModes(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	writeFile(t, script, "#!/bin/sh\n")
	require.NoError(t, os.Chmod(script, 0o755))

	archivePath, _, err := Build(Options{Paths: []string{dir}, TmpDir: filepath.Join(t.TempDir(), "tmp")})
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, Extract(archivePath, out))
	restored := t.TempDir()
	require.NoError(t, Extract(filepath.Join(out, "0.zip"), restored))

	info, err := os.Stat(filepath.Join(restored, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
