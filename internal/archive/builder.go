// Package archive builds and unpacks backup archives.
//
// A backup archive (backup.zip) holds one zip member per backed up path,
// named by the path's position in the configuration ("0.zip", "1.zip", ...),
// plus __meta__.json describing where each member is unpacked on restore.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/kebairia/cloudbackup/internal/logger"
)

// ArchiveName is the name of the top-level archive, locally and remotely.
const ArchiveName = "backup.zip"

const scratchDirName = "tmp"

// Options configures Build.
type Options struct {
	// Paths are the files and directories to back up, in order.
	Paths []string
	// RootDir resolves relative entries of Paths.
	RootDir string
	// TmpDir is recreated and receives the archive.
	TmpDir string
	// Compression is a config.Compression* value.
	Compression string
	// Validated skips the existence check of Paths when the caller already
	// ran Validate.
	Validated bool
	// Now defaults to time.Now.
	Now func() time.Time
	Log logger.Logger
}

// Validate checks that every path exists and reports all missing ones at once.
func Validate(paths []string, rootDir string) error {
	var missing []string
	for _, p := range paths {
		ok, err := exists(ResolvePath(rootDir, p))
		if err != nil {
			return fmt.Errorf("check %q: %w", p, err)
		}
		if !ok {
			missing = append(missing, filepath.ToSlash(p))
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Build validates opts.Paths and writes TmpDir/backup.zip. On failure no
// archive is left in TmpDir. TmpDir is never archived, even when it lies in
// a backed up directory.
func Build(opts Options) (archivePath string, meta *Metadata, err error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	method, err := zipMethod(opts.Compression)
	if err != nil {
		return "", nil, err
	}

	if !opts.Validated {
		if err := Validate(opts.Paths, opts.RootDir); err != nil {
			return "", nil, err
		}
	}
	tmpDir, err := filepath.Abs(opts.TmpDir)
	if err != nil {
		return "", nil, err
	}
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(ResolvePath(opts.RootDir, p))
		if err != nil {
			return "", nil, err
		}
		if within(tmpDir, abs) {
			return "", nil, fmt.Errorf("path %q lies inside tmp dir %q, which is erased on every run", p, opts.TmpDir)
		}
	}

	if err := RecreateDirectory(opts.TmpDir); err != nil {
		return "", nil, err
	}
	scratch := filepath.Join(opts.TmpDir, scratchDirName)
	if err := EnsureDirectoryExist(scratch); err != nil {
		return "", nil, err
	}
	defer os.RemoveAll(scratch)

	for i, p := range opts.Paths {
		member := filepath.Join(scratch, MemberName(i))
		n, err := zipPath(ResolvePath(opts.RootDir, p), member, method, tmpDir, log)
		if err != nil {
			return "", nil, fmt.Errorf("archive %q: %w", p, err)
		}
		log.Debug("path archived", "path", p, "member", MemberName(i), "entries", n)
	}

	meta, err = NewMetadata(opts.Paths, opts.RootDir, now())
	if err != nil {
		return "", nil, err
	}
	if err := meta.Write(scratch); err != nil {
		return "", nil, err
	}

	members := make([]string, 0, len(opts.Paths)+1)
	for i := range opts.Paths {
		members = append(members, MemberName(i))
	}
	members = append(members, MetadataFilename)

	archivePath = filepath.Join(opts.TmpDir, ArchiveName)
	if err := bundle(scratch, members, archivePath, method); err != nil {
		return "", nil, err
	}
	return archivePath, meta, nil
}

// bundle zips the named files of dir into dst, through a temporary file so
// dst only appears complete.
func bundle(dir string, names []string, dst string, method uint16) (err error) {
	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(part)
		}
	}()

	zw := newZipWriter(out)
	for _, name := range names {
		if err = addFile(zw, filepath.Join(dir, name), name, method); err != nil {
			return fmt.Errorf("add %s to archive: %w", name, err)
		}
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(part, dst); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// zipPath writes src into a new zip file at dst. A directory is stored with
// entry names relative to itself, a file under its base name. It returns the
// number of entries written. The directory skip is left out of the walk.
func zipPath(src, dst string, method uint16, skip string, log logger.Logger) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := newZipWriter(out)
	var count int
	if info.IsDir() {
		count, err = addDir(zw, src, method, skip, log)
	} else {
		count, err = 1, addFile(zw, src, filepath.Base(src), method)
	}
	if err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return count, out.Close()
}

func addDir(zw *zip.Writer, root string, method uint16, skip string, log logger.Logger) (int, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	var count int
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			if filepath.Join(absRoot, rel) == skip {
				log.Debug("skipping tmp dir", "path", path)
				return filepath.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Name = name + "/"
			header.Method = zip.Store
			if _, err := zw.CreateHeader(header); err != nil {
				return err
			}
			count++
			return nil
		}

		// Symlinks to files are archived with the target's content.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			log.Warn("skipping entry that is not a regular file", "path", path)
			return nil
		}
		if err := addFile(zw, path, name, method); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// within reports whether path is dir or lies below it. Both are absolute.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func addFile(zw *zip.Writer, src, name string, method uint16) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = method

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
