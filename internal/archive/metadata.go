package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MetadataFilename is the archive member describing the other members.
const MetadataFilename = "__meta__.json"

// PathMetadata records where one archive member came from and where it is
// unpacked on restore.
type PathMetadata struct {
	Path        string `json:"path"`
	ExtractPath string `json:"extract_path"`
}

// Metadata describes a backup archive. PathsMapping is keyed by member name
// ("0.zip", "1.zip", ...) in configuration order.
type Metadata struct {
	CreationTimestampUTC float64                 `json:"creation_timestamp_utc"`
	PathsMapping         map[string]PathMetadata `json:"paths_mapping"`
}

// MemberName returns the archive member name of the i-th configured path.
func MemberName(i int) string {
	return strconv.Itoa(i) + ".zip"
}

// ExtractPath is the directory a backed up path is unpacked into: the path
// itself for a directory, its parent for a file.
func ExtractPath(path string, isDir bool) string {
	if isDir {
		return path
	}
	return filepath.Dir(path)
}

// NewMetadata builds the descriptor for paths, resolving relative ones
// against rootDir to tell files from directories.
func NewMetadata(paths []string, rootDir string, createdAt time.Time) (*Metadata, error) {
	m := &Metadata{
		CreationTimestampUTC: float64(createdAt.UTC().UnixNano()) / float64(time.Second),
		PathsMapping:         make(map[string]PathMetadata, len(paths)),
	}
	for i, p := range paths {
		info, err := os.Stat(ResolvePath(rootDir, p))
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", p, err)
		}
		m.PathsMapping[MemberName(i)] = PathMetadata{
			Path:        p,
			ExtractPath: ExtractPath(p, info.IsDir()),
		}
	}
	return m, nil
}

// CreatedAt converts the creation timestamp back to a time in UTC.
func (m *Metadata) CreatedAt() time.Time {
	sec, frac := math.Modf(m.CreationTimestampUTC)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second)))).UTC()
}

// Members lists the member names in the order they were backed up.
// Names that are not "<index>.zip" sort last, alphabetically.
func (m *Metadata) Members() []string {
	names := make([]string, 0, len(m.PathsMapping))
	for name := range m.PathsMapping {
		names = append(names, name)
	}
	index := func(name string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".zip"))
		return n, err == nil && strings.HasSuffix(name, ".zip")
	}
	sort.Slice(names, func(a, b int) bool {
		ia, okA := index(names[a])
		ib, okB := index(names[b])
		switch {
		case okA && okB:
			return ia < ib
		case okA != okB:
			return okA
		default:
			return names[a] < names[b]
		}
	})
	return names
}

// Paths lists the original paths in member order.
func (m *Metadata) Paths() []string {
	paths := make([]string, 0, len(m.PathsMapping))
	for _, name := range m.Members() {
		paths = append(paths, m.PathsMapping[name].Path)
	}
	return paths
}

// validate checks what restore relies on.
func (m *Metadata) validate() error {
	if len(m.PathsMapping) == 0 {
		return errors.New("paths_mapping is empty")
	}
	for name, pm := range m.PathsMapping {
		if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("invalid member name %q", name)
		}
		if pm.Path == "" {
			return fmt.Errorf("member %q has no path", name)
		}
	}
	return nil
}

// Load reads and checks the metadata file at filePath.
func (m *Metadata) Load(filePath string) error {
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return &FormatError{Path: filePath, Err: fmt.Errorf("open metadata file: %w", err)}
	}
	defer jsonFile.Close()

	decoder := json.NewDecoder(jsonFile)
	if err := decoder.Decode(m); err != nil {
		return &FormatError{Path: filePath, Err: fmt.Errorf("decode metadata JSON: %w", err)}
	}
	if err := m.validate(); err != nil {
		return &FormatError{Path: filePath, Err: err}
	}
	return nil
}

// Write writes the metadata file into dirPath.
func (m *Metadata) Write(dirPath string) error {
	filePath := filepath.Join(dirPath, MetadataFilename)

	if err := EnsureDirectoryExist(dirPath); err != nil {
		return fmt.Errorf("ensure metadata directory %q: %w", dirPath, err)
	}

	jsonFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create metadata file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	return jsonFile.Close()
}

// ReadMetadata loads __meta__.json from an unpacked archive directory.
func ReadMetadata(dir string) (*Metadata, error) {
	var m Metadata
	if err := m.Load(filepath.Join(dir, MetadataFilename)); err != nil {
		return nil, err
	}
	return &m, nil
}
