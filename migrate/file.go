package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// filenameRE matches "<version>_<name>.sql", e.g. "1_create_users.sql",
// "002_add_index.sql". The version need not be padded; ordering is by
// numeric value, not lexical. Leading and trailing whitespace around
// the name is tolerated.
var filenameRE = regexp.MustCompile(`^\s*(\d+)_([A-Za-z0-9._-]+)\.sql\s*$`)

// MigrationFile is one discovered (or manually supplied) migration
// script: its parsed version, display name, and raw content.
type MigrationFile struct {
	Version int64
	Name    string
	Path    string // empty if supplied in-memory rather than discovered
	Content []byte
}

// Discover lists dir for files matching filenameRE, reads each, and
// returns them sorted ascending by version. Non-matching files are
// silently ignored. Returns DuplicateVersion if two files share a
// version, and NonMonotonic if any adjacent pair's version gap
// exceeds one, per the migrator's ordering invariant.
func Discover(dir string) ([]MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir %s: %w", dir, err)
	}

	var files []MigrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", path, err)
		}
		files = append(files, MigrationFile{
			Version: version,
			Name:    m[2],
			Path:    path,
			Content: content,
		})
	}

	return order(files)
}

// DiscoverFS is Discover against an fs.FS, for embedding migrations
// via go:embed.
func DiscoverFS(fsys fs.FS, dir string) ([]MigrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir %s: %w", dir, err)
	}

	var files []MigrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		path := dir + "/" + e.Name()
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", path, err)
		}
		files = append(files, MigrationFile{
			Version: version,
			Name:    m[2],
			Path:    path,
			Content: content,
		})
	}

	return order(files)
}

// order validates and sorts a MigrationFile set per the discovery
// invariants: no duplicate versions, strictly adjacent-by-one
// ordering once sorted.
func order(files []MigrationFile) ([]MigrationFile, error) {
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })

	seen := make(map[int64]bool, len(files))
	for _, f := range files {
		if seen[f.Version] {
			return nil, newMigrationError(f.Version, f.Name, "discover", fmt.Errorf("duplicate version %d", f.Version))
		}
		seen[f.Version] = true
	}

	for i := 1; i < len(files); i++ {
		gap := files[i].Version - files[i-1].Version
		if gap > 1 {
			return nil, newMigrationError(files[i].Version, files[i].Name, "discover",
				fmt.Errorf("non-monotonic: version %d follows %d, gap of %d", files[i].Version, files[i-1].Version, gap))
		}
	}

	return files, nil
}
