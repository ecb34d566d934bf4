package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Filename is the name of the library-wide options file. A directory
// containing this file is a library root.
const Filename = "sonata.yml"

const (
	workDirName    = "work"
	lastIDFilename = "last-id"
	lockFilename   = "lock"
)

// FormatError reports a persisted file that violates its expected schema.
// Path locates the offending value within the file, e.g. "songs[2].title".
type FormatError struct {
	File string
	Path string
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Msg)
}

// Find searches dir and its parents for the library options file and
// returns its full path, or an error if the filesystem root is reached.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, Filename)
		if _, err := os.Lstat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("cannot find %s in working or parent directories", Filename)
		}
		dir = parent
	}
}

// LockPath returns the path of the advisory lock file guarding commits for
// the library rooted at root.
func LockPath(root string) string {
	return filepath.Join(root, workDirName, lockFilename)
}

// EnsureWorkDir creates the work directory that holds the transaction
// stamp and the commit lock.
func EnsureWorkDir(root string) error {
	return os.MkdirAll(filepath.Join(root, workDirName), 0o755)
}

// Load reads the options file and every album metadata file under root
// into a Library. Schema violations yield a FormatError naming the file
// and the exact path within it.
func Load(root string) (*Library, error) {
	optionsData, err := os.ReadFile(filepath.Join(root, Filename))
	if err != nil {
		return nil, fmt.Errorf("read library file: %w", err)
	}

	var rawOptions map[string]any
	if err := yaml.Unmarshal(optionsData, &rawOptions); err != nil {
		return nil, &FormatError{File: Filename, Msg: fmt.Sprintf("malformed YAML: %v", err)}
	}

	options := make(map[string]string, len(rawOptions))
	for name, value := range rawOptions {
		s, ok := value.(string)
		if !ok {
			return nil, &FormatError{File: Filename, Path: name, Msg: fmt.Sprintf("non-string value %v", value)}
		}
		if !IsOption(name) {
			return nil, &FormatError{File: Filename, Path: name, Msg: "unexpected option"}
		}
		if err := ValidateOption(name, s); err != nil {
			return nil, &FormatError{File: Filename, Path: name, Msg: err.Error()}
		}
		options[name] = s
	}

	lib := &Library{Root: root, Options: options}

	tmpl, err := lib.MetadataPath()
	if err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(root), tmpl.GlobPattern())
	if err != nil {
		return nil, fmt.Errorf("discover album files: %w", err)
	}
	sort.Strings(matches)

	seen := make(map[string]string) // uuid -> file
	for _, rel := range matches {
		album, err := loadAlbum(root, rel)
		if err != nil {
			return nil, err
		}
		for _, song := range album.Songs {
			if prev, ok := seen[song.UUID]; ok {
				return nil, &FormatError{
					File: rel,
					Path: "songs",
					Msg:  fmt.Sprintf("uuid %q already used in %s", song.UUID, prev),
				}
			}
			seen[song.UUID] = rel
		}
		lib.Albums = append(lib.Albums, album)
	}

	return lib, nil
}

func loadAlbum(root, rel string) (*Album, error) {
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return nil, fmt.Errorf("read album file %s: %w", rel, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{File: rel, Msg: fmt.Sprintf("malformed YAML: %v", err)}
	}
	if doc == nil {
		return nil, &FormatError{File: rel, Msg: "file is empty, but should contain a map"}
	}
	for key := range doc {
		if key != "album" && key != "songs" {
			return nil, &FormatError{File: rel, Path: key, Msg: "unexpected key"}
		}
	}

	albumMeta, err := decodeFieldMap(rel, "album", doc["album"])
	if err != nil {
		return nil, err
	}

	rawSongs, ok := doc["songs"].([]any)
	if doc["songs"] != nil && !ok {
		return nil, &FormatError{File: rel, Path: "songs", Msg: "should be a list"}
	}

	album := &Album{Metadata: albumMeta, file: rel}
	for i, rawSong := range rawSongs {
		path := fmt.Sprintf("songs[%d]", i)
		meta, err := decodeFieldMap(rel, path, rawSong)
		if err != nil {
			return nil, err
		}
		id, ok := meta[FieldUUID]
		if !ok || id == "" {
			return nil, &FormatError{File: rel, Path: path, Msg: "missing uuid"}
		}
		delete(meta, FieldUUID)
		album.Songs = append(album.Songs, &Song{UUID: id, Metadata: meta})
	}
	return album, nil
}

// decodeFieldMap validates a metadata mapping: string keys, string or null
// values. Null values are dropped, since a null and a missing key are
// equivalent.
func decodeFieldMap(file, path string, raw any) (map[string]string, error) {
	if raw == nil {
		return map[string]string{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &FormatError{File: file, Path: path, Msg: "should be a map"}
	}
	fields := make(map[string]string, len(m))
	for key, value := range m {
		if value == nil {
			continue
		}
		s, ok := value.(string)
		if !ok {
			return nil, &FormatError{
				File: file,
				Path: path + "." + key,
				Msg:  fmt.Sprintf("non-string value %v", value),
			}
		}
		fields[key] = s
	}
	return fields, nil
}

// Save persists the options file and every album file, factoring shared
// song fields up to album level first. Writes are atomic; an album whose
// computed file path changed has its old file removed.
func (l *Library) Save() error {
	tmpl, err := l.MetadataPath()
	if err != nil {
		return err
	}

	written := make(map[string]struct{})
	for _, album := range l.Albums {
		albumMeta, songDocs := album.factor()
		rel, err := tmpl.Render(func(field string) (string, bool) {
			v, ok := albumMeta[field]
			return v, ok
		})
		if err != nil {
			return err
		}
		doc := map[string]any{"album": albumMeta, "songs": songDocs}
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode album file %s: %w", rel, err)
		}
		if err := writeFileAtomic(filepath.Join(l.Root, rel), data); err != nil {
			return fmt.Errorf("write album file %s: %w", rel, err)
		}
		if album.file != "" && album.file != rel {
			if err := os.Remove(filepath.Join(l.Root, album.file)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove stale album file %s: %w", album.file, err)
			}
		}
		album.file = rel
		written[rel] = struct{}{}
	}

	data, err := yaml.Marshal(l.Options)
	if err != nil {
		return fmt.Errorf("encode library file: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(l.Root, Filename), data); err != nil {
		return fmt.Errorf("write library file: %w", err)
	}
	return nil
}

// factor computes the album-level map and per-song documents for saving.
// A field value shared by at least half the songs is factored up to the
// album map and elided from those songs; the fallback view restores it on
// load. uuid and path always stay on the song record.
func (a *Album) factor() (map[string]string, []map[string]string) {
	if len(a.Songs) == 0 {
		meta := make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			meta[k] = v
		}
		return meta, []map[string]string{}
	}

	merged := make([]map[string]string, len(a.Songs))
	counts := make(map[string]map[string]int)
	for i, song := range a.Songs {
		fields := SongRef{Album: a, Song: song}.Fields()
		delete(fields, FieldUUID)
		merged[i] = fields
		for key, value := range fields {
			if key == FieldPath {
				continue
			}
			if counts[key] == nil {
				counts[key] = make(map[string]int)
			}
			counts[key][value]++
		}
	}

	albumMeta := make(map[string]string)
	for key, valueCounts := range counts {
		best, bestCount := "", 0
		for value, count := range valueCounts {
			if count > bestCount || (count == bestCount && value < best) {
				best, bestCount = value, count
			}
		}
		if bestCount*2 >= len(a.Songs) {
			albumMeta[key] = best
		}
	}

	songDocs := make([]map[string]string, len(a.Songs))
	for i, fields := range merged {
		doc := map[string]string{FieldUUID: a.Songs[i].UUID}
		for key, value := range fields {
			if albumValue, ok := albumMeta[key]; !ok || albumValue != value {
				doc[key] = value
			}
		}
		songDocs[i] = doc
	}
	return albumMeta, songDocs
}

// CurrentID returns the library's transaction stamp, or "" if no commit
// has happened yet.
func (l *Library) CurrentID() (string, error) {
	data, err := os.ReadFile(filepath.Join(l.Root, workDirName, lastIDFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read transaction stamp: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteID records a new transaction stamp.
func (l *Library) WriteID(id string) error {
	if err := EnsureWorkDir(l.Root); err != nil {
		return err
	}
	path := filepath.Join(l.Root, workDirName, lastIDFilename)
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return fmt.Errorf("write transaction stamp: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sonata-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), fs.FileMode(0o644)); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
