// Package importer discovers candidate media files via a wildcard
// pattern, creates song records for files the library does not know yet,
// and suppresses fuzzy duplicates using the configured similarity
// threshold.
package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/llehouerou/sonata/internal/library"
	"github.com/llehouerou/sonata/internal/tags"
)

// Fallback album grouping for files whose tags name no album.
const (
	unsortedAlbum = "[unsorted]"
	unknownArtist = "[unknown]"
)

// ProbeFunc reads the identifying fields of a media file. Production code
// uses tags.Identify; tests substitute their own.
type ProbeFunc func(path string) tags.Identity

// Result summarizes one import run.
type Result struct {
	Created int
	Skipped int
}

// NewUUID generates song identifiers; swapped in tests for determinism.
var NewUUID = uuid.NewString

// Run imports every file matching pattern (relative to the library root)
// that is not already represented in the library. It mutates lib in
// memory only; persisting is the caller's concern.
func Run(lib *library.Library, pattern string, probe ProbeFunc) (Result, error) {
	var res Result

	threshold, err := lib.DedupThreshold()
	if err != nil {
		return res, err
	}

	matches, err := doublestar.Glob(os.DirFS(lib.Root), pattern)
	if err != nil {
		return res, fmt.Errorf("match pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	known := knownPaths(lib)
	identities := knownIdentities(lib)

	for _, rel := range matches {
		if !tags.IsMusicFile(rel) {
			continue
		}
		if _, ok := known[rel]; ok {
			res.Skipped++
			continue
		}

		id := probe(filepath.Join(lib.Root, rel))
		key := identityKey(id.Title, id.Artist)
		if isDuplicate(key, identities, threshold) {
			res.Skipped++
			continue
		}

		addSong(lib, rel, id)
		known[rel] = struct{}{}
		if key != "" {
			identities = append(identities, key)
		}
		res.Created++
	}
	return res, nil
}

// knownPaths collects every file path already referenced by a song,
// both the recorded location and the computed one.
func knownPaths(lib *library.Library) map[string]struct{} {
	known := make(map[string]struct{})
	tmpl, err := lib.MediaPath()
	if err != nil {
		tmpl = nil
	}
	for _, ref := range lib.Songs() {
		if p, ok := ref.Field(library.FieldPath); ok {
			known[p] = struct{}{}
		}
		if tmpl == nil {
			continue
		}
		if p, renderErr := tmpl.Render(ref.Field); renderErr == nil {
			known[p] = struct{}{}
		}
	}
	return known
}

func knownIdentities(lib *library.Library) []string {
	var keys []string
	for _, ref := range lib.Songs() {
		title, _ := ref.Field("title")
		artist, _ := ref.Field("artist")
		if key := identityKey(title, artist); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func identityKey(title, artist string) string {
	return normalize(title + " " + artist)
}

func isDuplicate(key string, identities []string, threshold float64) bool {
	if key == "" {
		return false
	}
	for _, existing := range identities {
		if Similarity(key, existing) >= threshold {
			return true
		}
	}
	return false
}

func addSong(lib *library.Library, rel string, id tags.Identity) {
	albumName := id.Album
	if albumName == "" {
		albumName = unsortedAlbum
	}
	albumArtist := id.AlbumArtist
	if albumArtist == "" {
		albumArtist = unknownArtist
	}

	album := lib.FindAlbum(albumName, albumArtist)
	if album == nil {
		album = &library.Album{Metadata: map[string]string{
			"album":        albumName,
			"album-artist": albumArtist,
		}}
		lib.AddAlbum(album)
	}

	meta := map[string]string{library.FieldPath: rel}
	if id.Title != "" {
		meta["title"] = id.Title
	}
	if id.Artist != "" {
		meta["artist"] = id.Artist
	}
	if id.Ext != "" {
		meta["ext"] = id.Ext
	}
	album.Songs = append(album.Songs, &library.Song{UUID: NewUUID(), Metadata: meta})
}
