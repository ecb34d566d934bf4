package tags

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"go.senan.xyz/taglib"
)

// Identity holds the discoverable identifying fields of a media file,
// used by the import engine for duplicate suppression and for seeding
// new song records.
type Identity struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Ext         string // extension without the leading dot
}

// Identify probes a media file for its identifying fields. Embedded tags
// are read with dhowden/tag, falling back to TagLib for files it cannot
// parse; a file with no readable tags gets its title from the filename.
func Identify(path string) Identity {
	id := Identity{
		Ext: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}

	if f, err := os.Open(path); err == nil {
		m, err := tag.ReadFrom(f)
		f.Close()
		if err == nil {
			id.Title = m.Title()
			id.Artist = m.Artist()
			id.Album = m.Album()
			id.AlbumArtist = m.AlbumArtist()
		}
	}

	// dhowden/tag has issues with some UTF-16 ID3 tags and some
	// ffmpeg-created M4A files; TagLib handles those.
	if id.Title == "" || id.Artist == "" {
		if raw, err := taglib.ReadTags(path); err == nil {
			if id.Title == "" {
				id.Title, _ = Get(raw, "title")
			}
			if id.Artist == "" {
				id.Artist, _ = Get(raw, "artist")
			}
			if id.Album == "" {
				id.Album, _ = Get(raw, "album")
			}
			if id.AlbumArtist == "" {
				id.AlbumArtist, _ = Get(raw, "album-artist")
			}
		}
	}

	if id.Title == "" {
		base := filepath.Base(path)
		id.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if id.AlbumArtist == "" {
		id.AlbumArtist = id.Artist
	}
	return id
}
