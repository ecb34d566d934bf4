// Package library owns the in-memory representation of a music library:
// the option map, the albums with their songs, and the transaction stamp.
// External truth lives in YAML files under the library root; this package
// loads them, validates them, and persists them atomically.
package library

// Reserved song fields maintained by the engine. FieldUUID is assigned at
// creation and never settable by a query; FieldPath records the media
// file's current location relative to the library root.
const (
	FieldUUID = "uuid"
	FieldPath = "path"
)

// Song is one track. Metadata maps field names to values; a missing key
// and a null value on disk are equivalent ("no value").
type Song struct {
	UUID     string
	Metadata map[string]string
}

// Album groups songs and carries album-level metadata that song-level
// reads and filters fall back to.
type Album struct {
	Metadata map[string]string
	Songs    []*Song

	// file this album was loaded from, relative to the root; empty for
	// albums created in memory and not yet saved
	file string
}

// Library is the root aggregate.
type Library struct {
	Root    string
	Options map[string]string // raw string values, as stored on disk
	Albums  []*Album
}

// SongRef is a song together with the album it belongs to, so field reads
// can fall back from song-level to album-level metadata.
type SongRef struct {
	Album *Album
	Song  *Song
}

// Field returns the effective value of a field for this song, falling
// back to album-level metadata. uuid resolves to the song identifier.
func (r SongRef) Field(name string) (string, bool) {
	if name == FieldUUID {
		return r.Song.UUID, true
	}
	if v, ok := r.Song.Metadata[name]; ok {
		return v, true
	}
	v, ok := r.Album.Metadata[name]
	return v, ok
}

// Fields returns a copy of the song's effective field map, album fallback
// applied, uuid included.
func (r SongRef) Fields() map[string]string {
	fields := make(map[string]string, len(r.Album.Metadata)+len(r.Song.Metadata)+1)
	for k, v := range r.Album.Metadata {
		fields[k] = v
	}
	for k, v := range r.Song.Metadata {
		fields[k] = v
	}
	fields[FieldUUID] = r.Song.UUID
	return fields
}

// Songs returns every song in the library in store iteration order: album
// order, then in-album song order. This order is stable for a given
// on-disk layout and determines filter-match order in responses.
func (l *Library) Songs() []SongRef {
	var refs []SongRef
	for _, album := range l.Albums {
		for _, song := range album.Songs {
			refs = append(refs, SongRef{Album: album, Song: song})
		}
	}
	return refs
}

// FindAlbum returns the album whose album-level metadata matches the given
// album and album-artist names, or nil.
func (l *Library) FindAlbum(name, artist string) *Album {
	for _, album := range l.Albums {
		if album.Metadata["album"] == name && album.Metadata["album-artist"] == artist {
			return album
		}
	}
	return nil
}

// AddAlbum appends a new album to the library.
func (l *Library) AddAlbum(album *Album) {
	l.Albums = append(l.Albums, album)
}
