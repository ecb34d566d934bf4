// Package tags is the boundary between library metadata and on-disk
// reality: it reads and writes embedded tag fields, moves media files,
// and checks their presence. The engine consumes it through the Adapter
// interface; the production implementation is backed by TagLib.
package tags

import (
	"strings"

	"go.senan.xyz/taglib"
)

// File extensions supported for media files.
const (
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
	ExtOPUS = ".opus"
	ExtOGG  = ".ogg"
	ExtM4A  = ".m4a"
	ExtMP4  = ".mp4"
)

// IsMusicFile returns true if the path has a supported music file extension.
func IsMusicFile(path string) bool {
	ext := strings.ToLower(path)
	if idx := strings.LastIndex(ext, "."); idx >= 0 {
		ext = ext[idx:]
	} else {
		return false
	}
	return ext == ExtMP3 || ext == ExtFLAC || ext == ExtOPUS || ext == ExtOGG || ext == ExtM4A || ext == ExtMP4
}

// Adapter is the tag and file capability consumed by the mutation engine.
// Paths are absolute. Tag maps use TagLib property keys; KeyForField maps
// metadata field names onto them.
type Adapter interface {
	ReadTags(path string) (map[string][]string, error)
	WriteTags(path string, tags map[string][]string) error
	Exists(path string) bool
	Move(from, to string) error
}

// Metadata fields whose tag key does not follow the uppercase-without-
// dashes convention.
var fieldKeys = map[string]string{
	"title":        taglib.Title,
	"artist":       taglib.Artist,
	"album":        taglib.Album,
	"album-artist": taglib.AlbumArtist,
	"genre":        taglib.Genre,
	"date":         taglib.Date,
	"track-number": taglib.TrackNumber,
	"disc-number":  taglib.DiscNumber,
	"comment":      taglib.Comment,
	"composer":     taglib.Composer,
}

// KeyForField maps a metadata field name to its TagLib property key.
// Fields without a dedicated mapping use the Vorbis-style convention of
// uppercasing and dropping dashes, e.g. "catalog-number" → "CATALOGNUMBER".
func KeyForField(field string) string {
	if key, ok := fieldKeys[field]; ok {
		return key
	}
	return strings.ToUpper(strings.ReplaceAll(field, "-", ""))
}

// Get returns the first value of the tag backing a metadata field, or
// false if the tag is absent or empty.
func Get(raw map[string][]string, field string) (string, bool) {
	values, ok := raw[KeyForField(field)]
	if !ok || len(values) == 0 || values[0] == "" {
		return "", false
	}
	return values[0], true
}
