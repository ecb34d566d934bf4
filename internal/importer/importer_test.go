package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/sonata/internal/library"
	"github.com/llehouerou/sonata/internal/tags"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Time Pink Floyd", "Time Pink Floyd"))
	assert.Equal(t, 1.0, Similarity("Time  Pink Floyd", "time pink floyd"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.Equal(t, 0.0, Similarity("  ", "anything"))

	near := Similarity("Time Pink Floyd", "Time - Pink Floyd")
	far := Similarity("Time Pink Floyd", "Stairway Led Zeppelin")
	assert.Greater(t, near, 0.7)
	assert.Less(t, far, 0.2)
	assert.Greater(t, near, far)

	// Deterministic for identical inputs.
	assert.Equal(t,
		Similarity("Echoes Pink Floyd", "Echoes (Live) Pink Floyd"),
		Similarity("Echoes Pink Floyd", "Echoes (Live) Pink Floyd"))
}

func testLibrary(t *testing.T, threshold string) *library.Library {
	t.Helper()
	root := t.TempDir()
	content := "{}\n"
	if threshold != "" {
		content = fmt.Sprintf("deduplication-threshold: %q\n", threshold)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, library.Filename), []byte(content), 0o644))
	lib, err := library.Load(root)
	require.NoError(t, err)
	return lib
}

func touchFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, rel := range paths {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

// probeFromPath fakes tag probing: incoming/<artist>/<album>/<title>.<ext>.
func probeFromPath(path string) tags.Identity {
	parts := strings.Split(filepath.ToSlash(path), "/")
	base := parts[len(parts)-1]
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	title := strings.TrimSuffix(base, filepath.Ext(base))
	id := tags.Identity{Title: title, Ext: ext}
	if len(parts) >= 3 {
		id.Album = parts[len(parts)-2]
		id.Artist = parts[len(parts)-3]
		id.AlbumArtist = id.Artist
	}
	return id
}

func sequentialUUIDs(t *testing.T) {
	t.Helper()
	n := 0
	prev := NewUUID
	NewUUID = func() string {
		n++
		return fmt.Sprintf("test-uuid-%d", n)
	}
	t.Cleanup(func() { NewUUID = prev })
}

func TestRunCreatesSongs(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "")
	touchFiles(t, lib.Root,
		"incoming/Pink Floyd/Animals/Dogs.flac",
		"incoming/Pink Floyd/Animals/Pigs.flac",
		"incoming/Pink Floyd/Animals/cover.jpg",
	)

	res, err := Run(lib, "incoming/**/*", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Skipped)

	songs := lib.Songs()
	require.Len(t, songs, 2)
	for _, ref := range songs {
		album, _ := ref.Field("album")
		assert.Equal(t, "Animals", album)
		artist, _ := ref.Field("album-artist")
		assert.Equal(t, "Pink Floyd", artist)
		path, ok := ref.Field(library.FieldPath)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(path, "incoming/"))
		assert.NotEmpty(t, ref.Song.UUID)
	}
	assert.NotEqual(t, songs[0].Song.UUID, songs[1].Song.UUID)
}

func TestRunIsIdempotent(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "")
	touchFiles(t, lib.Root, "incoming/Pink Floyd/Animals/Dogs.flac")

	res, err := Run(lib, "incoming/**/*.flac", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	// Importing the same pattern twice with an unchanged threshold
	// produces no new songs on the second run.
	res, err = Run(lib, "incoming/**/*.flac", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, lib.Songs(), 1)
}

func TestRunSkipsRenderedLocations(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "")
	// A song with no recorded path is still known at its computed
	// media location.
	lib.AddAlbum(&library.Album{
		Metadata: map[string]string{
			"album":        "Animals",
			"album-artist": "Pink Floyd",
			"ext":          "flac",
		},
		Songs: []*library.Song{
			{UUID: "existing", Metadata: map[string]string{"title": "Dogs"}},
		},
	})
	touchFiles(t, lib.Root, "media/Pink Floyd/Animals/Dogs.flac")

	res, err := Run(lib, "media/**/*.flac", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, lib.Songs(), 1)
}

func TestRunSuppressesFuzzyDuplicates(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "0.5")
	touchFiles(t, lib.Root,
		"incoming/Pink Floyd/Animals/Dogs.flac",
		"other/Pink Floyd/Animals/Dogs (remaster).flac",
	)

	res, err := Run(lib, "incoming/**/*.flac", probeFromPath)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	res, err = Run(lib, "other/**/*.flac", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestRunThresholdOneKeepsNearDuplicates(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "1.0")
	touchFiles(t, lib.Root,
		"incoming/Pink Floyd/Animals/Dogs.flac",
		"other/Pink Floyd/Animals/Dogs (remaster).flac",
	)

	_, err := Run(lib, "incoming/**/*.flac", probeFromPath)
	require.NoError(t, err)
	res, err := Run(lib, "other/**/*.flac", probeFromPath)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Len(t, lib.Songs(), 2)
}

func TestRunUntaggedFile(t *testing.T) {
	sequentialUUIDs(t)
	lib := testLibrary(t, "")
	touchFiles(t, lib.Root, "incoming/mystery.mp3")

	res, err := Run(lib, "incoming/*.mp3", func(path string) tags.Identity {
		return tags.Identity{Title: "mystery", Ext: "mp3"}
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	ref := lib.Songs()[0]
	album, _ := ref.Field("album")
	assert.Equal(t, "[unsorted]", album)
	artist, _ := ref.Field("album-artist")
	assert.Equal(t, "[unknown]", artist)
}
