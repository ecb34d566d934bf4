package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/sonata/internal/filter"
)

func compileOK(t *testing.T, raw string) *Request {
	t.Helper()
	req, qerr := Compile([]byte(raw))
	require.Nil(t, qerr)
	return req
}

func compileFail(t *testing.T, raw string) *Error {
	t.Helper()
	_, qerr := Compile([]byte(raw))
	require.NotNil(t, qerr)
	assert.Equal(t, ReasonMalformedQuery, qerr.Reason)
	return qerr
}

func TestCompileFullRequest(t *testing.T) {
	req := compileOK(t, `{
		"last-id": "txn-41",
		"description": "retag the dark side",
		"options": [{"name": "deduplication-threshold"}],
		"songs": [{
			"filter": {"album": "The Dark Side of the Moon"},
			"set": {"genre": "progressive rock", "comment": null},
			"get": ["title", "genre"],
			"embed": ["genre"],
			"rename": true,
			"quiet": false
		}],
		"import": [{"query": "incoming/**/*.flac", "type": "wildcard"}]
	}`)

	assert.True(t, req.HasLastID)
	assert.Equal(t, "txn-41", req.LastID)
	assert.Equal(t, "retag the dark side", req.Description)

	require.Len(t, req.Options, 1)
	assert.Equal(t, "deduplication-threshold", req.Options[0].Name)

	require.Len(t, req.Songs, 1)
	songs := req.Songs[0]
	require.NotNil(t, songs.Filter.Leaf)
	assert.Equal(t, "album", songs.Filter.Leaf.Field)
	assert.Equal(t, "The Dark Side of the Moon", songs.Filter.Leaf.Query)
	require.Contains(t, songs.Set, "genre")
	assert.Equal(t, "progressive rock", *songs.Set["genre"])
	require.Contains(t, songs.Set, "comment")
	assert.Nil(t, songs.Set["comment"])
	assert.True(t, songs.HasGet)
	assert.Equal(t, []string{"title", "genre"}, songs.Get)
	assert.True(t, songs.Rename)
	assert.False(t, songs.Quiet)

	require.Len(t, req.Imports, 1)
	assert.Equal(t, "incoming/**/*.flac", req.Imports[0].Pattern)
}

func TestCompileScalarOptionShorthand(t *testing.T) {
	req := compileOK(t, `{"options": [{
		"name": "deduplication-threshold",
		"current": "0.75",
		"set": 0.5
	}]}`)
	op := req.Options[0]
	assert.Equal(t, map[string]string{"deduplication-threshold": "0.75"}, op.Current)
	assert.Equal(t, map[string]string{"deduplication-threshold": "0.5"}, op.Set)

	qerr := compileFail(t, `{"options": [{"set": "0.5"}]}`)
	assert.Contains(t, qerr.Message, "no option name is given")
}

func TestCompileScalarCanonicalization(t *testing.T) {
	req := compileOK(t, `{"songs": [{"set": {"track-number": 4, "favorite": true}}]}`)
	set := req.Songs[0].Set
	assert.Equal(t, "4", *set["track-number"])
	assert.Equal(t, "true", *set["favorite"])
}

func TestCompileFilterTree(t *testing.T) {
	req := compileOK(t, `{"songs": [{"filter": {
		"album": "Time",
		"!any": {
			"artist": {"query": "floyd", "type": "literal", "substring": true, "case-fold": true},
			"genre": {"type": "missing", "query": true}
		}
	}}]}`)

	expr := req.Songs[0].Filter
	require.Len(t, expr.All, 2)

	// Keys are compiled in sorted order: "!any" before "album".
	anyExpr := expr.All[0]
	require.Len(t, anyExpr.Any, 2)
	artist := anyExpr.Any[0].Leaf
	require.NotNil(t, artist)
	assert.Equal(t, filter.OpLiteral, artist.Op)
	assert.True(t, artist.Substring)
	assert.True(t, artist.CaseFold)
	genre := anyExpr.Any[1].Leaf
	require.NotNil(t, genre)
	assert.Equal(t, filter.OpMissing, genre.Op)
	assert.True(t, genre.WantMissing)

	album := expr.All[1].Leaf
	require.NotNil(t, album)
	assert.Equal(t, "Time", album.Query)
}

func TestCompileMissingIgnoresComparisonValue(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantMissing bool
	}{
		{
			name:        "string query is ignored",
			raw:         `{"songs": [{"filter": {"rating": {"type": "missing", "query": "anything"}}, "allow-no-matches": true}]}`,
			wantMissing: true,
		},
		{
			name:        "number query is ignored",
			raw:         `{"songs": [{"filter": {"rating": {"type": "missing", "query": 5}}}]}`,
			wantMissing: true,
		},
		{
			name:        "no query defaults to matching absence",
			raw:         `{"songs": [{"filter": {"rating": {"type": "missing"}}}]}`,
			wantMissing: true,
		},
		{
			name:        "boolean query selects presence",
			raw:         `{"songs": [{"filter": {"rating": {"type": "missing", "query": false}}}]}`,
			wantMissing: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := compileOK(t, tt.raw)
			leaf := req.Songs[0].Filter.Leaf
			require.NotNil(t, leaf)
			assert.Equal(t, filter.OpMissing, leaf.Op)
			assert.Equal(t, tt.wantMissing, leaf.WantMissing)
		})
	}
}

func TestCompileEmptyFilterMatchesEverything(t *testing.T) {
	req := compileOK(t, `{"songs": [{"filter": {}}]}`)
	assert.True(t, filter.Matches(req.Songs[0].Filter, func(string) (string, bool) { return "", false }))
}

func TestCompileMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{
			name:    "invalid json",
			raw:     `{`,
			message: "could not parse query JSON",
		},
		{
			name:    "top level not a map",
			raw:     `[1, 2]`,
			message: "query is a vector, but should be a map",
		},
		{
			name:    "unknown top-level key",
			raw:     `{"song": []}`,
			message: `unknown key "song"`,
		},
		{
			name:    "subquery is a vector",
			raw:     `{"songs": [{}, ["oops"]]}`,
			message: "songs subquery 1 is a vector, but should be a map",
		},
		{
			name:    "subquery is a string",
			raw:     `{"options": ["deduplication-threshold"]}`,
			message: "options subquery 0 is a string, but should be a map",
		},
		{
			name:    "unknown subquery key",
			raw:     `{"songs": [{"gte": ["title"]}]}`,
			message: `unknown key "gte"`,
		},
		{
			name:    "set of uuid",
			raw:     `{"songs": [{"set": {"uuid": "forged"}}]}`,
			message: `field "uuid" is reserved`,
		},
		{
			name:    "extract and set overlap",
			raw:     `{"songs": [{"extract": ["title"], "set": {"title": "x"}}]}`,
			message: `field "title" appears in both extract and set`,
		},
		{
			name:    "extract and embed overlap",
			raw:     `{"songs": [{"extract": ["genre"], "embed": ["genre"]}]}`,
			message: `field "genre" appears in both extract and embed`,
		},
		{
			name:    "unknown filter operation",
			raw:     `{"songs": [{"filter": {"title": {"type": "regex", "query": ".*"}}}]}`,
			message: `unknown filter operation "regex"`,
		},
		{
			name:    "vector query under missing",
			raw:     `{"songs": [{"filter": {"rating": {"type": "missing", "query": ["x"]}}}]}`,
			message: `filter query for field "rating" is a vector, but should be a scalar`,
		},
		{
			name:    "null in current",
			raw:     `{"songs": [{"current": {"title": null}}]}`,
			message: "is null, but should be a scalar",
		},
		{
			name:    "import without wildcard type",
			raw:     `{"import": [{"query": "*.mp3", "type": "regex"}]}`,
			message: `unknown import type "regex"`,
		},
		{
			name:    "import without pattern",
			raw:     `{"import": [{"type": "wildcard"}]}`,
			message: "missing query pattern",
		},
		{
			name:    "boolean flag with wrong type",
			raw:     `{"songs": [{"rename": "yes"}]}`,
			message: "rename is a string, but should be a boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qerr := compileFail(t, tt.raw)
			assert.Contains(t, qerr.Message, tt.message)
		})
	}
}

func TestErrorJSONRoundTrip(t *testing.T) {
	qerr := Errorf(ReasonInterveningTransaction,
		"another transaction happened first").With("last-id", "txn-9")

	data, err := json.Marshal(qerr)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "intervening-transaction", decoded["reason"])
	assert.Equal(t, "txn-9", decoded["last-id"])

	var restored Error
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, qerr.Reason, restored.Reason)
	assert.Equal(t, "txn-9", restored.Extra["last-id"])
}

func TestResponseJSONShape(t *testing.T) {
	resp := &Response{
		Success: true,
		ID:      "txn-42",
		Songs:   []any{[]map[string]string{{"title": "Time"}}},
	}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, "txn-42", decoded["id"])
	assert.NotContains(t, decoded, "errors")
	assert.NotContains(t, decoded, "options")
}
