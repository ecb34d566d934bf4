package engine

import (
	"path/filepath"
	"sort"

	"github.com/llehouerou/sonata/internal/filter"
	"github.com/llehouerou/sonata/internal/importer"
	"github.com/llehouerou/sonata/internal/library"
	"github.com/llehouerou/sonata/internal/pathtmpl"
	"github.com/llehouerou/sonata/internal/query"
	"github.com/llehouerou/sonata/internal/tags"
)

// session holds the state of one request run: the working copy of the
// library, the accumulated subquery results, and whether any on-disk
// effect (tag write, file move) has already happened. Metadata changes
// live only in lib until the caller commits.
type session struct {
	root  string
	fs    tags.Adapter
	probe importer.ProbeFunc
	lib   *library.Library

	effects bool

	options []map[string]string
	songs   []any
	imports []int
}

// run executes every subquery in request order. The first error aborts.
func (s *session) run(req *query.Request) *query.Error {
	for _, op := range req.Options {
		if qerr := s.runOptions(op); qerr != nil {
			return qerr
		}
	}
	for _, op := range req.Songs {
		if qerr := s.runSongs(op); qerr != nil {
			return qerr
		}
	}
	for _, op := range req.Imports {
		if qerr := s.runImport(op); qerr != nil {
			return qerr
		}
	}
	return nil
}

func (s *session) runOptions(op query.OptionsQuery) *query.Error {
	names := op.Name != "" || len(op.Get) > 0
	for _, name := range optionNamesIn(op) {
		if !library.IsOption(name) {
			return query.Errorf(query.ReasonUnknownOption, "unknown option %q", name).
				With("name", name)
		}
	}

	for _, name := range sortedStringKeys(op.Current) {
		actual, err := s.lib.Option(name)
		if err != nil {
			return toQueryError(err)
		}
		if actual != op.Current[name] {
			return query.Errorf(query.ReasonCurrentMismatch,
				"option %q is %q, not %q", name, actual, op.Current[name]).
				With("name", name).
				With("expected", op.Current[name]).
				With("actual", actual)
		}
	}

	for _, name := range sortedStringKeys(op.Set) {
		if err := s.lib.SetOption(name, op.Set[name]); err != nil {
			return toQueryError(err)
		}
	}

	report := op.Get
	if op.Name != "" {
		report = append([]string{op.Name}, report...)
	}
	if !names {
		report = library.OptionNames()
	}
	result := make(map[string]string, len(report))
	for _, name := range report {
		value, err := s.lib.Option(name)
		if err != nil {
			return toQueryError(err)
		}
		result[name] = value
	}
	s.options = append(s.options, result)
	return nil
}

// optionNamesIn lists every option name the subquery references, for
// upfront existence validation.
func optionNamesIn(op query.OptionsQuery) []string {
	var names []string
	if op.Name != "" {
		names = append(names, op.Name)
	}
	names = append(names, op.Get...)
	names = append(names, sortedStringKeys(op.Current)...)
	names = append(names, sortedStringKeys(op.Set)...)
	return names
}

func (s *session) runSongs(op query.SongsQuery) *query.Error {
	var matched []library.SongRef
	for _, ref := range s.lib.Songs() {
		if filter.Matches(op.Filter, ref.Field) {
			matched = append(matched, ref)
		}
	}
	if len(matched) == 0 && !op.AllowNoMatches {
		return query.Errorf(query.ReasonNoMatches, "no songs matched the filter")
	}

	var media *pathtmpl.Template
	if len(op.Extract) > 0 || len(op.Embed) > 0 || op.Rename || op.Check {
		tmpl, err := s.lib.MediaPath()
		if err != nil {
			return toQueryError(err)
		}
		media = tmpl
	}

	var missing []string
	results := make([]map[string]string, 0, len(matched))
	for _, ref := range matched {
		for _, field := range sortedStringKeys(op.Current) {
			expected := op.Current[field]
			actual, ok := ref.Field(field)
			if !ok || actual != expected {
				qerr := query.Errorf(query.ReasonCurrentMismatch,
					"field %q of song %s is not %q", field, ref.Song.UUID, expected).
					With("field", field).
					With("uuid", ref.Song.UUID).
					With("expected", expected)
				if ok {
					qerr.With("actual", actual)
				} else {
					qerr.With("actual", nil)
				}
				return qerr
			}
		}

		for _, field := range sortedPointerKeys(op.Set) {
			if value := op.Set[field]; value == nil {
				delete(ref.Song.Metadata, field)
			} else {
				if ref.Song.Metadata == nil {
					ref.Song.Metadata = make(map[string]string)
				}
				ref.Song.Metadata[field] = *value
			}
		}

		if len(op.Extract) > 0 {
			if qerr := s.extract(ref, op.Extract, media); qerr != nil {
				return qerr
			}
		}
		if len(op.Embed) > 0 {
			if qerr := s.embed(ref, op.Embed, media); qerr != nil {
				return qerr
			}
		}
		if op.Rename {
			if qerr := s.rename(ref, media); qerr != nil {
				return qerr
			}
		}
		if op.Check {
			target, err := media.Render(ref.Field)
			if err != nil {
				return toQueryError(err)
			}
			if !s.fs.Exists(filepath.Join(s.root, target)) {
				missing = append(missing, target)
			}
		}

		if !op.Quiet {
			results = append(results, getFields(ref, op))
		}
	}

	if len(missing) > 0 {
		return query.Errorf(query.ReasonMissingFiles,
			"%d of %d songs have no file at their expected location",
			len(missing), len(matched)).
			With("files", missing)
	}

	if op.Quiet {
		s.songs = append(s.songs, len(matched))
	} else {
		s.songs = append(s.songs, results)
	}
	return nil
}

// songFile resolves the media file for a song: the recorded path if one
// exists, otherwise the rendered media-path template.
func (s *session) songFile(ref library.SongRef, media *pathtmpl.Template) (string, *query.Error) {
	if rel, ok := ref.Field(library.FieldPath); ok {
		return rel, nil
	}
	rel, err := media.Render(ref.Field)
	if err != nil {
		return "", toQueryError(err)
	}
	return rel, nil
}

func (s *session) extract(ref library.SongRef, fields []string, media *pathtmpl.Template) *query.Error {
	rel, qerr := s.songFile(ref, media)
	if qerr != nil {
		return qerr
	}
	raw, err := s.fs.ReadTags(filepath.Join(s.root, rel))
	if err != nil {
		return toQueryError(err).With("file", rel)
	}
	for _, field := range fields {
		value, ok := tags.Get(raw, field)
		if !ok {
			delete(ref.Song.Metadata, field)
			continue
		}
		if ref.Song.Metadata == nil {
			ref.Song.Metadata = make(map[string]string)
		}
		ref.Song.Metadata[field] = value
	}
	return nil
}

func (s *session) embed(ref library.SongRef, fields []string, media *pathtmpl.Template) *query.Error {
	rel, qerr := s.songFile(ref, media)
	if qerr != nil {
		return qerr
	}
	update := make(map[string][]string, len(fields))
	for _, field := range fields {
		if value, ok := ref.Field(field); ok {
			update[tags.KeyForField(field)] = []string{value}
		} else {
			update[tags.KeyForField(field)] = nil
		}
	}
	// The write may land partially even on error.
	s.effects = true
	if err := s.fs.WriteTags(filepath.Join(s.root, rel), update); err != nil {
		return toQueryError(err).With("file", rel)
	}
	return nil
}

func (s *session) rename(ref library.SongRef, media *pathtmpl.Template) *query.Error {
	target, err := media.Render(ref.Field)
	if err != nil {
		return toQueryError(err)
	}
	current, ok := ref.Field(library.FieldPath)
	if ok && current != target {
		if !s.fs.Exists(filepath.Join(s.root, current)) {
			return query.Errorf(query.ReasonMissingFiles,
				"cannot rename song %s, no file at %q", ref.Song.UUID, current).
				With("files", []string{current})
		}
		s.effects = true
		if err := s.fs.Move(filepath.Join(s.root, current), filepath.Join(s.root, target)); err != nil {
			return toQueryError(err).With("file", current)
		}
	}
	if ref.Song.Metadata == nil {
		ref.Song.Metadata = make(map[string]string)
	}
	ref.Song.Metadata[library.FieldPath] = target
	return nil
}

// getFields builds the reported field map for one matched song. Without
// an explicit get list, every effective field is reported.
func getFields(ref library.SongRef, op query.SongsQuery) map[string]string {
	if !op.HasGet {
		return ref.Fields()
	}
	result := make(map[string]string, len(op.Get))
	for _, field := range op.Get {
		if value, ok := ref.Field(field); ok {
			result[field] = value
		}
	}
	return result
}

func (s *session) runImport(op query.ImportQuery) *query.Error {
	res, err := importer.Run(s.lib, op.Pattern, s.probe)
	if err != nil {
		return toQueryError(err)
	}
	s.imports = append(s.imports, res.Created)
	return nil
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPointerKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
