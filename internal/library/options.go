package library

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/llehouerou/sonata/internal/pathtmpl"
)

// OptionKind is the declared type of an option value. Values are strings
// on disk; decoding into the declared type happens here, at the store
// boundary, never ad hoc at call sites.
type OptionKind int

const (
	KindString OptionKind = iota
	KindFloat
	KindTemplate
)

type optionSpec struct {
	kind OptionKind
	def  string
}

// The registered options and their defaults. Options exist for the life
// of the library and are never created or destroyed by queries.
var optionSpecs = map[string]optionSpec{
	"deduplication-threshold": {KindFloat, "0.75"},
	"media-path":              {KindTemplate, "media/{album-artist}/{album}/{title}.{ext}"},
	"metadata-path":           {KindTemplate, "metadata/{album-artist}/{album}.yml"},
}

// UnknownOptionError reports a reference to an option that does not exist.
type UnknownOptionError struct {
	Name string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("option %q does not exist", e.Name)
}

// BadOptionValueError reports a value that does not type-check against the
// option's declared type. The library state is never mutated in this case.
type BadOptionValueError struct {
	Name  string
	Value string
	Err   error
}

func (e *BadOptionValueError) Error() string {
	return fmt.Sprintf("malformed value %q for option %q: %v", e.Value, e.Name, e.Err)
}

func (e *BadOptionValueError) Unwrap() error { return e.Err }

// IsOption reports whether name is a registered option.
func IsOption(name string) bool {
	_, ok := optionSpecs[name]
	return ok
}

// OptionNames returns all registered option names, sorted.
func OptionNames() []string {
	names := make([]string, 0, len(optionSpecs))
	for name := range optionSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateOption type-checks a value against the option's declared type
// without mutating anything.
func ValidateOption(name, value string) error {
	spec, ok := optionSpecs[name]
	if !ok {
		return &UnknownOptionError{Name: name}
	}
	switch spec.kind {
	case KindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &BadOptionValueError{Name: name, Value: value, Err: fmt.Errorf("not a floating-point number")}
		}
		if f < 0 || f > 1 {
			return &BadOptionValueError{Name: name, Value: value, Err: fmt.Errorf("must be between 0 and 1")}
		}
	case KindTemplate:
		if _, err := pathtmpl.Parse(value); err != nil {
			return &BadOptionValueError{Name: name, Value: value, Err: err}
		}
	}
	return nil
}

// Option returns the effective value of an option: the stored value if one
// is set, the registered default otherwise.
func (l *Library) Option(name string) (string, error) {
	spec, ok := optionSpecs[name]
	if !ok {
		return "", &UnknownOptionError{Name: name}
	}
	if v, ok := l.Options[name]; ok {
		return v, nil
	}
	return spec.def, nil
}

// SetOption type-checks and stores a new option value. A type error leaves
// the library unchanged.
func (l *Library) SetOption(name, value string) error {
	if err := ValidateOption(name, value); err != nil {
		return err
	}
	if l.Options == nil {
		l.Options = make(map[string]string)
	}
	l.Options[name] = value
	return nil
}

// DedupThreshold returns the decoded deduplication threshold.
func (l *Library) DedupThreshold() (float64, error) {
	raw, err := l.Option("deduplication-threshold")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &BadOptionValueError{Name: "deduplication-threshold", Value: raw, Err: err}
	}
	return f, nil
}

// MediaPath returns the parsed media path template.
func (l *Library) MediaPath() (*pathtmpl.Template, error) {
	return l.templateOption("media-path")
}

// MetadataPath returns the parsed metadata path template.
func (l *Library) MetadataPath() (*pathtmpl.Template, error) {
	return l.templateOption("metadata-path")
}

func (l *Library) templateOption(name string) (*pathtmpl.Template, error) {
	raw, err := l.Option(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := pathtmpl.Parse(raw)
	if err != nil {
		return nil, &BadOptionValueError{Name: name, Value: raw, Err: err}
	}
	return tmpl, nil
}
