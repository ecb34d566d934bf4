// Package pathtmpl implements the path templates used by the library
// options, e.g. "media/{album-artist}/{album}/{title}.{ext}". Placeholders
// are substituted from metadata fields; escaped braces are {{ and }}.
package pathtmpl

import (
	"fmt"
	"strings"
)

// segment represents either a literal string or a placeholder.
type segment struct {
	isPlaceholder bool
	value         string // placeholder name (without braces) or literal text
}

// Template is a parsed path template.
type Template struct {
	raw      string
	segments []segment
}

// ParseError reports a syntactically invalid template.
type ParseError struct {
	Template string
	Msg      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid path template %q: %s", e.Template, e.Msg)
}

// UnresolvedError reports a placeholder with no corresponding field value.
// This is distinct from a missing file: the path cannot even be computed.
type UnresolvedError struct {
	Template string
	Field    string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved placeholder {%s} in path template %q", e.Field, e.Template)
}

// Parse parses a template string into a Template.
func Parse(template string) (*Template, error) {
	if template == "" {
		return nil, &ParseError{Template: template, Msg: "template is empty"}
	}

	var segments []segment
	var current []rune
	inPlaceholder := false

	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		// Check for escaped braces
		if r == '{' && i+1 < len(runes) && runes[i+1] == '{' && !inPlaceholder {
			current = append(current, '{')
			i++ // skip next brace
			continue
		}
		if r == '}' && i+1 < len(runes) && runes[i+1] == '}' && !inPlaceholder {
			current = append(current, '}')
			i++ // skip next brace
			continue
		}

		if r == '{' && !inPlaceholder {
			if len(current) > 0 {
				segments = append(segments, segment{isPlaceholder: false, value: string(current)})
				current = nil
			}
			inPlaceholder = true
			continue
		}

		if r == '}' && inPlaceholder {
			name := string(current)
			if name == "" {
				return nil, &ParseError{Template: template, Msg: "empty placeholder"}
			}
			segments = append(segments, segment{isPlaceholder: true, value: name})
			current = nil
			inPlaceholder = false
			continue
		}

		current = append(current, r)
	}

	if inPlaceholder {
		return nil, &ParseError{Template: template, Msg: "unterminated placeholder"}
	}
	if len(current) > 0 {
		segments = append(segments, segment{isPlaceholder: false, value: string(current)})
	}

	return &Template{raw: template, segments: segments}, nil
}

// Raw returns the original template string.
func (t *Template) Raw() string {
	return t.raw
}

// Fields returns the placeholder names in template order, without duplicates.
func (t *Template) Fields() []string {
	var fields []string
	seen := make(map[string]struct{})
	for _, seg := range t.segments {
		if !seg.isPlaceholder {
			continue
		}
		if _, ok := seen[seg.value]; ok {
			continue
		}
		seen[seg.value] = struct{}{}
		fields = append(fields, seg.value)
	}
	return fields
}

// Render substitutes every placeholder using lookup. A placeholder whose
// field has no value yields an UnresolvedError.
func (t *Template) Render(lookup func(string) (string, bool)) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.isPlaceholder {
			b.WriteString(seg.value)
			continue
		}
		v, ok := lookup(seg.value)
		if !ok || v == "" {
			return "", &UnresolvedError{Template: t.raw, Field: seg.value}
		}
		b.WriteString(sanitizeComponent(v))
	}
	return b.String(), nil
}

// GlobPattern returns the template with every placeholder replaced by "*",
// suitable for discovering existing files that the template could have
// produced.
func (t *Template) GlobPattern() string {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.isPlaceholder {
			b.WriteString("*")
		} else {
			b.WriteString(seg.value)
		}
	}
	return b.String()
}

// sanitizeComponent keeps substituted values from escaping their path
// component or producing illegal filenames.
func sanitizeComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.TrimSpace(s)
	return s
}
