package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/llehouerou/sonata/internal/filter"
	"github.com/llehouerou/sonata/internal/library"
)

// Compile parses and validates a request document, producing an ordered
// operation list. It fails fast: the first structural error aborts with a
// malformed-query error and nothing is executed.
func Compile(raw []byte) (*Request, *Error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, Errorf(ReasonMalformedQuery, "could not parse query JSON: %v", err)
	}

	top, ok := doc.(map[string]any)
	if !ok {
		return nil, Errorf(ReasonMalformedQuery, "query %s, but should be a map", typeName(doc))
	}

	req := &Request{}
	for _, key := range sortedKeys(top) {
		value := top[key]
		switch key {
		case "last-id":
			s, ok := value.(string)
			if !ok {
				return nil, Errorf(ReasonMalformedQuery, "last-id %s, but should be a string", typeName(value))
			}
			req.LastID = s
			req.HasLastID = true
		case "description":
			s, ok := value.(string)
			if !ok {
				return nil, Errorf(ReasonMalformedQuery, "description %s, but should be a string", typeName(value))
			}
			req.Description = s
		case "options":
			subs, qerr := subqueryList("options", value)
			if qerr != nil {
				return nil, qerr
			}
			for i, sub := range subs {
				op, qerr := compileOptionsQuery(i, sub)
				if qerr != nil {
					return nil, qerr
				}
				req.Options = append(req.Options, op)
			}
		case "songs":
			subs, qerr := subqueryList("songs", value)
			if qerr != nil {
				return nil, qerr
			}
			for i, sub := range subs {
				op, qerr := compileSongsQuery(i, sub)
				if qerr != nil {
					return nil, qerr
				}
				req.Songs = append(req.Songs, op)
			}
		case "import":
			subs, qerr := subqueryList("import", value)
			if qerr != nil {
				return nil, qerr
			}
			for i, sub := range subs {
				op, qerr := compileImportQuery(i, sub)
				if qerr != nil {
					return nil, qerr
				}
				req.Imports = append(req.Imports, op)
			}
		default:
			return nil, Errorf(ReasonMalformedQuery, "unknown key %q in query", key)
		}
	}
	return req, nil
}

// subqueryList checks that an entity kind maps to a sequence of maps and
// returns the subqueries. The index of an offending subquery is named in
// the error.
func subqueryList(kind string, value any) ([]map[string]any, *Error) {
	seq, ok := value.([]any)
	if !ok {
		return nil, Errorf(ReasonMalformedQuery, "%s %s, but should be a vector", kind, typeName(value))
	}
	subs := make([]map[string]any, len(seq))
	for i, item := range seq {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, Errorf(ReasonMalformedQuery,
				"%s subquery %d %s, but should be a map", kind, i, typeName(item))
		}
		subs[i] = sub
	}
	return subs, nil
}

func compileOptionsQuery(idx int, sub map[string]any) (OptionsQuery, *Error) {
	op := OptionsQuery{}
	where := fmt.Sprintf("options subquery %d", idx)
	// A bare scalar set or current is shorthand addressing the named
	// option; it can only be resolved once name is known.
	var scalarSet, scalarCurrent *string
	for _, key := range sortedKeys(sub) {
		value := sub[key]
		switch key {
		case "name":
			s, ok := value.(string)
			if !ok {
				return op, Errorf(ReasonMalformedQuery, "%s: name %s, but should be a string", where, typeName(value))
			}
			op.Name = s
		case "get":
			names, qerr := stringList(where+": get", value)
			if qerr != nil {
				return op, qerr
			}
			op.Get = names
		case "set":
			if s, ok := scalarString(value); ok {
				scalarSet = &s
				continue
			}
			m, qerr := scalarMap(where+": set", value, false)
			if qerr != nil {
				return op, qerr
			}
			op.Set = make(map[string]string, len(m))
			for name, v := range m {
				op.Set[name] = *v
			}
		case "current":
			if s, ok := scalarString(value); ok {
				scalarCurrent = &s
				continue
			}
			m, qerr := scalarMap(where+": current", value, false)
			if qerr != nil {
				return op, qerr
			}
			op.Current = make(map[string]string, len(m))
			for name, v := range m {
				op.Current[name] = *v
			}
		default:
			return op, Errorf(ReasonMalformedQuery, "%s: unknown key %q", where, key)
		}
	}
	if scalarSet != nil {
		if op.Name == "" {
			return op, Errorf(ReasonMalformedQuery, "%s: set is a scalar, but no option name is given", where)
		}
		op.Set = map[string]string{op.Name: *scalarSet}
	}
	if scalarCurrent != nil {
		if op.Name == "" {
			return op, Errorf(ReasonMalformedQuery, "%s: current is a scalar, but no option name is given", where)
		}
		op.Current = map[string]string{op.Name: *scalarCurrent}
	}
	return op, nil
}

func compileSongsQuery(idx int, sub map[string]any) (SongsQuery, *Error) {
	op := SongsQuery{}
	where := fmt.Sprintf("songs subquery %d", idx)
	for _, key := range sortedKeys(sub) {
		value := sub[key]
		switch key {
		case "filter":
			expr, qerr := compileFilter(where, value)
			if qerr != nil {
				return op, qerr
			}
			op.Filter = expr
		case "get":
			names, qerr := stringList(where+": get", value)
			if qerr != nil {
				return op, qerr
			}
			op.Get = names
			op.HasGet = true
		case "set":
			m, qerr := scalarMap(where+": set", value, true)
			if qerr != nil {
				return op, qerr
			}
			if _, ok := m[library.FieldUUID]; ok {
				return op, Errorf(ReasonMalformedQuery, "%s: field %q is reserved and cannot be set", where, library.FieldUUID)
			}
			op.Set = m
		case "current":
			m, qerr := scalarMap(where+": current", value, false)
			if qerr != nil {
				return op, qerr
			}
			op.Current = make(map[string]string, len(m))
			for name, v := range m {
				op.Current[name] = *v
			}
		case "extract":
			names, qerr := stringList(where+": extract", value)
			if qerr != nil {
				return op, qerr
			}
			for _, name := range names {
				if name == library.FieldUUID {
					return op, Errorf(ReasonMalformedQuery, "%s: field %q is reserved and cannot be extracted", where, library.FieldUUID)
				}
			}
			op.Extract = names
		case "embed":
			names, qerr := stringList(where+": embed", value)
			if qerr != nil {
				return op, qerr
			}
			op.Embed = names
		case "rename", "check", "allow-no-matches", "quiet":
			b, ok := value.(bool)
			if !ok {
				return op, Errorf(ReasonMalformedQuery, "%s: %s %s, but should be a boolean", where, key, typeName(value))
			}
			switch key {
			case "rename":
				op.Rename = b
			case "check":
				op.Check = b
			case "allow-no-matches":
				op.AllowNoMatches = b
			case "quiet":
				op.Quiet = b
			}
		default:
			return op, Errorf(ReasonMalformedQuery, "%s: unknown key %q", where, key)
		}
	}

	// Field-set legality: extract pulls from embedded tags into metadata,
	// so it must not race with set writes or embed reads of the same field
	// within one operation.
	for _, field := range op.Extract {
		if _, ok := op.Set[field]; ok {
			return op, Errorf(ReasonMalformedQuery,
				"%s: field %q appears in both extract and set", where, field)
		}
		for _, embedded := range op.Embed {
			if field == embedded {
				return op, Errorf(ReasonMalformedQuery,
					"%s: field %q appears in both extract and embed", where, field)
			}
		}
	}
	return op, nil
}

func compileImportQuery(idx int, sub map[string]any) (ImportQuery, *Error) {
	op := ImportQuery{}
	where := fmt.Sprintf("import subquery %d", idx)
	for _, key := range sortedKeys(sub) {
		value := sub[key]
		switch key {
		case "query":
			s, ok := value.(string)
			if !ok {
				return op, Errorf(ReasonMalformedQuery, "%s: query %s, but should be a string", where, typeName(value))
			}
			op.Pattern = s
		case "type":
			s, ok := value.(string)
			if !ok {
				return op, Errorf(ReasonMalformedQuery, "%s: type %s, but should be a string", where, typeName(value))
			}
			if s != "wildcard" {
				return op, Errorf(ReasonMalformedQuery, "%s: unknown import type %q", where, s)
			}
		default:
			return op, Errorf(ReasonMalformedQuery, "%s: unknown key %q", where, key)
		}
	}
	if op.Pattern == "" {
		return op, Errorf(ReasonMalformedQuery, "%s: missing query pattern", where)
	}
	return op, nil
}

// compileFilter turns a filter document into a predicate tree. An object
// with several keys is an implicit conjunction of its entries.
func compileFilter(where string, value any) (filter.Expr, *Error) {
	m, ok := value.(map[string]any)
	if !ok {
		return filter.Expr{}, Errorf(ReasonMalformedQuery, "%s: filter %s, but should be a map", where, typeName(value))
	}
	exprs, qerr := compileFilterEntries(where, m)
	if qerr != nil {
		return filter.Expr{}, qerr
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return filter.Expr{All: exprs}, nil
}

func compileFilterEntries(where string, m map[string]any) ([]filter.Expr, *Error) {
	var exprs []filter.Expr
	for _, key := range sortedKeys(m) {
		expr, qerr := compileFilterEntry(where, key, m[key])
		if qerr != nil {
			return nil, qerr
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func compileFilterEntry(where, key string, value any) (filter.Expr, *Error) {
	switch key {
	case "!all", "!any":
		m, ok := value.(map[string]any)
		if !ok {
			return filter.Expr{}, Errorf(ReasonMalformedQuery,
				"%s: filter combinator %q %s, but should be a map", where, key, typeName(value))
		}
		subs, qerr := compileFilterEntries(where, m)
		if qerr != nil {
			return filter.Expr{}, qerr
		}
		if subs == nil {
			subs = []filter.Expr{}
		}
		if key == "!all" {
			return filter.Expr{All: subs}, nil
		}
		return filter.Expr{Any: subs}, nil
	default:
		leaf, qerr := compileLeaf(where, key, value)
		if qerr != nil {
			return filter.Expr{}, qerr
		}
		return filter.Expr{Leaf: leaf}, nil
	}
}

func compileLeaf(where, field string, value any) (*filter.Leaf, *Error) {
	// Bare scalar shorthand for a literal equality match.
	if s, ok := scalarString(value); ok {
		return &filter.Leaf{Field: field, Op: filter.OpLiteral, Query: s}, nil
	}

	m, ok := value.(map[string]any)
	if !ok {
		return nil, Errorf(ReasonMalformedQuery,
			"%s: filter for field %q %s, but should be a scalar or a map", where, field, typeName(value))
	}

	leaf := &filter.Leaf{Field: field, Op: filter.OpLiteral}
	var query any
	hasQuery := false
	for _, key := range sortedKeys(m) {
		v := m[key]
		switch key {
		case "type":
			s, ok := v.(string)
			if !ok {
				return nil, Errorf(ReasonMalformedQuery,
					"%s: filter type for field %q %s, but should be a string", where, field, typeName(v))
			}
			leaf.Op = s
		case "query":
			query = v
			hasQuery = true
		case "substring":
			b, ok := v.(bool)
			if !ok {
				return nil, Errorf(ReasonMalformedQuery,
					"%s: filter substring for field %q %s, but should be a boolean", where, field, typeName(v))
			}
			leaf.Substring = b
		case "case-fold":
			b, ok := v.(bool)
			if !ok {
				return nil, Errorf(ReasonMalformedQuery,
					"%s: filter case-fold for field %q %s, but should be a boolean", where, field, typeName(v))
			}
			leaf.CaseFold = b
		default:
			return nil, Errorf(ReasonMalformedQuery, "%s: unknown filter key %q for field %q", where, key, field)
		}
	}

	switch leaf.Op {
	case filter.OpLiteral:
		if !hasQuery {
			return nil, Errorf(ReasonMalformedQuery, "%s: filter for field %q is missing query", where, field)
		}
		s, ok := scalarString(query)
		if !ok {
			return nil, Errorf(ReasonMalformedQuery,
				"%s: filter query for field %q %s, but should be a scalar", where, field, typeName(query))
		}
		leaf.Query = s
	case filter.OpMissing:
		// The comparison value is ignored; a boolean selects the desired
		// presence, any other scalar means the default of matching absence.
		b := true
		if hasQuery {
			if explicit, isBool := query.(bool); isBool {
				b = explicit
			} else if _, isScalar := scalarString(query); !isScalar {
				return nil, Errorf(ReasonMalformedQuery,
					"%s: filter query for field %q %s, but should be a scalar", where, field, typeName(query))
			}
		}
		leaf.WantMissing = b
	default:
		return nil, Errorf(ReasonMalformedQuery, "%s: unknown filter operation %q for field %q", where, leaf.Op, field)
	}
	return leaf, nil
}

// stringList validates a sequence of strings.
func stringList(where string, value any) ([]string, *Error) {
	seq, ok := value.([]any)
	if !ok {
		return nil, Errorf(ReasonMalformedQuery, "%s %s, but should be a vector", where, typeName(value))
	}
	out := make([]string, len(seq))
	for i, item := range seq {
		s, ok := item.(string)
		if !ok {
			return nil, Errorf(ReasonMalformedQuery, "%s element %d %s, but should be a string", where, i, typeName(item))
		}
		out[i] = s
	}
	return out, nil
}

// scalarMap validates a mapping of field names to scalars. When allowNull
// is true a null value is kept as nil, meaning "unset".
func scalarMap(where string, value any, allowNull bool) (map[string]*string, *Error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, Errorf(ReasonMalformedQuery, "%s %s, but should be a map", where, typeName(value))
	}
	out := make(map[string]*string, len(m))
	for key, v := range m {
		if v == nil {
			if !allowNull {
				return nil, Errorf(ReasonMalformedQuery, "%s: value for %q is null, but should be a scalar", where, key)
			}
			out[key] = nil
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			return nil, Errorf(ReasonMalformedQuery, "%s: value for %q %s, but should be a scalar", where, key, typeName(v))
		}
		out[key] = &s
	}
	return out, nil
}

// scalarString canonicalizes a JSON scalar into its stored string form.
func scalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// typeName describes a decoded JSON value for error messages, phrased as
// "is a vector", "is a map", and so on.
func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "is null"
	case string:
		return "is a string"
	case json.Number:
		return "is a number"
	case bool:
		return "is a boolean"
	case []any:
		return "is a vector"
	case map[string]any:
		return "is a map"
	default:
		return "has an unexpected type"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
