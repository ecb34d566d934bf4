// Package query implements the JSON query protocol: request compilation
// into a validated operation list, and the response document. Compilation
// never executes anything; the first structural error aborts it.
package query

import "github.com/llehouerou/sonata/internal/filter"

// Request is a compiled request document: an ordered list of validated
// operations per entity kind, plus the optional transaction fence.
type Request struct {
	LastID      string
	HasLastID   bool
	Description string

	Options []OptionsQuery
	Songs   []SongsQuery
	Imports []ImportQuery
}

// OptionsQuery is one subquery against the library options.
type OptionsQuery struct {
	Name    string
	Get     []string
	Set     map[string]string
	Current map[string]string
}

// SongsQuery is one subquery against the songs. Set values of nil unset
// the field.
type SongsQuery struct {
	Filter  filter.Expr
	Get     []string
	HasGet  bool
	Set     map[string]*string
	Current map[string]string
	Extract []string
	Embed   []string

	Rename         bool
	Check          bool
	AllowNoMatches bool
	Quiet          bool
}

// ImportQuery names a wildcard pattern of candidate media files.
type ImportQuery struct {
	Pattern string
}

// Response is the response document. Query-level errors are carried
// in-band; Success is false whenever Errors is non-empty.
type Response struct {
	Success    bool                `json:"success"`
	ID         string              `json:"id,omitempty"`
	InProgress bool                `json:"in-progress"`
	Errors     []*Error            `json:"errors,omitempty"`
	Options    []map[string]string `json:"options,omitempty"`
	Songs      []any               `json:"songs,omitempty"`
	Imports    []int               `json:"imports,omitempty"`
}

// Fail builds a failed response carrying the given errors.
func Fail(inProgress bool, errs ...*Error) *Response {
	return &Response{Success: false, InProgress: inProgress, Errors: errs}
}
