package query

import (
	"encoding/json"
	"fmt"
)

// Stable error reasons returned in response documents.
const (
	ReasonMalformedQuery         = "malformed-query"
	ReasonMalformedDatabase      = "malformed-database"
	ReasonNoMatches              = "no-matches"
	ReasonInterveningTransaction = "intervening-transaction"
	ReasonMissingFiles           = "missing-files"
	ReasonUnknownOption          = "option/does-not-exist"
	ReasonBadOptionValue         = "option/bad-value"
	ReasonCurrentMismatch        = "current-mismatch"
	ReasonUnresolvedTemplate     = "unresolved-template"
	ReasonIOError                = "io-error"
	ReasonBusy                   = "busy"
)

// Error is a query-level error, returned in-band in the response document.
// Extra keys are flattened into the JSON error object alongside reason and
// message.
type Error struct {
	Reason  string
	Message string
	Extra   map[string]any
}

// Errorf builds an Error with a formatted message.
func Errorf(reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// With attaches an extra key to the error object and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// MarshalJSON renders the error as a flat object. Keys are emitted in a
// deterministic order: reason, message, then extras sorted by key.
func (e *Error) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extra)+2)
	obj["reason"] = e.Reason
	obj["message"] = e.Message
	for k, v := range e.Extra {
		if k == "reason" || k == "message" {
			continue
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

// UnmarshalJSON restores an Error from its flat object form.
func (e *Error) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if reason, ok := obj["reason"].(string); ok {
		e.Reason = reason
	}
	if message, ok := obj["message"].(string); ok {
		e.Message = message
	}
	delete(obj, "reason")
	delete(obj, "message")
	if len(obj) > 0 {
		e.Extra = obj
	}
	return nil
}
