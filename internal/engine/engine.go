// Package engine executes compiled query requests against a library. It
// wraps each request in an optimistic-concurrency commit: the caller's
// last-id is fenced against the store's current id, operations run
// against the in-memory library, and on full success a fresh transaction
// id is assigned and the library persisted. Entry into the committing
// state is serialized by a process mutex and a cross-process advisory
// lock.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/llehouerou/sonata/internal/importer"
	"github.com/llehouerou/sonata/internal/library"
	"github.com/llehouerou/sonata/internal/pathtmpl"
	"github.com/llehouerou/sonata/internal/query"
	"github.com/llehouerou/sonata/internal/tags"
)

const defaultLockTimeout = 5 * time.Second

// NewID generates transaction ids; swapped in tests for determinism.
var NewID = uuid.NewString

// Engine runs requests against the library rooted at root.
type Engine struct {
	root        string
	fs          tags.Adapter
	probe       importer.ProbeFunc
	log         *slog.Logger
	lockTimeout time.Duration

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLockTimeout bounds how long a request waits for the commit lock
// before failing with a busy error.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithProbe overrides how the import engine reads identifying fields
// from media files.
func WithProbe(probe importer.ProbeFunc) Option {
	return func(e *Engine) { e.probe = probe }
}

// New creates an engine for the library rooted at root, using fs for tag
// and file operations.
func New(root string, fs tags.Adapter, opts ...Option) *Engine {
	e := &Engine{
		root:        root,
		fs:          fs,
		probe:       tags.Identify,
		log:         slog.Default(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute compiles and runs a raw request document. All query-level
// errors are returned in-band in the response.
func (e *Engine) Execute(ctx context.Context, raw []byte) *query.Response {
	req, qerr := query.Compile(raw)
	if qerr != nil {
		return query.Fail(false, qerr)
	}
	return e.Run(ctx, req)
}

// Run executes a compiled request.
func (e *Engine) Run(ctx context.Context, req *query.Request) *query.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := library.EnsureWorkDir(e.root); err != nil {
		return query.Fail(false, toQueryError(err))
	}

	lock := flock.New(library.LockPath(e.root))
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return query.Fail(false,
			query.Errorf(query.ReasonBusy, "another query is already running against %s", e.root))
	}
	defer lock.Unlock() //nolint:errcheck // nothing to do about unlock failures

	lib, err := library.Load(e.root)
	if err != nil {
		return query.Fail(false, toQueryError(err))
	}

	currentID, err := lib.CurrentID()
	if err != nil {
		return query.Fail(false, toQueryError(err))
	}
	if req.HasLastID && req.LastID != currentID {
		e.log.Debug("rejecting stale transaction", "supplied", req.LastID, "current", currentID)
		return query.Fail(false,
			query.Errorf(query.ReasonInterveningTransaction,
				"another transaction (%s) happened after %s but before this one",
				currentID, req.LastID).
				With("last-id", currentID))
	}

	s := &session{root: e.root, fs: e.fs, probe: e.probe, lib: lib}
	if qerr := s.run(req); qerr != nil {
		e.log.Debug("aborting query", "reason", qerr.Reason, "in-progress", s.effects)
		return query.Fail(s.effects, qerr)
	}

	// Commit: persist the store, then fence the next caller with a fresh
	// id. A failure here may leave some files written, so report it as
	// in-progress for the caller to reconcile.
	if err := lib.Save(); err != nil {
		return query.Fail(true, toQueryError(err))
	}
	id := NewID()
	if err := lib.WriteID(id); err != nil {
		return query.Fail(true, toQueryError(err))
	}

	e.log.Debug("committed query", "id", id, "description", req.Description)
	return &query.Response{
		Success: true,
		ID:      id,
		Options: s.options,
		Songs:   s.songs,
		Imports: s.imports,
	}
}

// toQueryError converts internal errors into protocol errors with their
// stable reasons.
func toQueryError(err error) *query.Error {
	var formatErr *library.FormatError
	if errors.As(err, &formatErr) {
		qerr := query.Errorf(query.ReasonMalformedDatabase, "%s", formatErr.Error()).
			With("file", formatErr.File)
		if formatErr.Path != "" {
			qerr.With("path", formatErr.Path)
		}
		return qerr
	}
	var unknownOpt *library.UnknownOptionError
	if errors.As(err, &unknownOpt) {
		return query.Errorf(query.ReasonUnknownOption, "%s", unknownOpt.Error()).
			With("name", unknownOpt.Name)
	}
	var badValue *library.BadOptionValueError
	if errors.As(err, &badValue) {
		return query.Errorf(query.ReasonBadOptionValue, "%s", badValue.Error()).
			With("name", badValue.Name).
			With("value", badValue.Value)
	}
	var unresolved *pathtmpl.UnresolvedError
	if errors.As(err, &unresolved) {
		return query.Errorf(query.ReasonUnresolvedTemplate, "%s", unresolved.Error()).
			With("field", unresolved.Field).
			With("template", unresolved.Template)
	}
	if errors.Is(err, doublestar.ErrBadPattern) {
		return query.Errorf(query.ReasonMalformedQuery, "%s", err.Error())
	}
	return query.Errorf(query.ReasonIOError, "%s", err.Error())
}
