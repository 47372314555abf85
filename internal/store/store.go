// Package store persists feedback submissions. A Backend speaks to one
// concrete database; Submissions wraps a Backend with the behavior the
// HTTP handlers rely on (error wrapping, fail-soft listing, id guarding).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"club-feedback/internal/config"
	"club-feedback/internal/feedback"
	"club-feedback/internal/logging"
)

// MaxIDLength is the longest id DeleteByID will pass to the backend.
const MaxIDLength = 50

// Backend is the minimal document-store surface: insert-one, find-all
// sorted by timestamp descending, delete-one by id, and index creation.
type Backend interface {
	Insert(ctx context.Context, sub feedback.Submission) error
	FindAll(ctx context.Context) ([]feedback.Submission, error)
	DeleteOne(ctx context.Context, id string) (bool, error)
	EnsureIndexes(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Name() string
}

// StoreError reports that the backend was unreachable or rejected an operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrUnsupportedScheme is returned by Open for an unknown URI scheme.
var ErrUnsupportedScheme = errors.New("unsupported store scheme")

// Open connects the backend selected by cfg.URI's scheme.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	scheme, _, ok := strings.Cut(cfg.URI, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.URI)
	}

	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return ConnectMongo(ctx, cfg.URI, cfg.Database, cfg.Collection)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, cfg.URI)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// Submissions is the adapter the HTTP layer talks to.
type Submissions struct {
	backend Backend
	timeout time.Duration
	log     logging.Logger
}

// NewSubmissions wraps backend. A zero timeout leaves deadlines to the caller.
func NewSubmissions(backend Backend, timeout time.Duration, log logging.Logger) *Submissions {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Submissions{backend: backend, timeout: timeout, log: log}
}

func (s *Submissions) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Insert persists an already sanitized submission.
func (s *Submissions) Insert(ctx context.Context, sub feedback.Submission) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.backend.Insert(ctx, sub); err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

// ListAllByRecency returns every submission, newest first. A store failure
// is logged and degraded to an empty list.
func (s *Submissions) ListAllByRecency(ctx context.Context) []feedback.Submission {
	subs, err := s.FindAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("list_submissions_failed", map[string]any{
			"backend": s.backend.Name(),
		})
		return []feedback.Submission{}
	}
	return subs
}

// FindAll is the strict variant of ListAllByRecency used by backups.
func (s *Submissions) FindAll(ctx context.Context) ([]feedback.Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subs, err := s.backend.FindAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "find", Err: err}
	}
	if subs == nil {
		subs = []feedback.Submission{}
	}
	return subs, nil
}

// DeleteByID removes the submission with id and reports whether one was
// removed. Empty or over-long ids are rejected without a store round trip.
func (s *Submissions) DeleteByID(ctx context.Context, id string) (bool, error) {
	if id == "" || utf8.RuneCountInString(id) > MaxIDLength {
		return false, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	deleted, err := s.backend.DeleteOne(ctx, id)
	if err != nil {
		return false, &StoreError{Op: "delete", Err: err}
	}
	return deleted, nil
}

// Ping checks backend reachability.
func (s *Submissions) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}
