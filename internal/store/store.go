// Package store provides the ephemeral key/value state shared by the hub:
// the online set and the bounded chat history. Every operation is
// best-effort; failures are logged and degrade to empty reads or dropped
// writes instead of reaching clients.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable wraps every failure of the underlying backend.
var ErrUnavailable = errors.New("ephemeral store unavailable")

// DefaultListCap is the bound applied to history lists.
const DefaultListCap = 100

const defaultOpTimeout = 2 * time.Second

// Backend is a key/value service holding sets and bounded lists.
type Backend interface {
	// OverwriteSet atomically clears key and repopulates it with members.
	OverwriteSet(ctx context.Context, key string, members []string) error
	AddToSet(ctx context.Context, key, member string) error
	// AppendBounded appends value to the list at key and keeps only the newest limit entries.
	AppendBounded(ctx context.Context, key, value string, limit int) error
	ReadSet(ctx context.Context, key string) ([]string, error)
	// ReadBoundedList returns up to limit newest entries, oldest first.
	ReadBoundedList(ctx context.Context, key string, limit int) ([]string, error)
}

// Ephemeral is the best-effort facade over a Backend used by the hub.
type Ephemeral struct {
	backend Backend
	log     *zap.Logger
	timeout time.Duration
	onError func(op string)
}

// Option customises an Ephemeral.
type Option func(*Ephemeral)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(e *Ephemeral) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithErrorHook registers a callback invoked with the operation name on every backend failure.
func WithErrorHook(fn func(op string)) Option {
	return func(e *Ephemeral) { e.onError = fn }
}

// NewEphemeral wraps backend with the best-effort policy.
func NewEphemeral(backend Backend, logger *zap.Logger, opts ...Option) *Ephemeral {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Ephemeral{
		backend: backend,
		log:     logger.With(zap.String("component", "ephemeral-store")),
		timeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OverwriteSet replaces the set at key. Failures are logged and dropped.
func (e *Ephemeral) OverwriteSet(ctx context.Context, key string, members []string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.backend.OverwriteSet(ctx, key, members); err != nil {
		e.fail("overwrite_set", key, err)
	}
}

// AddToSet adds member to the set at key. Failures are logged and dropped.
func (e *Ephemeral) AddToSet(ctx context.Context, key, member string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.backend.AddToSet(ctx, key, member); err != nil {
		e.fail("add_to_set", key, err)
	}
}

// AppendBounded appends value and trims the list to limit entries. Failures are logged and dropped.
func (e *Ephemeral) AppendBounded(ctx context.Context, key, value string, limit int) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.backend.AppendBounded(ctx, key, value, normalizeCap(limit)); err != nil {
		e.fail("append_bounded", key, err)
	}
}

// ReadSet returns the sorted members of the set at key, or an empty slice on failure.
func (e *Ephemeral) ReadSet(ctx context.Context, key string) []string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	members, err := e.backend.ReadSet(ctx, key)
	if err != nil {
		e.fail("read_set", key, err)
		return []string{}
	}
	if members == nil {
		return []string{}
	}
	sort.Strings(members)
	return members
}

// ReadBoundedList returns up to limit newest entries oldest-first, or an empty slice on failure.
func (e *Ephemeral) ReadBoundedList(ctx context.Context, key string, limit int) []string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	values, err := e.backend.ReadBoundedList(ctx, key, normalizeCap(limit))
	if err != nil {
		e.fail("read_bounded_list", key, err)
		return []string{}
	}
	if values == nil {
		return []string{}
	}
	return values
}

func (e *Ephemeral) fail(op, key string, err error) {
	e.log.Warn("ephemeral store operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	if e.onError != nil {
		e.onError(op)
	}
}

func normalizeCap(limit int) int {
	if limit <= 0 {
		return DefaultListCap
	}
	return limit
}
