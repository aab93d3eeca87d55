package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only for writes.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ByCall(ctx context.Context, callSID string) ([]Event, error)
}

// Recorder is the narrow write-side surface the call bridge consumes.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("calllog: invalid event")

// Service records per-call events.
//
// Callers should treat call logging as best-effort: a failed append is
// logged and dropped, never propagated into the call path.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Record(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if e.CallSID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// ByCall returns a call's events in append order.
func (s *Service) ByCall(ctx context.Context, callSID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("calllog: repository not configured")
	}
	return s.repo.ByCall(ctx, callSID)
}
