package queue

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// RequestStore is the request-queue half of store.Store.
type RequestStore interface {
	FetchQueuedRequests(ctx context.Context, limit int) ([]model.Request, error)
	UpdateRequest(ctx context.Context, r *model.Request) error
}

// StoreSource reads the queue from the lead_requests table.
type StoreSource struct {
	store RequestStore
}

// NewStoreSource creates a Source over s.
func NewStoreSource(s RequestStore) *StoreSource {
	return &StoreSource{store: s}
}

// FetchQueued implements Source.
func (s *StoreSource) FetchQueued(ctx context.Context, limit int) ([]model.Request, error) {
	return s.store.FetchQueuedRequests(ctx, limit)
}

// Update implements Source.
func (s *StoreSource) Update(ctx context.Context, r *model.Request) error {
	return s.store.UpdateRequest(ctx, r)
}
