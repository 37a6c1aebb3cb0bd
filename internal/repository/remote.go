package repository

import (
	"context"

	"example.com/walks/internal/domain"
)

// RemoteStore is the document-store contract implemented by provider
// adapters. Implementations map their native errors into the domain
// taxonomy; timeouts surface as KindNetwork.
type RemoteStore interface {
	// Put upserts the walk document, merge/last-write-wins by id.
	Put(ctx context.Context, w domain.Walk) error
	// Get returns (nil, nil) when the document does not exist.
	Get(ctx context.Context, id string) (*domain.Walk, error)
	// Query returns the owner's walks ordered newest-first by creation time.
	Query(ctx context.Context, ownerID string) ([]domain.Walk, error)
	// Delete removes the document. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
