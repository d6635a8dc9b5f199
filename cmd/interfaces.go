package cmd

import (
	"context"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
)

// HistoryStore is what run needs from the history database: the HTTP history
// endpoint and the scheduled cleanup.
type HistoryStore interface {
	GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type resyncer interface {
	Resync(ctx context.Context) error
}
