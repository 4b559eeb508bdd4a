package sources

import (
	"context"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/pkg/httpclient"
)

// Fetcher retrieves the raw records of one upstream source.
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context, src Source) ([]domain.SourceRecord, error)
}

// FetcherRegistry resolves the fetcher implementation for a given source.
type FetcherRegistry interface {
	FetcherFor(src Source) (Fetcher, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within sources.
type HTTPClient = httpclient.Client
