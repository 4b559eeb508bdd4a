package runner

import (
	"context"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/pkg/announce"
)

// RecordPublisher posts canonical records to the aggregation endpoint.
// *announce.Client satisfies it.
type RecordPublisher interface {
	Publish(ctx context.Context, records []domain.CanonicalRecord, opts ...announce.PublishOption) ([]domain.PublishResult, error)
}

// Exporter persists the records published for a source in one run.
type Exporter interface {
	Write(name string, records []domain.CanonicalRecord) (string, error)
}
