// Package runner executes ingestion passes: fetch each source, normalize its
// records, publish the new ones and checkpoint the result.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/internal/ingest"
	"github.com/samvad-hq/helpline-relay/internal/logger"
	"github.com/samvad-hq/helpline-relay/internal/storage"
	"github.com/samvad-hq/helpline-relay/pkg/announce"
	"github.com/samvad-hq/helpline-relay/pkg/ident"
	"github.com/samvad-hq/helpline-relay/pkg/sources"
)

// Options tunes a pass.
type Options struct {
	// RaiseOnError is handed to the publisher for each record.
	RaiseOnError bool
	// SkipPublished drops records whose id is already in the previous checkpoint.
	SkipPublished bool
}

// Summary reports what one source pass did.
type Summary struct {
	SourceID   string `json:"source_id"`
	Fetched    int    `json:"fetched"`
	Normalized int    `json:"normalized"`
	Skipped    int    `json:"skipped"`
	Published  int    `json:"published"`
	Failed     int    `json:"failed"`
	ExportPath string `json:"export_path,omitempty"`
}

// Service coordinates ingestion across sources.
type Service struct {
	registry  sources.FetcherRegistry
	publisher RecordPublisher
	store     storage.Store
	exporter  Exporter
	log       logger.Logger
	opts      Options
}

// NewService wires a runner. exporter may be nil to disable CSV output.
func NewService(reg sources.FetcherRegistry, pub RecordPublisher, store storage.Store, exporter Exporter, log logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Service{
		registry:  reg,
		publisher: pub,
		store:     store,
		exporter:  exporter,
		log:       log,
		opts:      opts,
	}
}

// Run executes a pass for every source; one failing source does not stop the
// others and all failures are joined into the returned error.
func (s *Service) Run(ctx context.Context, srcs []sources.Source) error {
	if s == nil || s.registry == nil || s.publisher == nil {
		return fmt.Errorf("runner service is not initialized")
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no sources configured")
	}

	var errs []error
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary, err := s.RunSource(ctx, src)
		if err != nil {
			errs = append(errs, err)
			s.log.ErrorObj("source pass failed", "source_error", map[string]any{
				"source_id": src.ID,
				"error":     err.Error(),
			})
			continue
		}
		s.log.InfoObj("source pass completed", "source_result", summary)
	}
	return errors.Join(errs...)
}

// RunSource fetches, normalizes and publishes one source, then replaces its
// checkpoint with the records that are known to be published.
func (s *Service) RunSource(ctx context.Context, src sources.Source) (Summary, error) {
	summary := Summary{SourceID: src.ID}

	fetcher, err := s.registry.FetcherFor(src)
	if err != nil {
		return summary, fmt.Errorf("resolve fetcher for source %s: %w", src.ID, err)
	}
	raw, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return summary, fmt.Errorf("fetch source %s: %w", src.ID, err)
	}
	summary.Fetched = len(raw)

	records := ingest.New(src.DefaultCategory, s.log).NormalizeAll(raw)
	summary.Normalized = len(records)

	previous := storage.Load(s.store, src.Namespace, src.CheckpointKey, []domain.CanonicalRecord{})
	seen := make(map[string]bool, len(previous))
	for _, r := range previous {
		seen[recordID(r)] = true
	}

	checkpoint := make([]domain.CanonicalRecord, 0, len(records))
	published := make([]domain.CanonicalRecord, 0, len(records))
	inRun := make(map[string]bool, len(records))

	for _, r := range records {
		id := recordID(r)
		if s.opts.SkipPublished && (seen[id] || inRun[id]) {
			summary.Skipped++
			if !inRun[id] {
				checkpoint = append(checkpoint, r)
				inRun[id] = true
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, s.finish(src, &summary, checkpoint, published, err)
		}

		results, err := s.publisher.Publish(ctx, []domain.CanonicalRecord{r}, announce.WithRaiseOnError(s.opts.RaiseOnError))
		if err == nil && (len(results) != 1 || !results[0].OK()) {
			err = resultError(results)
		}
		if err != nil {
			summary.Failed++
			s.log.WarnObj("record publish failed", "record_error", map[string]any{
				"source_id": src.ID,
				"record_id": id,
				"error":     err.Error(),
			})
			continue
		}

		summary.Published++
		inRun[id] = true
		published = append(published, r)
		checkpoint = append(checkpoint, r)
	}

	return summary, s.finish(src, &summary, checkpoint, published, nil)
}

// finish saves the checkpoint and export even when the pass was interrupted,
// so records already announced are not announced again.
func (s *Service) finish(src sources.Source, summary *Summary, checkpoint, published []domain.CanonicalRecord, cause error) error {
	errs := []error{cause}

	if s.store != nil {
		if err := s.store.Save(src.Namespace, src.CheckpointKey, checkpoint); err != nil {
			errs = append(errs, fmt.Errorf("save checkpoint for source %s: %w", src.ID, err))
		}
	}
	if s.exporter != nil {
		path, err := s.exporter.Write(src.Name, published)
		if err != nil {
			errs = append(errs, fmt.Errorf("export source %s: %w", src.ID, err))
		}
		summary.ExportPath = path
	}
	return errors.Join(errs...)
}

func recordID(r domain.CanonicalRecord) string {
	return ident.ForRecord(r.Description, r.Category, r.State, r.PhoneNumber)
}

func resultError(results []domain.PublishResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
		if r.Error != "" {
			return errors.New(r.Error)
		}
	}
	return fmt.Errorf("publisher returned %d results for one record", len(results))
}
