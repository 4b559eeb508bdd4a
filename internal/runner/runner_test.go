package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/samvad-hq/helpline-relay/internal/storage"
	"github.com/samvad-hq/helpline-relay/pkg/announce"
	"github.com/samvad-hq/helpline-relay/pkg/sources"
)

// fakeFetcher returns preset records or an error.
type fakeFetcher struct {
	records []domain.SourceRecord
	err     error
}

func (f *fakeFetcher) ID() string { return "fake" }
func (f *fakeFetcher) Fetch(_ context.Context, _ sources.Source) ([]domain.SourceRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// fakeRegistry maps every source to a single fetcher, or to one per source id.
type fakeRegistry struct {
	fetcher sources.Fetcher
	byID    map[string]sources.Fetcher
}

func (f *fakeRegistry) FetcherFor(src sources.Source) (sources.Fetcher, error) {
	if fetcher, ok := f.byID[src.ID]; ok {
		return fetcher, nil
	}
	if f.fetcher == nil {
		return nil, errors.New("missing fetcher")
	}
	return f.fetcher, nil
}

// fakePublisher records published records and fails those in failStates.
type fakePublisher struct {
	mu         sync.Mutex
	published  []domain.CanonicalRecord
	failStates map[string]bool
	raise      []bool
}

func (f *fakePublisher) Publish(_ context.Context, records []domain.CanonicalRecord, opts ...announce.PublishOption) ([]domain.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raise = append(f.raise, len(opts) > 0)

	out := make([]domain.PublishResult, 0, len(records))
	for _, r := range records {
		if f.failStates[r.State] {
			out = append(out, domain.PublishResult{Error: "rejected " + r.State})
			continue
		}
		f.published = append(f.published, r)
		out = append(out, domain.PublishResult{ID: "id-" + r.State, Message: "ok"})
	}
	return out, nil
}

type fakeExporter struct {
	name    string
	records []domain.CanonicalRecord
	err     error
}

func (f *fakeExporter) Write(name string, records []domain.CanonicalRecord) (string, error) {
	f.name = name
	f.records = records
	return "/exports/" + name + "Data.csv", f.err
}

func helplineSource() sources.Source {
	return sources.Source{
		ID:              "helpline",
		Name:            "Helpline",
		Type:            sources.TypeHelplineJSON,
		Namespace:       "Resources_API",
		CheckpointKey:   "Helpline_prev_data",
		DefaultCategory: "Helpline",
	}
}

func feed(states ...string) []domain.SourceRecord {
	out := make([]domain.SourceRecord, 0, len(states))
	for _, s := range states {
		out = append(out, domain.SourceRecord{
			"state":      s,
			"phone_1":    "9876543210",
			"created_on": "01/05/2021",
		})
	}
	return out
}

func TestRunSourcePublishesAndCheckpoints(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	exp := &fakeExporter{}
	records := append(feed("Goa", "Kerala"), domain.SourceRecord{"state": "Assam"})

	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{records: records}}, pub, store, exp, nil, Options{RaiseOnError: true, SkipPublished: true})
	summary, err := svc.RunSource(context.Background(), helplineSource())
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	if summary.Fetched != 3 || summary.Normalized != 2 || summary.Published != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 published records, got %d", len(pub.published))
	}

	saved := storage.Load(store, "Resources_API", "Helpline_prev_data", []domain.CanonicalRecord(nil))
	if len(saved) != 2 || saved[0].State != "Goa" {
		t.Fatalf("unexpected checkpoint %+v", saved)
	}
	if exp.name != "Helpline" || len(exp.records) != 2 || summary.ExportPath != "/exports/HelplineData.csv" {
		t.Fatalf("unexpected export %q %d %q", exp.name, len(exp.records), summary.ExportPath)
	}
}

func TestRunSourceSkipsPreviouslyPublished(t *testing.T) {
	store := storage.NewMemoryStore()
	fetcher := &fakeFetcher{records: feed("Goa", "Kerala")}

	first := &fakePublisher{}
	svc := NewService(&fakeRegistry{fetcher: fetcher}, first, store, nil, nil, Options{SkipPublished: true})
	if _, err := svc.RunSource(context.Background(), helplineSource()); err != nil {
		t.Fatalf("first RunSource: %v", err)
	}

	fetcher.records = feed("Goa", "Kerala", "Punjab", "Punjab")
	second := &fakePublisher{}
	svc = NewService(&fakeRegistry{fetcher: fetcher}, second, store, nil, nil, Options{SkipPublished: true})
	summary, err := svc.RunSource(context.Background(), helplineSource())
	if err != nil {
		t.Fatalf("second RunSource: %v", err)
	}

	if len(second.published) != 1 || second.published[0].State != "Punjab" {
		t.Fatalf("expected only the new record to be published, got %+v", second.published)
	}
	if summary.Skipped != 3 {
		t.Fatalf("expected 3 skipped (2 previous + 1 duplicate), got %+v", summary)
	}
	saved := storage.Load(store, "Resources_API", "Helpline_prev_data", []domain.CanonicalRecord(nil))
	if len(saved) != 3 {
		t.Fatalf("checkpoint should hold every published record once, got %d", len(saved))
	}
}

func TestRunSourceRepublishesWhenSkippingDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Save("Resources_API", "Helpline_prev_data", []domain.CanonicalRecord{{State: "Goa"}}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	pub := &fakePublisher{}
	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{records: feed("Goa")}}, pub, store, nil, nil, Options{})
	if _, err := svc.RunSource(context.Background(), helplineSource()); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected record to be republished, got %d", len(pub.published))
	}
}

func TestRunSourceKeepsFailuresOutOfCheckpoint(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &fakePublisher{failStates: map[string]bool{"Kerala": true}}
	exp := &fakeExporter{}

	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{records: feed("Goa", "Kerala", "Punjab")}}, pub, store, exp, nil, Options{SkipPublished: true})
	summary, err := svc.RunSource(context.Background(), helplineSource())
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if summary.Published != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	saved := storage.Load(store, "Resources_API", "Helpline_prev_data", []domain.CanonicalRecord(nil))
	for _, r := range saved {
		if r.State == "Kerala" {
			t.Fatal("failed record must not be checkpointed")
		}
	}
	if len(exp.records) != 2 {
		t.Fatalf("export should only hold published records, got %d", len(exp.records))
	}
}

func TestRunSourceFetchError(t *testing.T) {
	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{err: errors.New("timeout")}}, &fakePublisher{}, storage.NewMemoryStore(), nil, nil, Options{})
	_, err := svc.RunSource(context.Background(), helplineSource())
	if err == nil || !strings.Contains(err.Error(), "fetch source helpline") {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
}

func TestRunSourceSurfacesExportErrors(t *testing.T) {
	exp := &fakeExporter{err: errors.New("disk full")}
	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{records: feed("Goa")}}, &fakePublisher{}, storage.NewMemoryStore(), exp, nil, Options{})
	if _, err := svc.RunSource(context.Background(), helplineSource()); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected export error, got %v", err)
	}
}

func TestRunSourceCancelledSavesProgress(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(&fakeRegistry{fetcher: &fakeFetcher{records: feed("Goa")}}, &fakePublisher{}, store, nil, nil, Options{})
	_, err := svc.RunSource(ctx, helplineSource())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := store.Get("Resources_API", "Helpline_prev_data"); !ok {
		t.Fatal("checkpoint should still be written")
	}
}

func TestRunAggregatesSourceErrors(t *testing.T) {
	good := helplineSource()
	bad := helplineSource()
	bad.ID = "broken"

	pub := &fakePublisher{}
	reg := &fakeRegistry{
		fetcher: &fakeFetcher{records: feed("Goa")},
		byID:    map[string]sources.Fetcher{"broken": &fakeFetcher{err: errors.New("502")}},
	}
	svc := NewService(reg, pub, storage.NewMemoryStore(), nil, nil, Options{})

	err := svc.Run(context.Background(), []sources.Source{bad, good})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected joined error naming the broken source, got %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("healthy source should still publish, got %d", len(pub.published))
	}
}

func TestRunRequiresSources(t *testing.T) {
	svc := NewService(&fakeRegistry{}, &fakePublisher{}, nil, nil, nil, Options{})
	if err := svc.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without sources")
	}
	var nilSvc *Service
	if err := nilSvc.Run(context.Background(), []sources.Source{helplineSource()}); err == nil {
		t.Fatal("expected error for nil service")
	}
}
