package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samvad-hq/helpline-relay/internal/config"
	"github.com/samvad-hq/helpline-relay/internal/export"
	"github.com/samvad-hq/helpline-relay/internal/logger"
	"github.com/samvad-hq/helpline-relay/internal/runner"
	"github.com/samvad-hq/helpline-relay/internal/storage"
	"github.com/samvad-hq/helpline-relay/pkg/announce"
	"github.com/samvad-hq/helpline-relay/pkg/datetime"
	"github.com/samvad-hq/helpline-relay/pkg/httpclient"
	"github.com/samvad-hq/helpline-relay/pkg/publishers"
	"github.com/samvad-hq/helpline-relay/pkg/sources"
)

// Relay is the helpline relay runtime. It owns one runner per announcement
// source tag, the optional mirror fanout and the checkpoint store.
type Relay struct {
	cfg      *config.Config
	sources  map[string][]sources.Source
	runners  map[string]*runner.Service
	fanout   *publishers.Fanout
	store    storage.Store
	interval time.Duration
	log      logger.Logger
}

// NewRelay builds a relay runtime from config files.
func NewRelay(ctx context.Context, cfg *config.Config, log logger.Logger) (*Relay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := sources.LoadSources(cfg.SourcesFile); err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	enabled := sources.Enabled()
	ids := make([]string, 0, len(enabled))
	for _, src := range enabled {
		ids = append(ids, src.ID)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(ids),
		"ids":   ids,
	})

	fanout, err := buildMirror(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, storage.Options{
		Dir:      cfg.DataDir,
		BoltPath: cfg.BBoltPath,
		Enabled:  cfg.LocalMode(),
	})
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":    cfg.StorageType,
		"dir":     cfg.DataDir,
		"path":    cfg.BBoltPath,
		"durable": cfg.LocalMode(),
	})

	dates, err := datetime.New(datetime.Options{
		DayFirst:  cfg.DayFirst,
		YearFirst: cfg.YearFirst,
		Zone:      cfg.TimeZone,
	})
	if err != nil {
		fanout.Close()
		store.Close()
		return nil, fmt.Errorf("init date normalizer: %w", err)
	}

	var exporter runner.Exporter
	if cfg.ExportCSV {
		exporter = export.NewCSVWriter(nil, cfg.ExportDir)
	}

	fetchers := sources.DefaultFetcherRegistry(httpclient.NewRestyClient(cfg.FetchTimeout))
	postClient := httpclient.NewRestyClient(cfg.PublishTimeout)
	opts := runner.Options{RaiseOnError: cfg.RaiseOnError, SkipPublished: cfg.SkipPublished}

	groups := groupByNamespace(enabled)
	runners := make(map[string]*runner.Service, len(groups))
	for ns := range groups {
		client, err := announce.New(
			announce.Config{URL: cfg.PublishURL, Source: ns, Timeout: cfg.PublishTimeout},
			announce.WithHTTPClient(postClient),
			announce.WithNormalizer(dates),
			announce.WithLogger(log),
			announce.WithMirror(fanout),
		)
		if err != nil {
			fanout.Close()
			store.Close()
			return nil, fmt.Errorf("init announce client for %s: %w", ns, err)
		}
		runners[ns] = runner.NewService(fetchers, client, store, exporter, log, opts)
	}

	return &Relay{
		cfg:      cfg,
		sources:  groups,
		runners:  runners,
		fanout:   fanout,
		store:    store,
		interval: cfg.RunInterval,
		log:      log,
	}, nil
}

// buildMirror loads the optional downstream sinks. Without a publishers file
// the fanout is empty and mirroring is a no-op.
func buildMirror(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if strings.TrimSpace(path) == "" {
		return publishers.NewFanout(nil), nil
	}
	reg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := reg.Enabled()
	clients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{"id": pubCfg.ID, "type": pubCfg.Type})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(clients), nil
}

func groupByNamespace(srcs []sources.Source) map[string][]sources.Source {
	out := make(map[string][]sources.Source)
	for _, src := range srcs {
		out[src.Namespace] = append(out[src.Namespace], src)
	}
	return out
}

// Run performs one pass over every enabled source. With a positive run
// interval it keeps running passes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r == nil || r.runners == nil {
		return fmt.Errorf("relay is not initialized")
	}
	defer r.close()

	if len(r.runners) == 0 {
		r.log.WarnObj("no sources enabled; nothing to relay", "sources_file", r.cfg.SourcesFile)
		return nil
	}

	r.log.InfoObj("relay starting", "relay_state", map[string]any{
		"namespaces":       r.namespaces(),
		"publishers_count": r.fanout.Size(),
		"run_interval":     r.interval.String(),
	})

	err := r.runOnce(ctx)
	if r.interval <= 0 {
		return err
	}
	if err != nil {
		r.log.ErrorObj("initial pass failed", "error", err.Error())
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.InfoObj("relay loop exiting", "reason", ctx.Err().Error())
			return nil
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil {
				r.log.ErrorObj("scheduled pass failed", "error", err.Error())
			}
		}
	}
}

// runOnce runs every namespace group once, in a stable order.
func (r *Relay) runOnce(ctx context.Context) error {
	start := time.Now()
	var errs []error
	for _, ns := range r.namespaces() {
		if err := r.runners[ns].Run(ctx, r.sources[ns]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns, err))
		}
	}
	r.log.InfoObj("pass completed", "pass_meta", map[string]any{
		"namespaces": len(r.runners),
		"failed":     len(errs),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return errors.Join(errs...)
}

func (r *Relay) namespaces() []string {
	out := make([]string, 0, len(r.runners))
	for ns := range r.runners {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (r *Relay) close() {
	if err := r.fanout.Close(); err != nil {
		r.log.ErrorObj("publishers close failed", "error", err.Error())
	}
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		r.log.ErrorObj("storage close failed", "error", err.Error())
	}
}
