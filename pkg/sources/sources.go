package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package sources holds the upstream data feeds (YAML/JSON registry) and the
// fetchers that download them.

// Source describes one upstream feed and where its checkpoint lives.
type Source struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Type            string         `json:"type" yaml:"type"`
	SourceURL       string         `json:"source_url" yaml:"source_url"`
	Namespace       string         `json:"namespace" yaml:"namespace"`
	CheckpointKey   string         `json:"checkpoint_key" yaml:"checkpoint_key"`
	DefaultCategory string         `json:"default_category" yaml:"default_category"`
	Enabled         *bool          `json:"enabled" yaml:"enabled"`
	Config          map[string]any `json:"config" yaml:"config"`
}

// IsEnabled reports whether the source takes part in runs; sources are
// enabled unless switched off explicitly.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type registry struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

var (
	regMu      sync.RWMutex
	currentReg registry
	sourcesIdx map[string]Source
)

// Sources returns a copy of the currently loaded sources registry.
func Sources() []Source {
	regMu.RLock()
	defer regMu.RUnlock()

	if len(currentReg.Sources) == 0 {
		return nil
	}

	out := make([]Source, len(currentReg.Sources))
	copy(out, currentReg.Sources)
	return out
}

// Enabled returns the loaded sources that are switched on.
func Enabled() []Source {
	all := Sources()
	out := make([]Source, 0, len(all))
	for _, s := range all {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// SourceByID returns the source entry for the given id, if loaded.
func SourceByID(id string) (Source, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Source{}, false
	}

	regMu.RLock()
	defer regMu.RUnlock()

	s, ok := sourcesIdx[id]
	return s, ok
}

// LoadSources loads the sources registry from file.
func LoadSources(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return err
	}

	if len(reg.Sources) == 0 {
		return errors.New("sources file contains no sources entries")
	}

	idx := make(map[string]Source, len(reg.Sources))
	for i := range reg.Sources {
		s := sanitizeSource(reg.Sources[i])
		if err := validateSource(s); err != nil {
			return fmt.Errorf("source[%d]: %w", i, err)
		}
		if _, exists := idx[s.ID]; exists {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		reg.Sources[i] = s
		idx[s.ID] = s
	}

	regMu.Lock()
	currentReg = reg
	sourcesIdx = idx
	regMu.Unlock()

	return nil
}

func parseRegistry(data []byte, ext string) (registry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg registry
		if err := d.fn(data, &reg); err == nil {
			return reg, nil
		}
	}

	return registry{}, errors.New("sources file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

// sanitizeSource trims fields and fills the checkpoint defaults: the namespace
// falls back to the source id and the key to "<Name>_prev_data".
func sanitizeSource(s Source) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.SourceURL = strings.TrimSpace(s.SourceURL)
	s.Namespace = strings.TrimSpace(s.Namespace)
	s.CheckpointKey = strings.TrimSpace(s.CheckpointKey)
	s.DefaultCategory = strings.TrimSpace(s.DefaultCategory)

	if s.Config == nil {
		s.Config = map[string]any{}
	}
	if s.Namespace == "" {
		s.Namespace = s.ID
	}
	if s.CheckpointKey == "" && s.Name != "" {
		s.CheckpointKey = s.Name + "_prev_data"
	}
	if s.DefaultCategory == "" {
		s.DefaultCategory = s.Name
	}
	return s
}

func validateSource(s Source) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required for source %q", s.ID)
	}
	if s.Type == "" {
		return fmt.Errorf("type is required for source %q", s.ID)
	}
	if s.SourceURL == "" {
		return fmt.Errorf("source_url is required for source %q", s.ID)
	}
	return nil
}
