package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Package storage keeps per-producer checkpoints between runs.

// Store is a namespaced key-value checkpoint store. Reads never fail: an
// absent, empty or corrupt namespace reads as empty.
type Store interface {
	Get(namespace, key string) (json.RawMessage, bool)
	Save(namespace, key string, value any) error
	Close() error
}

// Backend names accepted by NewStore.
const (
	TypeFile   = "file"
	TypeBBolt  = "bbolt"
	TypeMemory = "memory"
	TypeNone   = "none"
)

// Options configures the concrete backends.
type Options struct {
	// Dir holds one JSON file per namespace for the file backend.
	Dir string
	// BoltPath is the database file of the bbolt backend.
	BoltPath string
	// Enabled gates the durable backends; when false NewStore returns a no-op
	// store and the remote system of record is authoritative.
	Enabled bool
	// Fs overrides the filesystem used by the file backend.
	Fs afero.Fs
	// OpenTimeout bounds how long bbolt waits for its file lock.
	OpenTimeout time.Duration
}

const defaultOpenTimeout = time.Second

// NewStore creates the configured storage backend.
func NewStore(typ string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}

	switch typ {
	case "", TypeNone, "disabled":
		return noopStore{}, nil
	case TypeMemory:
		return NewMemoryStore(), nil
	case TypeFile:
		if !opts.Enabled {
			return noopStore{}, nil
		}
		if strings.TrimSpace(opts.Dir) == "" {
			return nil, fmt.Errorf("file storage requires a directory")
		}
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return openFile(fs, opts.Dir)
	case TypeBBolt:
		if !opts.Enabled {
			return noopStore{}, nil
		}
		path := strings.TrimSpace(opts.BoltPath)
		if path == "" {
			if strings.TrimSpace(opts.Dir) == "" {
				return nil, fmt.Errorf("bbolt storage requires a path")
			}
			path = filepath.Join(opts.Dir, "checkpoints.db")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// Load decodes the value stored under namespace/key into a T, returning def
// when it is absent or cannot be decoded.
func Load[T any](s Store, namespace, key string, def T) T {
	if s == nil {
		return def
	}
	raw, ok := s.Get(namespace, key)
	if !ok {
		return def
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def
	}
	return out
}

// Scoped binds a Store to one namespace.
type Scoped struct {
	store     Store
	namespace string
}

// Scope returns a view of s restricted to namespace.
func Scope(s Store, namespace string) Scoped {
	return Scoped{store: s, namespace: namespace}
}

// Namespace returns the bound namespace.
func (s Scoped) Namespace() string { return s.namespace }

// Get returns the raw value for key.
func (s Scoped) Get(key string) (json.RawMessage, bool) {
	if s.store == nil {
		return nil, false
	}
	return s.store.Get(s.namespace, key)
}

// Save stores value under key.
func (s Scoped) Save(key string, value any) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(s.namespace, key, value)
}

// CallerNamespace derives a namespace from the source file name of the
// caller skip frames above it, e.g. "resources_api" for resources_api.go.
func CallerNamespace(skip int) string {
	_, file, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return "default"
	}
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var unsafeNamespaceChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// sanitizeNamespace keeps namespaces usable as file and bucket names.
func sanitizeNamespace(ns string) (string, error) {
	ns = unsafeNamespaceChars.ReplaceAllString(strings.TrimSpace(ns), "_")
	ns = strings.Trim(ns, ".")
	if ns == "" {
		return "", fmt.Errorf("namespace is empty")
	}
	return ns, nil
}

// encodeValue marshals a checkpoint value without HTML escaping, so record
// text such as "<24x7>" is stored as written.
func encodeValue(value any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

type noopStore struct{}

func (noopStore) Close() error                               { return nil }
func (noopStore) Get(string, string) (json.RawMessage, bool) { return nil, false }
func (noopStore) Save(string, string, any) error             { return nil }
