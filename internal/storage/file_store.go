package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// fileStore keeps one indented JSON object per namespace under dir.
type fileStore struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// openFile initializes a flat-file Store rooted at dir.
func openFile(fs afero.Fs, dir string) (Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &fileStore{fs: fs, dir: dir}, nil
}

func (f *fileStore) Close() error { return nil }

// Get returns the value stored under key in the namespace file.
func (f *fileStore) Get(namespace, key string) (json.RawMessage, bool) {
	ns, err := sanitizeNamespace(namespace)
	if err != nil {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.read(ns)[key]
	return v, ok
}

// Save rewrites the namespace file with key set to value. The new content is
// written to a temp file and renamed over the old one, so a failed save leaves
// the previous file in place.
func (f *fileStore) Save(namespace, key string, value any) error {
	ns, err := sanitizeNamespace(namespace)
	if err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s/%s: %w", ns, key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	content := f.read(ns)
	content[key] = raw

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(content); err != nil {
		return fmt.Errorf("encode checkpoint file %s: %w", ns, err)
	}

	return f.replace(f.path(ns), buf.Bytes())
}

// read loads the namespace file; unreadable or corrupt content reads as empty.
func (f *fileStore) read(ns string) map[string]json.RawMessage {
	content := map[string]json.RawMessage{}

	file, err := f.fs.Open(f.path(ns))
	if err != nil {
		return content
	}
	defer file.Close()

	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(file).Decode(&decoded); err != nil || decoded == nil {
		return content
	}
	return decoded
}

func (f *fileStore) replace(path string, data []byte) (err error) {
	tmp, err := afero.TempFile(f.fs, f.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = f.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err = f.fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (f *fileStore) path(ns string) string {
	return filepath.Join(f.dir, ns+".json")
}
