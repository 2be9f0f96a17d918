package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

const currentFile = "current.json"

// FileStore keeps every run in its own directory:
//
//	<root>/current.json
//	<root>/runs/<id>/tables/<name>.csv (+ <name>.schema.json)
//	<root>/runs/<id>/objects/<key>.gob
type FileStore struct {
	root   string
	logger log.Logger

	mu  sync.RWMutex
	run *Run
}

// NewFileStore opens (creating if needed) a store rooted at dir and resumes
// the latest run.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NewValidationError("store.dsn", "directory is required", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create store directory %s", dir)
	}
	s := &FileStore{root: dir, logger: log.GetLoggerWithName("store")}
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	switch {
	case err == nil:
		var r Run
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrapf(err, "decode %s", currentFile)
		}
		s.run = &r
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read %s", currentFile)
	}
	return s, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) BeginRun(_ context.Context, label string) (Run, error) {
	r := newRun(label)
	dir := filepath.Join(s.root, "runs", r.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, errors.Wrapf(err, "create run directory %s", dir)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Run{}, errors.Wrap(err, "encode run")
	}
	if err := writeFile(filepath.Join(dir, "run.json"), data); err != nil {
		return Run{}, err
	}
	if err := writeFile(filepath.Join(s.root, currentFile), data); err != nil {
		return Run{}, err
	}
	s.mu.Lock()
	s.run = &r
	s.mu.Unlock()
	s.logger.Info("run started", log.RunIDKey, r.ID, log.PathKey, dir)
	return r, nil
}

func (s *FileStore) Current(_ context.Context) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return Run{}, false, nil
	}
	return *s.run, true, nil
}

func (s *FileStore) runDir() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return "", errNoRun
	}
	return filepath.Join(s.root, "runs", s.run.ID), nil
}

func (s *FileStore) tablePath(name string) (string, error) {
	if err := validKey(name); err != nil {
		return "", err
	}
	dir, err := s.runDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tables", filepath.FromSlash(name)+".csv"), nil
}

func (s *FileStore) PutTable(_ context.Context, name string, f *tabular.Frame) error {
	path, err := s.tablePath(name)
	if err != nil {
		return err
	}
	data, kinds, err := encodeTable(f)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	if err := writeFile(strings.TrimSuffix(path, ".csv")+".schema.json", kinds); err != nil {
		return err
	}
	s.logger.Debug("table written", log.TableKey, name, log.RowsKey, f.NRows(), log.ColumnsKey, f.NCols())
	return nil
}

func (s *FileStore) Table(_ context.Context, name string) (*tabular.Frame, error) {
	path, err := s.tablePath(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("table", name)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	kinds, err := os.ReadFile(strings.TrimSuffix(path, ".csv") + ".schema.json")
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read schema of %s", name)
	}
	return decodeTable(name, file, kinds)
}

func (s *FileStore) objectPath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	dir, err := s.runDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "objects", filepath.FromSlash(key)+".gob"), nil
}

func (s *FileStore) PutObject(_ context.Context, key string, v interface{}) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	data, err := encodeObject(v)
	if err != nil {
		return errors.Wrapf(err, "encode object %s", key)
	}
	return writeFile(path, data)
}

func (s *FileStore) Object(_ context.Context, key string, v interface{}) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound("object", key)
		}
		return errors.Wrapf(err, "read %s", path)
	}
	return errors.Wrapf(decodeObject(data, v), "decode object %s", key)
}

func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	dir, err := s.runDir()
	if err != nil {
		return nil, err
	}
	base := filepath.Join(dir, "objects")
	var keys []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".gob") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".gob")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list objects under %s", base)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) DeleteObjects(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.NewValueError("DeleteObjects", "empty prefix")
	}
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		path, err := s.objectPath(k)
		if err != nil {
			return i, err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return i, errors.Wrapf(err, "remove %s", path)
		}
	}
	s.logger.Debug("objects deleted", log.PathKey, prefix, "count", len(keys))
	return len(keys), nil
}

func (s *FileStore) Close() error { return nil }

// writeFile writes data atomically (temp file + rename).
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "rename into %s", path)
}
