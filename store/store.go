// Package store persists the pipeline's intermediate tables, Boruta
// selections, fitted artifacts and predictions, grouped by run.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Well-known table names.
const (
	TablePredictors   = "predictors"
	TableOutcomes     = "outcomes"
	TableObservations = "observations"
	TableSubjects     = "subjects"
	TableTrain        = "train"
	TableTest         = "test"
	TablePredictions  = "predictions"
	TableMetrics      = "metrics"
)

// Object key prefixes.
const (
	PrefixImputer   = "imputer"
	PrefixSelection = "selection/"
	PrefixArtifact  = "artifact/"
	PrefixResample  = "resample/"
)

// Run is one execution of the pipeline.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

func newRun(label string) Run {
	return Run{ID: uuid.NewString(), Label: label, StartedAt: time.Now().UTC()}
}

// Store is a run-scoped table and object store. Tables and objects are read
// and written under the current run; BeginRun starts a new one.
type Store interface {
	BeginRun(ctx context.Context, label string) (Run, error)
	// Current returns the latest run, or false when none exists.
	Current(ctx context.Context) (Run, bool, error)

	PutTable(ctx context.Context, name string, f *tabular.Frame) error
	Table(ctx context.Context, name string) (*tabular.Frame, error)

	// PutObject gob-encodes v under key.
	PutObject(ctx context.Context, key string, v interface{}) error
	// Object decodes the value stored under key into v.
	Object(ctx context.Context, key string, v interface{}) error
	// Keys lists the object keys that start with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// DeleteObjects removes every object whose key starts with prefix and
	// returns how many were removed.
	DeleteObjects(ctx context.Context, prefix string) (int, error)

	Close() error
}

// Open returns the store for backend "file" (dsn is a directory) or
// "sqlite" (dsn is a database path or ":memory:").
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "file":
		return NewFileStore(dsn)
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, errors.NewValidationError("store.backend", "must be file or sqlite", backend)
	}
}

// schema records column kinds so a table round-trips through CSV unchanged.
type schema struct {
	Text   []string `json:"text,omitempty"`
	Binary []string `json:"binary,omitempty"`
}

func schemaOf(f *tabular.Frame) schema {
	var s schema
	for _, c := range f.Columns() {
		switch c.Kind {
		case tabular.KindText:
			s.Text = append(s.Text, c.Name)
		case tabular.KindBinary:
			s.Binary = append(s.Binary, c.Name)
		}
	}
	return s
}

func (s schema) readOptions() []tabular.ReadOption {
	return []tabular.ReadOption{
		tabular.WithoutBinaryDetection(),
		tabular.WithTextColumns(s.Text...),
		tabular.WithBinaryColumns(s.Binary...),
	}
}

func encodeTable(f *tabular.Frame) (data, kinds []byte, err error) {
	var buf bytes.Buffer
	if err := tabular.WriteCSV(&buf, f); err != nil {
		return nil, nil, err
	}
	kinds, err = json.Marshal(schemaOf(f))
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode table schema")
	}
	return buf.Bytes(), kinds, nil
}

func decodeTable(name string, data io.Reader, kinds []byte) (*tabular.Frame, error) {
	var s schema
	if len(kinds) > 0 {
		if err := json.Unmarshal(kinds, &s); err != nil {
			return nil, errors.Wrapf(err, "decode schema of table %s", name)
		}
	}
	return tabular.ReadCSV(name, data, s.readOptions()...)
}

func encodeObject(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(v, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeObject(data []byte, v interface{}) error {
	return model.LoadModelFromReader(v, bytes.NewReader(data))
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return errors.NewValidationError("key", "must be a relative path without ..", key)
	}
	return nil
}

func notFound(kind, name string) error {
	return errors.Wrapf(errors.ErrArtifactNotFound, "%s %s", kind, name)
}

var errNoRun = errors.New("store: no run has been started")
