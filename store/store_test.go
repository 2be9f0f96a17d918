package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/tabular"
)

func backends(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"file": func() Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func sampleFrame(t *testing.T) *tabular.Frame {
	t.Helper()
	f := tabular.NewFrame(3)
	require.NoError(t, f.AddText(tabular.SubjectKey, []string{"a", "b", "c"}))
	require.NoError(t, f.AddText("site", []string{"site01", "", "site02"}))
	require.NoError(t, f.AddNumeric("score", []float64{1.5, math.NaN(), 0}))
	// 0/1 only, but numeric
	require.NoError(t, f.AddNumeric("resample", []float64{0, 1, 1}))
	require.NoError(t, f.AddBinary("ideation", []tabular.Flag{tabular.True, tabular.Missing, tabular.False}))
	// all missing: still binary after the round trip
	require.NoError(t, f.AddBinary("action", []tabular.Flag{tabular.Missing, tabular.Missing, tabular.Missing}))
	return f
}

type payload struct {
	Name   string
	Values []float64
}

func TestStore_RequiresRun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			_, ok, err := s.Current(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Error(t, s.PutTable(ctx, TableTrain, sampleFrame(t)))
			assert.Error(t, s.PutObject(ctx, PrefixImputer, payload{}))
		})
	}
}

func TestStore_TableRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			_, err := s.BeginRun(ctx, "test")
			require.NoError(t, err)

			in := sampleFrame(t)
			require.NoError(t, s.PutTable(ctx, TablePredictions, in))
			out, err := s.Table(ctx, TablePredictions)
			require.NoError(t, err)

			assert.Equal(t, in.Names(), out.Names())
			for _, c := range in.Columns() {
				got, ok := out.Column(c.Name)
				require.True(t, ok)
				assert.Equal(t, c.Kind, got.Kind, c.Name)
				for i := 0; i < in.NRows(); i++ {
					assert.Equal(t, tabular.FormatCell(c, i), tabular.FormatCell(got, i), "%s[%d]", c.Name, i)
				}
			}

			_, err = s.Table(ctx, "missing")
			assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
		})
	}
}

func TestStore_Objects(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			_, err := s.BeginRun(ctx, "test")
			require.NoError(t, err)

			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"rf/r0", payload{Name: "rf", Values: []float64{1, 2}}))
			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"knn_boruta/r1", payload{Name: "knn"}))
			require.NoError(t, s.PutObject(ctx, PrefixSelection+"r0", payload{Name: "sel"}))
			// overwrite
			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"rf/r0", payload{Name: "rf", Values: []float64{3}}))

			var got payload
			require.NoError(t, s.Object(ctx, PrefixArtifact+"rf/r0", &got))
			assert.Equal(t, payload{Name: "rf", Values: []float64{3}}, got)

			keys, err := s.Keys(ctx, PrefixArtifact)
			require.NoError(t, err)
			assert.Equal(t, []string{"artifact/knn_boruta/r1", "artifact/rf/r0"}, keys)

			err = s.Object(ctx, PrefixArtifact+"gbm/r0", &got)
			assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))
			assert.Error(t, s.PutObject(ctx, "../escape", payload{}))
		})
	}
}

func TestStore_DeleteObjects(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			_, err := s.BeginRun(ctx, "test")
			require.NoError(t, err)

			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"rf/r0", payload{Name: "rf"}))
			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"knn_boruta/r1", payload{Name: "knn"}))
			require.NoError(t, s.PutObject(ctx, PrefixSelection+"r0", payload{Name: "sel"}))
			require.NoError(t, s.PutObject(ctx, PrefixImputer, payload{Name: "imp"}))

			n, err := s.DeleteObjects(ctx, PrefixArtifact)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			keys, err := s.Keys(ctx, PrefixArtifact)
			require.NoError(t, err)
			assert.Empty(t, keys)
			var p payload
			assert.True(t, errors.Is(s.Object(ctx, PrefixArtifact+"rf/r0", &p), errors.ErrArtifactNotFound))
			require.NoError(t, s.Object(ctx, PrefixSelection+"r0", &p))
			require.NoError(t, s.Object(ctx, PrefixImputer, &p))

			n, err = s.DeleteObjects(ctx, PrefixArtifact)
			require.NoError(t, err)
			assert.Zero(t, n)
			_, err = s.DeleteObjects(ctx, "")
			assert.Error(t, err)

			// the rewritten key is readable again
			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"rf/r0", payload{Name: "rf2"}))
			require.NoError(t, s.Object(ctx, PrefixArtifact+"rf/r0", &p))
			assert.Equal(t, "rf2", p.Name)
		})
	}
}

func TestStore_DeleteObjectsScopedToRun(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			_, err := s.BeginRun(ctx, "first")
			require.NoError(t, err)
			require.NoError(t, s.PutObject(ctx, PrefixArtifact+"rf/r0", payload{Name: "old"}))
			_, err = s.BeginRun(ctx, "second")
			require.NoError(t, err)

			n, err := s.DeleteObjects(ctx, PrefixArtifact)
			require.NoError(t, err)
			assert.Zero(t, n, "earlier runs are untouched")
		})
	}
}

func TestStore_RunsAreIsolated(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			first, err := s.BeginRun(ctx, "first")
			require.NoError(t, err)
			require.NoError(t, s.PutObject(ctx, PrefixImputer, payload{Name: "old"}))

			second, err := s.BeginRun(ctx, "second")
			require.NoError(t, err)
			assert.NotEqual(t, first.ID, second.ID)

			cur, ok, err := s.Current(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.ID, cur.ID)

			var p payload
			assert.Error(t, s.Object(ctx, PrefixImputer, &p), "objects belong to their run")
		})
	}
}

func TestFileStore_ResumesLatestRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	r, err := s.BeginRun(ctx, "resume")
	require.NoError(t, err)
	require.NoError(t, s.PutTable(ctx, TableTrain, sampleFrame(t)))

	again, err := NewFileStore(dir)
	require.NoError(t, err)
	cur, ok, err := again.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.ID, cur.ID)
	_, err = again.Table(ctx, TableTrain)
	assert.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "runs", r.ID, "tables", "train.csv"))
}

func TestSQLiteStore_ResumesLatestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.BeginRun(ctx, "a")
	require.NoError(t, err)
	b, err := s.BeginRun(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again, err := OpenSQLite(path)
	require.NoError(t, err)
	defer again.Close()
	cur, ok, err := again.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, cur.ID)

	runs, err := again.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("postgres", "x")
	assert.Error(t, err)
}
