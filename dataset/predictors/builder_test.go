package predictors

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

type row struct {
	subject, event string
}

// rawFor builds an export for s where every required numeric column holds
// fill, except the overrides.
func rawFor(t *testing.T, s Source, rows []row, fill float64, overrides map[string][]float64) *tabular.Frame {
	t.Helper()
	f := tabular.NewFrame(len(rows))
	subj := make([]string, len(rows))
	evt := make([]string, len(rows))
	for i, r := range rows {
		subj[i], evt[i] = r.subject, r.event
	}
	require.NoError(t, f.AddText(tabular.SubjectKey, subj))
	require.NoError(t, f.AddText(tabular.EventKey, evt))
	for _, name := range s.Text {
		vals := make([]string, len(rows))
		for i := range vals {
			vals[i] = "2019-01-01"
		}
		require.NoError(t, f.AddText(name, vals))
	}
	for _, name := range s.Required() {
		if f.Has(name) {
			continue
		}
		vals, ok := overrides[name]
		if !ok {
			vals = make([]float64, len(rows))
			for i := range vals {
				vals[i] = fill
			}
		}
		require.NoError(t, f.AddNumeric(name, vals))
	}
	return f
}

func sourceByName(t *testing.T, name string) Source {
	t.Helper()
	for _, s := range DefaultSources() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("unknown source %s", name)
	return Source{}
}

func TestDefaultSourcesAreValid(t *testing.T) {
	b := NewBuilder(WithLogger(nopLogger()))
	require.NoError(t, b.Validate())
	assert.Len(t, b.Sources(), 13)
}

func TestApplyKeepExcludesMissingCountColumns(t *testing.T) {
	s := sourceByName(t, SourceCBCL)
	raw := rawFor(t, s, []row{{"S1", "baseline"}}, 4, nil)
	require.NoError(t, raw.AddNumeric("cbcl_scr_syn_anxdep_nm", []float64{0}))

	out, err := s.Apply(raw)
	require.NoError(t, err)
	assert.False(t, out.Has("cbcl_scr_syn_anxdep_nm"))
	assert.True(t, out.Has("cbcl_scr_syn_anxdep_r"))
}

func TestApplyMissingColumnIsSchemaError(t *testing.T) {
	s := sourceByName(t, SourceUPPS)
	raw := rawFor(t, s, []row{{"S1", "baseline"}}, 1, nil)
	raw.Drop("upps_y_ss_lack_of_planning")

	_, err := s.Apply(raw)
	var schemaErr *errors.SchemaError
	require.True(t, errors.As(err, &schemaErr), "got %v", err)
	assert.Equal(t, SourceUPPS, schemaErr.Source)
	assert.Equal(t, "upps_y_ss_lack_of_planning", schemaErr.Column)
}

func TestApplyReverseScoredSum(t *testing.T) {
	s := sourceByName(t, SourceNeighborhood)
	raw := rawFor(t, s, []row{{"S1", "baseline"}, {"S2", "baseline"}}, 0, map[string][]float64{
		"neighborhood1r_p": {5, 1},
		"neighborhood2r_p": {4, 2},
		"neighborhood3r_p": {1, math.NaN()},
	})

	out, err := s.Apply(raw)
	require.NoError(t, err)
	sum, err := out.Numeric("nsc_p_ss_sum")
	require.NoError(t, err)
	assert.Equal(t, 5.0+4+(6-1), sum[0])
	assert.True(t, math.IsNaN(sum[1]), "sum with a missing item must be missing")
}

func TestApplySentinelRecodedToZero(t *testing.T) {
	s := sourceByName(t, SourcePPS)
	over := map[string][]float64{}
	for i := 1; i <= 21; i++ {
		over[items("prodromal_%d_y", i)[0]] = []float64{0}
		over[items("prodromal_%db_y", i)[0]] = []float64{PPSBotherSentinel}
	}
	over["prodromal_1_y"] = []float64{1}
	over["prodromal_1b_y"] = []float64{4}
	raw := rawFor(t, s, []row{{"S1", "baseline"}}, 0, over)

	out, err := s.Apply(raw)
	require.NoError(t, err)
	number, _ := out.Numeric("pps_y_ss_number")
	severity, _ := out.Numeric("pps_y_ss_severity_score")
	assert.Equal(t, 1.0, number[0])
	assert.Equal(t, 5.0, severity[0])
}

func TestApplyQualityGate(t *testing.T) {
	s := sourceByName(t, SourceFESYouth)
	raw := rawFor(t, s, []row{{"S1", "b"}, {"S2", "b"}, {"S3", "b"}, {"S4", "b"}}, 0, map[string][]float64{
		"fes_y_ss_fc":    {3, 4, 5, 6},
		"fes_y_ss_fc_nm": {0, 1, 2, 0},
		"fes_y_ss_fc_nt": {9, 9, 9, 0},
	})

	out, err := s.Apply(raw)
	require.NoError(t, err)
	fc, _ := out.Numeric("fes_y_ss_fc")
	assert.Equal(t, 3.0, fc[0])
	assert.Equal(t, 4.0, fc[1], "1/9 is below the 0.15 gate")
	assert.True(t, math.IsNaN(fc[2]), "2/9 exceeds the 0.15 gate")
	assert.True(t, math.IsNaN(fc[3]), "undefined ratio is missing")
	assert.False(t, out.Has("fes_y_ss_fc_nm"))
	assert.False(t, out.Has("fes_y_ss_fc_nt"))
}

func TestApplyRecode(t *testing.T) {
	s := sourceByName(t, SourceSchool)
	raw := rawFor(t, s, []row{{"S1", "b"}, {"S2", "b"}}, 1, map[string][]float64{
		DetentionSusp: {1, 2},
	})
	out, err := s.Apply(raw)
	require.NoError(t, err)
	v, _ := out.Numeric(DetentionSusp)
	assert.Equal(t, []float64{1, 0}, v)
}

func TestApplyDuplicateKey(t *testing.T) {
	s := sourceByName(t, SourcePMQ)
	raw := rawFor(t, s, []row{{"S1", "b"}, {"S1", "b"}}, 1, nil)
	_, err := s.Apply(raw)
	var dup *errors.DuplicateKeyError
	assert.True(t, errors.As(err, &dup))
}

func TestBuildOuterJoinCompleteness(t *testing.T) {
	raw := make(map[string]*tabular.Frame)
	union := map[row]bool{}
	for i, s := range DefaultSources() {
		rows := []row{{"S1", "baseline"}, {"S" + string(rune('A'+i)), "year1"}}
		for _, r := range rows {
			union[r] = true
		}
		raw[s.Name] = rawFor(t, s, rows, 1, nil)
	}

	b := NewBuilder(WithLogger(nopLogger()))
	out, err := b.Build(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, len(union), out.NRows())

	subj, _ := out.Text(tabular.SubjectKey)
	evt, _ := out.Text(tabular.EventKey)
	for i := range subj {
		assert.True(t, union[row{subj[i], evt[i]}])
	}

	// S1/baseline appears in every source, so no cell is missing.
	for _, c := range out.Columns() {
		assert.False(t, c.IsMissing(0), "column %s", c.Name)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	raw := make(map[string]*tabular.Frame)
	for _, s := range DefaultSources() {
		raw[s.Name] = rawFor(t, s, []row{{"S2", "year1"}, {"S1", "baseline"}}, 2, nil)
	}
	b := NewBuilder(WithLogger(nopLogger()))

	first, err := b.Build(context.Background(), raw)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), raw)
	require.NoError(t, err)

	h1, r1 := first.Records()
	h2, r2 := second.Records()
	assert.Equal(t, h1, h2)
	assert.Equal(t, r1, r2)
}

func TestBuildMissingSource(t *testing.T) {
	b := NewBuilder(WithLogger(nopLogger()))
	_, err := b.Build(context.Background(), map[string]*tabular.Frame{})
	var schemaErr *errors.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestBuildHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(WithLogger(nopLogger())).Build(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func nopLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}
