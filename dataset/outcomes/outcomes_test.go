package outcomes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

type interviewRow struct {
	subject, event string
	items          map[int]float64 // unspecified items are 0
}

func interview(t *testing.T, r Report, rows []interviewRow, missing ...int) *tabular.Frame {
	t.Helper()
	codes := DefaultItemCodes()
	f := tabular.NewFrame(len(rows))
	subj := make([]string, len(rows))
	evt := make([]string, len(rows))
	for i, row := range rows {
		subj[i], evt[i] = row.subject, row.event
	}
	require.NoError(t, f.AddText(tabular.SubjectKey, subj))
	require.NoError(t, f.AddText(tabular.EventKey, evt))

	nan := make(map[int]bool)
	for _, m := range missing {
		nan[m] = true
	}
	for _, code := range codes.Ideation {
		vals := make([]float64, len(rows))
		for i, row := range rows {
			vals[i] = row.items[code]
			if nan[code] {
				vals[i] = math.NaN()
			}
		}
		require.NoError(t, f.AddNumeric(r.Column(code), vals))
	}
	return f
}

func newTestBuilder() (*Builder, *log.TestLogger) {
	l, _ := log.NewTestLogger(log.LevelDebug)
	return NewBuilder(WithLogger(l)), l
}

func TestDefaultItemCodesValid(t *testing.T) {
	require.NoError(t, DefaultItemCodes().Validate())

	bad := DefaultItemCodes()
	bad.Action = append(bad.Action, 999)
	assert.Error(t, bad.Validate())
}

func TestBuilderColumns(t *testing.T) {
	b := NewBuilder(WithItemCodes(ItemCodes{Ideation: []int{822, 1113}, NoIsTwo: []int{1113}}))
	assert.Equal(t, []string{tabular.SubjectKey, tabular.EventKey, "ksads_23_822_t", "ksads_23_1113_t"},
		b.Columns(YouthReport))
}

func TestLabelScenarios(t *testing.T) {
	tests := []struct {
		name         string
		items        map[int]float64
		wantIdeation bool
		wantAction   bool
	}{
		{"action item positive", map[int]float64{1112: 1, 830: 0}, true, true},
		{"ideation-only item positive", map[int]float64{824: 1}, true, false},
		{"all negative", map[int]float64{}, false, false},
		{"two means no on 1113", map[int]float64{1113: 2}, false, false},
		{"two means no on 1114", map[int]float64{1114: 2}, false, false},
		{"yes on 1114 is ideation only", map[int]float64{1114: 1}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBuilder()
			f := interview(t, YouthReport, []interviewRow{{"S1", "baseline", tt.items}})
			labels, _, err := b.LabelReport(f, YouthReport)
			require.NoError(t, err)
			require.Len(t, labels, 1)
			assert.Equal(t, tt.wantIdeation, labels[0].Ideation)
			assert.Equal(t, tt.wantAction, labels[0].Action)
		})
	}
}

func TestMissingResponsesCoalescedToNo(t *testing.T) {
	b, _ := newTestBuilder()
	f := interview(t, ParentReport, []interviewRow{{"S1", "baseline", nil}}, DefaultItemCodes().Ideation...)

	labels, stats, err := b.LabelReport(f, ParentReport)
	require.NoError(t, err)
	assert.False(t, labels[0].Ideation)
	assert.Equal(t, len(DefaultItemCodes().Ideation), stats.CoalescedCells)
	assert.Equal(t, 1, stats.RowsAllMissing)
}

func TestActionImpliesActionItemNonzero(t *testing.T) {
	b, _ := newTestBuilder()
	codes := DefaultItemCodes()
	var rows []interviewRow
	for i, code := range codes.Ideation {
		rows = append(rows, interviewRow{subject: "S" + string(rune('a'+i)), event: "baseline", items: map[int]float64{code: 1}})
	}
	f := interview(t, YouthReport, rows)
	labels, _, err := b.LabelReport(f, YouthReport)
	require.NoError(t, err)

	actionSet := map[int]bool{}
	for _, c := range codes.Action {
		actionSet[c] = true
	}
	for i, l := range labels {
		assert.True(t, l.Ideation)
		assert.Equal(t, actionSet[codes.Ideation[i]], l.Action, "item %d", codes.Ideation[i])
	}
}

func TestBuildMergesReportsWithOr(t *testing.T) {
	b, logger := newTestBuilder()
	parent := interview(t, ParentReport, []interviewRow{
		{"S2", "baseline", map[int]float64{824: 1}},
		{"S1", "baseline", nil},
	})
	youth := interview(t, YouthReport, []interviewRow{
		{"S1", "baseline", map[int]float64{831: 1}},
		{"S3", "year1", nil},
	})

	labels, err := b.Build(parent, youth)
	require.NoError(t, err)
	assert.Equal(t, []Label{
		{SubjectID: "S1", EventName: "baseline", Ideation: true, Action: true},
		{SubjectID: "S2", EventName: "baseline", Ideation: true, Action: false},
		{SubjectID: "S3", EventName: "year1", Ideation: false, Action: false},
	}, labels)
	assert.True(t, logger.ContainsMessage("outcome table built"))
}

func TestBuildMissingItemColumn(t *testing.T) {
	b, _ := newTestBuilder()
	parent := interview(t, ParentReport, []interviewRow{{"S1", "baseline", nil}})
	parent.Drop(ParentReport.Column(1113))
	youth := interview(t, YouthReport, []interviewRow{{"S1", "baseline", nil}})

	_, err := b.Build(parent, youth)
	var schemaErr *errors.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "ksads_23_1113_p", schemaErr.Column)
}

func TestFrameRoundTrip(t *testing.T) {
	labels := []Label{
		{SubjectID: "S1", EventName: "baseline", Ideation: true, Action: false},
		{SubjectID: "S2", EventName: "year1", Ideation: false, Action: false},
	}
	f, err := ToFrame(labels)
	require.NoError(t, err)

	c, _ := f.Column(Ideation)
	assert.Equal(t, tabular.KindBinary, c.Kind)

	back, err := FromFrame(f)
	require.NoError(t, err)
	assert.Equal(t, labels, back)
}
