package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"

	perrors "github.com/YuminosukeSato/sipredict/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelInfo)

	testLogger.Debug("debug message")
	testLogger.Info("info message", "key1", "value1", "number", 42)
	testLogger.Warn("warning message")
	testLogger.Error("error message", fmt.Errorf("boom"), ErrorCodeKey, ErrorSchema)

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty string")
	}
	if testLogger.ContainsMessage("debug message") {
		t.Error("Debug message should not appear when level is Info")
	}
	for _, msg := range []string{"info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "boom") {
		t.Error("leading error should be stored under the error key")
	}
	if !testLogger.ContainsField(ErrorCodeKey, ErrorSchema) {
		t.Error("fields after the error should be kept")
	}
	if got := testLogger.CountLevel(LevelWarn); got != 1 {
		t.Errorf("CountLevel(WARN) = %d, want 1", got)
	}
}

func TestTestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ModelFamilyKey, "rf",
		VariantKey, "boruta",
		ResampleKey, 2,
	)
	contextLogger.Info("contextual message", OperationKey, OperationFit)

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	want := map[string]interface{}{
		ModelFamilyKey: "rf",
		VariantKey:     "boruta",
		ResampleKey:    2.0,
		OperationKey:   OperationFit,
	}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("field %s = %v, want %v", k, entries[0][k], v)
		}
	}
}

func TestTestLoggerConcurrent(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := testLogger.With(ResampleKey, id)
			for j := 0; j < 5; j++ {
				l.Info("fitting", IterationKey, j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("Expected 20 entries, got %d", len(entries))
	}
}

func TestTestLoggerProvider(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("provider test message")
	provider.GetLoggerWithName("assemble").Info("named logger message")

	out := buffer.String()
	if !strings.Contains(out, "named logger message") || !strings.Contains(out, "assemble") {
		t.Errorf("named logger output missing: %s", out)
	}

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("suppressed")
	if provider.Logger().ContainsMessage("suppressed") {
		t.Error("SetLevel should suppress info records")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, LevelDebug)
	logger := provider.GetLoggerWithName("predictors").With(SourceKey, "cbcl")

	logger.Info("source loaded", RowsKey, 12, MissingFractionKey, 0.25)

	var rec map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if rec["message"] != "source loaded" {
		t.Errorf("message = %v", rec["message"])
	}
	if rec[ComponentKey] != "predictors" || rec[SourceKey] != "cbcl" {
		t.Errorf("context fields missing: %v", rec)
	}
	if rec[RowsKey] != 12.0 || rec[MissingFractionKey] != 0.25 {
		t.Errorf("fields missing: %v", rec)
	}
}

func TestZerologLoggerErrorStacktrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologProvider(&buf, LevelInfo).GetLogger()

	logger.Error("stage failed", errors.New("disk full"), StageKey, "assemble")

	out := buf.String()
	if !strings.Contains(out, "disk full") {
		t.Errorf("error text missing: %s", out)
	}
	if !strings.Contains(out, StacktraceKey) {
		t.Errorf("stacktrace missing: %s", out)
	}
}

func TestZerologProviderSetLevel(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, LevelInfo)
	ctx := context.Background()

	if provider.GetLogger().Enabled(ctx, LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
	provider.SetLevel(LevelDebug)
	if !provider.GetLogger().Enabled(ctx, LevelDebug) {
		t.Error("debug should be enabled after SetLevel")
	}
}

func TestZerologWarnFunc(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, LevelInfo)

	provider.WarnFunc()(perrors.NewMissingnessWarning("pps_y_ss_severity", 0.3, 0.15))

	out := buf.String()
	if !strings.Contains(out, `"type":"MissingnessWarning"`) {
		t.Errorf("structured warning fields missing: %s", out)
	}
	if !strings.Contains(out, `"column":"pps_y_ss_severity"`) {
		t.Errorf("column missing: %s", out)
	}
}

func TestSetupLogger(t *testing.T) {
	defer SetProvider(NewZerologProvider(&bytes.Buffer{}, LevelInfo))

	var buf bytes.Buffer
	if err := SetupLogger("debug", FormatCloud, &buf); err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	GetLoggerWithName("cli").Error("failed", errors.New("bad input"))

	out := buf.String()
	if !strings.Contains(out, `"severity":"ERROR"`) {
		t.Errorf("cloud format expected: %s", out)
	}
	if !strings.Contains(out, StacktraceKey) {
		t.Errorf("ErrFmtHandler should add stacktrace: %s", out)
	}

	if err := SetupLogger("verbose", FormatJSON, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := SetupLogger("info", "xml", &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func BenchmarkTestLogger(b *testing.B) {
	testLogger, _ := NewTestLogger(LevelInfo)
	contextLogger := testLogger.With(ModelFamilyKey, "gbm")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		contextLogger.Info("benchmark message", IterationKey, i, SamplesKey, 1000)
	}
}
