package harness

import (
	"github.com/YuminosukeSato/sipredict/dataset/outcomes"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Harness runs the training and evaluation steps with one configuration.
type Harness struct {
	cfg    Config
	logger log.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger overrides the component logger.
func WithLogger(l log.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New validates cfg and returns a Harness.
func New(cfg Config, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Harness{cfg: cfg, logger: log.GetLoggerWithName("harness")}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Config returns the validated configuration.
func (h *Harness) Config() Config { return h.cfg }

// PredictorNames lists the numeric and binary columns of f that are model
// inputs: everything except the subject key and the two outcomes.
func PredictorNames(f *tabular.Frame) []string {
	var out []string
	for _, c := range f.Columns() {
		switch c.Name {
		case tabular.SubjectKey, outcomes.Ideation, outcomes.Action:
			continue
		}
		if c.Kind == tabular.KindText {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func classCounts(f *tabular.Frame) (pos, neg int, err error) {
	flags, err := f.Binary(outcomes.Ideation)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range flags {
		if v == tabular.True {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg, nil
}
