package predictors

import (
	"context"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/tabular"
)

// Builder derives and joins the predictor columns of every source.
type Builder struct {
	sources []Source
	logger  log.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithSources replaces the default source schemas.
func WithSources(sources ...Source) Option {
	return func(b *Builder) { b.sources = sources }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder over DefaultSources.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{sources: DefaultSources()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.GetLoggerWithName("predictors")
	}
	return b
}

// Sources returns the configured schemas.
func (b *Builder) Sources() []Source { return b.sources }

// Validate checks every schema and that no two sources produce the same
// output column.
func (b *Builder) Validate() error {
	owner := make(map[string]string)
	for _, s := range b.sources {
		if err := s.Validate(); err != nil {
			return err
		}
		for _, o := range s.Outputs() {
			if prev, dup := owner[o]; dup {
				return errors.NewSchemaErrorf(s.Name, o, "output also produced by %s", prev)
			}
			owner[o] = s.Name
		}
	}
	return nil
}

// Build applies every source schema to its raw export and outer-joins the
// results on (subject_id, event_name). raw is keyed by source name; a source
// without an export is an error.
func (b *Builder) Build(ctx context.Context, raw map[string]*tabular.Frame) (*tabular.Frame, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	derived := make([]tabular.Named, 0, len(b.sources))
	for _, s := range b.sources {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		in, ok := raw[s.Name]
		if !ok {
			return nil, errors.NewSchemaErrorf(s.Name, "", "no export loaded for source (expected %s)", s.File)
		}
		out, err := s.Apply(in)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("source derived",
			log.SourceKey, s.Name,
			log.RowsKey, out.NRows(),
			log.ColumnsKey, out.NCols()-2,
		)
		derived = append(derived, tabular.Named{Name: s.Name, Frame: out})
	}

	joined, err := tabular.OuterJoin(derived, tabular.SubjectKey, tabular.EventKey)
	if err != nil {
		return nil, err
	}
	b.logger.Info("predictor table built",
		log.TableKey, "predictors",
		log.RowsKey, joined.NRows(),
		log.ColumnsKey, joined.NCols(),
	)
	return joined, nil
}
