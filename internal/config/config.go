// Package config loads the pipeline configuration: YAML file, then
// SIPREDICT_* environment overrides, then struct validation.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/sipredict/dataset/assemble"
	"github.com/YuminosukeSato/sipredict/harness"
	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. SIPREDICT_HARNESS_SEED.
const EnvPrefix = "SIPREDICT"

// Config is the top-level configuration.
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Store    StoreConfig    `yaml:"store"`
	Assemble AssembleConfig `yaml:"assemble"`
	Harness  HarnessConfig  `yaml:"harness"`
	Log      LogConfig      `yaml:"log"`
}

// InputConfig locates the raw questionnaire exports.
type InputConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR" validate:"required"`
	// Files overrides the export file name of a predictor source by name.
	Files       map[string]string `yaml:"files" envconfig:"FILES"`
	ParentKSADS string            `yaml:"parent_ksads" envconfig:"PARENT_KSADS" validate:"required"`
	YouthKSADS  string            `yaml:"youth_ksads" envconfig:"YOUTH_KSADS" validate:"required"`
}

// OutputConfig locates the rendered report.
type OutputConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR" validate:"required"`
}

// StoreConfig selects the intermediate-result store.
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND" validate:"oneof=file sqlite"`
	DSN     string `yaml:"dsn" envconfig:"DSN" validate:"required"`
}

// AssembleConfig holds the remediation thresholds.
type AssembleConfig struct {
	SentinelMin          float64 `yaml:"sentinel_min" envconfig:"SENTINEL_MIN"`
	SentinelMax          float64 `yaml:"sentinel_max" envconfig:"SENTINEL_MAX" validate:"gtefield=SentinelMin"`
	MaxMissing           float64 `yaml:"max_missing" envconfig:"MAX_MISSING" validate:"gte=0,lte=1"`
	EnforceColumnRecheck bool    `yaml:"enforce_column_recheck" envconfig:"ENFORCE_COLUMN_RECHECK"`
}

// HarnessConfig holds the training and evaluation settings.
type HarnessConfig struct {
	Seed           uint64   `yaml:"seed" envconfig:"SEED"`
	TrainFraction  float64  `yaml:"train_fraction" envconfig:"TRAIN_FRACTION" validate:"gt=0,lt=1"`
	Resamples      int      `yaml:"resamples" envconfig:"RESAMPLES" validate:"min=1"`
	CVFolds        int      `yaml:"cv_folds" envconfig:"CV_FOLDS" validate:"min=2"`
	ForestTrees    int      `yaml:"forest_trees" envconfig:"FOREST_TREES" validate:"min=1"`
	ImputeBags     int      `yaml:"impute_bags" envconfig:"IMPUTE_BAGS" validate:"min=1"`
	SelectFeatures bool     `yaml:"select_features" envconfig:"SELECT_FEATURES"`
	BorutaRuns     int      `yaml:"boruta_runs" envconfig:"BORUTA_RUNS" validate:"min=1"`
	BorutaPValue   float64  `yaml:"boruta_p_value" envconfig:"BORUTA_P_VALUE" validate:"gt=0,lt=1"`
	BorutaTrees    int      `yaml:"boruta_trees" envconfig:"BORUTA_TREES" validate:"min=1"`
	Families       []string `yaml:"families" envconfig:"FAMILIES" validate:"min=1,unique,dive,oneof=rf logistic glmnet gbm knn svm_linear svm_radial svm_poly"`
	SearchIter     int      `yaml:"search_iter" envconfig:"SEARCH_ITER" validate:"min=1"`
	KNNScaleMode   string   `yaml:"knn_scale_mode" envconfig:"KNN_SCALE_MODE" validate:"oneof=train test"`
	NJobs          int      `yaml:"n_jobs" envconfig:"N_JOBS" validate:"gte=0"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json console cloud"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	ao := assemble.DefaultOptions()
	hc := harness.DefaultConfig()
	families := make([]string, len(hc.Families))
	for i, f := range hc.Families {
		families[i] = string(f)
	}
	return &Config{
		Input: InputConfig{
			Dir:         "data",
			ParentKSADS: "abcd_ksad01.csv",
			YouthKSADS:  "abcd_ksad501.csv",
		},
		Output: OutputConfig{Dir: "output"},
		Store:  StoreConfig{Backend: "file", DSN: "output/store"},
		Assemble: AssembleConfig{
			SentinelMin:          ao.SentinelMin,
			SentinelMax:          ao.SentinelMax,
			MaxMissing:           ao.MaxMissing,
			EnforceColumnRecheck: ao.EnforceColumnRecheck,
		},
		Harness: HarnessConfig{
			Seed:           hc.Seed,
			TrainFraction:  hc.TrainFraction,
			Resamples:      hc.Resamples,
			CVFolds:        hc.CVFolds,
			ForestTrees:    hc.ForestTrees,
			ImputeBags:     hc.ImputeBags,
			SelectFeatures: hc.SelectFeatures,
			BorutaRuns:     hc.BorutaRuns,
			BorutaPValue:   hc.BorutaPValue,
			BorutaTrees:    hc.BorutaTrees,
			Families:       families,
			SearchIter:     hc.SearchIter,
			KNNScaleMode:   string(hc.KNNScaleMode),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for _, g := range []struct {
		name   string
		target interface{}
	}{
		{"INPUT", &c.Input},
		{"OUTPUT", &c.Output},
		{"STORE", &c.Store},
		{"ASSEMBLE", &c.Assemble},
		{"HARNESS", &c.Harness},
		{"LOG", &c.Log},
	} {
		if err := envconfig.Process(EnvPrefix+"_"+g.name, g.target); err != nil {
			return errors.Wrapf(err, "environment overrides for %s", strings.ToLower(g.name))
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return errors.NewValidationError(f.Namespace(), "failed "+f.Tag()+" "+f.Param(), f.Value())
		}
		return errors.Wrap(err, "validate config")
	}
	return nil
}

// AssembleOptions returns the assembler rules with the configured thresholds.
func (c *Config) AssembleOptions() assemble.Options {
	o := assemble.DefaultOptions()
	o.SentinelMin = c.Assemble.SentinelMin
	o.SentinelMax = c.Assemble.SentinelMax
	o.MaxMissing = c.Assemble.MaxMissing
	o.EnforceColumnRecheck = c.Assemble.EnforceColumnRecheck
	return o
}

// HarnessConfig converts the harness section.
func (c *Config) HarnessConfig() harness.Config {
	h := c.Harness
	families := make([]harness.Family, len(h.Families))
	for i, f := range h.Families {
		families[i] = harness.Family(f)
	}
	return harness.Config{
		Seed:           h.Seed,
		TrainFraction:  h.TrainFraction,
		Resamples:      h.Resamples,
		CVFolds:        h.CVFolds,
		ForestTrees:    h.ForestTrees,
		ImputeBags:     h.ImputeBags,
		SelectFeatures: h.SelectFeatures,
		BorutaRuns:     h.BorutaRuns,
		BorutaPValue:   h.BorutaPValue,
		BorutaTrees:    h.BorutaTrees,
		Families:       families,
		SearchIter:     h.SearchIter,
		KNNScaleMode:   harness.ScaleMode(h.KNNScaleMode),
		NJobs:          h.NJobs,
	}
}
