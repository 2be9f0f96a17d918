package log

// Standard attribute keys. Keys follow a hierarchical naming convention
// ("model.name", "data.samples") so that log records from different stages
// can be filtered on the same fields.

// Model and Operation Context
const (
	// ModelNameKey identifies the type of estimator, e.g. "RandomForestClassifier".
	ModelNameKey = "model.name"

	// ModelFamilyKey identifies a harness model family, e.g. "rf", "svm_radial".
	ModelFamilyKey = "model.family"

	// VariantKey is the feature-set variant of an artifact: "all" or "boruta".
	VariantKey = "model.variant"

	// ResampleKey is the balanced resample index of an artifact.
	ResampleKey = "model.resample"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the model lifecycle.
	PhaseKey = "ml.phase"
)

// Pipeline Context
const (
	// StageKey names the pipeline stage: "predictors", "outcomes", "assemble", ...
	StageKey = "pipeline.stage"

	// RunIDKey identifies one pipeline run in the artifact store.
	RunIDKey = "pipeline.run_id"

	// SourceKey names a questionnaire source table.
	SourceKey = "table.source"

	// TableKey names a persisted table.
	TableKey = "table.name"

	// RowsKey is the row count of a table.
	RowsKey = "table.rows"

	// ColumnsKey is the column count of a table.
	ColumnsKey = "table.columns"

	// ColumnKey names a single column.
	ColumnKey = "table.column"

	// MissingFractionKey is a missing-cell fraction in [0, 1].
	MissingFractionKey = "table.missing_fraction"

	// PathKey is a file system path or store location.
	PathKey = "io.path"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// PositivesKey is the number of positive-class samples.
	PositivesKey = "data.positives"

	// NegativesKey is the number of negative-class samples.
	NegativesKey = "data.negatives"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records classification accuracy.
	AccuracyKey = "metrics.accuracy"

	// SensitivityKey records the true positive rate at the calibrated cutoff.
	SensitivityKey = "metrics.sensitivity"

	// SpecificityKey records the true negative rate at the calibrated cutoff.
	SpecificityKey = "metrics.specificity"

	// AUCKey records the area under the ROC curve.
	AUCKey = "metrics.auc"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey records decision thresholds used for classification.
	ThresholdKey = "preds.threshold"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// CVScoreKey records the mean cross-validated score of a candidate.
	CVScoreKey = "cv.score"

	// FoldsKey records the number of cross-validation folds.
	FoldsKey = "cv.folds"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute value constants for common operations.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationLoad         = "load"
	OperationSave         = "save"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorSchema            = "SCHEMA_MISMATCH"
)
