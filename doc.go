// Package sipredict predicts youth suicidal ideation from cohort
// questionnaire exports.
//
// The pipeline turns raw per-instrument CSV or XLSX exports into a
// subject-level analysis table, trains eight model families over
// class-balanced resamples of the training split and reports test-set
// performance at Youden-calibrated thresholds.
//
// # Installation
//
//	go install github.com/YuminosukeSato/sipredict/cmd/sipredict@latest
//
// # Quick Start
//
// Every stage reads its inputs from the store and writes its outputs back,
// so stages can be run one at a time or all at once:
//
//	sipredict predictors -c sipredict.yaml
//	sipredict outcomes   -c sipredict.yaml
//	sipredict assemble   -c sipredict.yaml
//	sipredict split      -c sipredict.yaml
//	sipredict train      -c sipredict.yaml
//	sipredict evaluate   -c sipredict.yaml
//
//	sipredict run -c sipredict.yaml
//
// Settings come from the YAML file and are overridden by SIPREDICT_<GROUP>_<KEY>
// environment variables, for example SIPREDICT_HARNESS_RESAMPLES=10.
//
// The harness can also be used as a library:
//
//	h, err := harness.New(harness.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	train, test, err := h.Split(subjects)
//	...
//	imp, err := h.FitImputer(train)
//	...
//	train, err = imp.Apply(train)
//	test, err = imp.Apply(test)
//	sets, err := h.Balance(train)
//	sels, err := h.SelectAll(ctx, sets)
//	arts, err := h.Train(ctx, sets, sels)
//	preds, err := h.Predict(arts, test)
//	thresholds, metrics, err := h.Evaluate(preds)
//
// # Packages
//
//   - tabular: column-typed frames with CSV and XLSX codecs
//   - dataset/predictors: per-instrument cleaning and the predictor table
//   - dataset/outcomes: KSADS ideation and action labels
//   - dataset/assemble: join, remediation and subject aggregation
//   - harness: split, imputation, balancing, Boruta, training, evaluation
//   - sklearn/...: the learners (forest, logistic, glmnet, gbm, knn, svm)
//   - metrics: confusion matrices, ROC and AUC
//   - store: file and SQLite stores for tables and artifacts
//   - report: metrics CSV, workbook and ROC plots
//
// # License
//
// sipredict is released under the MIT License.
package sipredict
