package harness

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sipredict/core/model"
	"github.com/YuminosukeSato/sipredict/sklearn/ensemble"
	"github.com/YuminosukeSato/sipredict/sklearn/gbm"
	"github.com/YuminosukeSato/sipredict/sklearn/linear_model"
	"github.com/YuminosukeSato/sipredict/sklearn/model_selection"
	"github.com/YuminosukeSato/sipredict/sklearn/neighbors"
	"github.com/YuminosukeSato/sipredict/sklearn/svm"
)

// Family names a learner together with its tuning procedure.
type Family string

const (
	FamilyRF        Family = "rf"
	FamilyLogistic  Family = "logistic"
	FamilyGLMNet    Family = "glmnet"
	FamilyGBM       Family = "gbm"
	FamilyKNN       Family = "knn"
	FamilySVMLinear Family = "svm_linear"
	FamilySVMRadial Family = "svm_radial"
	FamilySVMPoly   Family = "svm_poly"
)

// AllFamilies returns every family in training order.
func AllFamilies() []Family {
	return []Family{
		FamilyRF, FamilyLogistic, FamilyGLMNet, FamilyGBM,
		FamilyKNN, FamilySVMLinear, FamilySVMRadial, FamilySVMPoly,
	}
}

// ordinal is the family's position in AllFamilies; it keys the random stream.
func (f Family) ordinal() uint64 {
	for i, g := range AllFamilies() {
		if g == f {
			return uint64(i)
		}
	}
	return math.MaxUint32
}

// Variant is the predictor set a model is trained on.
type Variant string

const (
	VariantAll    Variant = "all"
	VariantBoruta Variant = "boruta"
)

func (v Variant) ordinal() uint64 {
	if v == VariantBoruta {
		return 1
	}
	return 0
}

// fitted is a tuned model plus what the tuning reported.
type fitted struct {
	model   model.Classifier
	params  map[string]interface{}
	cvScore float64
}

type trainer struct {
	// scaled families see predictors standardized on the training rows
	scaled bool
	fit    func(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error)
}

var families = map[Family]trainer{
	FamilyRF:        {fit: fitForest},
	FamilyLogistic:  {fit: fitStepwise},
	FamilyGLMNet:    {fit: fitGLMNet},
	FamilyGBM:       {fit: fitGBM},
	FamilyKNN:       {scaled: true, fit: fitKNN},
	FamilySVMLinear: {scaled: true, fit: fitSVMLinear},
	FamilySVMRadial: {scaled: true, fit: fitSVMRadial},
	FamilySVMPoly:   {scaled: true, fit: fitSVMPoly},
}

func fitForest(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	rf := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(h.cfg.ForestTrees),
		ensemble.WithOOBScore(true),
		ensemble.WithRandomState(seed),
		ensemble.WithNJobs(1),
	)
	if err := rf.Fit(X, y); err != nil {
		return nil, err
	}
	_, p := X.Dims()
	return &fitted{
		model: rf,
		params: map[string]interface{}{
			"n_estimators": rf.NEstimators,
			"mtry":         int(math.Max(1, math.Floor(math.Sqrt(float64(p))))),
		},
		cvScore: rf.OOBAccuracy,
	}, nil
}

func fitStepwise(_ *Harness, X, y *mat.Dense, _ uint64) (*fitted, error) {
	sw := linear_model.NewStepwiseLogisticRegression()
	sw.NJobs = 1
	if err := sw.Fit(X, y); err != nil {
		return nil, err
	}
	return &fitted{
		model:   sw,
		params:  map[string]interface{}{"selected": len(sw.Selected)},
		cvScore: math.NaN(),
	}, nil
}

func (h *Harness) search(s interface {
	Fit(X, y mat.Matrix) (*model_selection.SearchResult, error)
}, X, y *mat.Dense) (*fitted, error) {
	res, err := s.Fit(X, y)
	if err != nil {
		return nil, err
	}
	return &fitted{model: res.BestEstimator, params: res.BestParams, cvScore: res.BestScore}, nil
}

func (h *Harness) folds(seed uint64) model_selection.Splitter {
	return model_selection.NewStratifiedKFold(h.cfg.CVFolds, true, seed)
}

func fitGLMNet(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	factory := func(p map[string]interface{}) (model.Classifier, error) {
		lr := linear_model.NewLogisticRegression(linear_model.WithLRPenalty("elasticnet"))
		if err := lr.SetParams(p); err != nil {
			return nil, err
		}
		return lr, nil
	}
	return h.search(&model_selection.GridSearchCV{
		Factory: factory,
		Grid: model_selection.ParamGrid{
			"alpha":  {0.1, 0.55, 1.0},
			"lambda": {0.0005, 0.005, 0.05},
		},
		CV:    h.folds(seed),
		NJobs: 1,
	}, X, y)
}

func fitGBM(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	factory := func(p map[string]interface{}) (model.Classifier, error) {
		c := gbm.NewClassifier(gbm.WithRandomState(seed))
		if err := c.SetParams(p); err != nil {
			return nil, err
		}
		return c, nil
	}
	return h.search(&model_selection.GridSearchCV{
		Factory: factory,
		Grid: model_selection.ParamGrid{
			"n_trees":           {50, 100, 150},
			"interaction_depth": {1, 2, 3},
		},
		CV:    h.folds(seed),
		NJobs: 1,
	}, X, y)
}

func fitKNN(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	factory := func(p map[string]interface{}) (model.Classifier, error) {
		c := neighbors.NewKNeighborsClassifier()
		if err := c.SetParams(p); err != nil {
			return nil, err
		}
		return c, nil
	}
	return h.search(&model_selection.GridSearchCV{
		Factory: factory,
		Grid:    model_selection.ParamGrid{"k": {5, 7, 9}},
		CV:      h.folds(seed),
		NJobs:   1,
	}, X, y)
}

func svcFactory(kernel string) model.ClassifierFactory {
	return func(p map[string]interface{}) (model.Classifier, error) {
		s := svm.NewSVC(svm.WithKernel(kernel))
		if err := s.SetParams(p); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func fitSVMLinear(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	return h.search(&model_selection.GridSearchCV{
		Factory: svcFactory(svm.KernelLinear),
		Grid:    model_selection.ParamGrid{"C": {0.25, 0.5, 1.0}},
		CV:      h.folds(seed),
		NJobs:   1,
	}, X, y)
}

func fitSVMRadial(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	return h.search(&model_selection.RandomizedSearchCV{
		Factory: svcFactory(svm.KernelRBF),
		Distributions: map[string]model_selection.Distribution{
			"sigma": model_selection.LogUniform{Low: 1e-3, High: 1},
			"C":     model_selection.LogUniform{Low: 0.25, High: 32},
		},
		NIter: h.cfg.SearchIter,
		CV:    h.folds(seed),
		Seed:  derive(seed, saltSearch),
		NJobs: 1,
	}, X, y)
}

func fitSVMPoly(h *Harness, X, y *mat.Dense, seed uint64) (*fitted, error) {
	return h.search(&model_selection.RandomizedSearchCV{
		Factory: svcFactory(svm.KernelPoly),
		Distributions: map[string]model_selection.Distribution{
			"degree": model_selection.IntRange{Low: 1, High: 3},
			"scale":  model_selection.LogUniform{Low: 1e-3, High: 1},
			"C":      model_selection.LogUniform{Low: 0.25, High: 32},
		},
		NIter: h.cfg.SearchIter,
		CV:    h.folds(seed),
		Seed:  derive(seed, saltSearch),
		NJobs: 1,
	}, X, y)
}
