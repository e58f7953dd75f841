package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// XGBoostModel evaluates a booster saved with Booster.save_model("*.json").
// Arithmetic is done in float32, the precision XGBoost predicts with.
type XGBoostModel struct {
	objective    string
	numFeature   int
	featureNames []string
	baseMargin   float32
	link         link

	trees       []regressionTree
	treeWeights []float32
	linear      *linearBooster
}

type link struct {
	toMargin  func(float64) (float32, error)
	transform func(float32) float32
}

type regressionTree struct {
	left        []int
	right       []int
	split       []int
	threshold   []float32
	defaultLeft []bool
}

type linearBooster struct {
	weights []float32
	bias    float32
}

type xgbDocument struct {
	Learner struct {
		Attributes        map[string]string `json:"attributes"`
		FeatureNames      []string          `json:"feature_names"`
		GradientBooster   json.RawMessage   `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
			NumTarget  string `json:"num_target"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type xgbBooster struct {
	Name       string          `json:"name"`
	Model      json.RawMessage `json:"model"`
	GBTree     *xgbBooster     `json:"gbtree"`
	WeightDrop []float64       `json:"weight_drop"`
}

type xgbTreeModel struct {
	Param struct {
		NumParallelTree string `json:"num_parallel_tree"`
		NumTrees        string `json:"num_trees"`
	} `json:"gbtree_model_param"`
	Trees []xgbTree `json:"trees"`
}

type xgbTree struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
	SplitType       []int      `json:"split_type"`
}

type xgbLinearModel struct {
	Weights []float64 `json:"weights"`
}

// flexBool accepts both the boolean and the 0/1 encodings XGBoost has used
// for default_left across releases.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch s := strings.TrimSpace(string(data)); s {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", s)
	}
	return nil
}

// ParseXGBoostModel decodes and validates an XGBoost JSON model document.
func ParseXGBoostModel(payload []byte) (*XGBoostModel, error) {
	var doc xgbDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	learner := doc.Learner
	if len(learner.GradientBooster) == 0 {
		return nil, fmt.Errorf("%w: missing learner.gradient_booster", ErrCorruptArtifact)
	}

	numFeature, err := parseParamInt("num_feature", learner.LearnerModelParam.NumFeature)
	if err != nil {
		return nil, err
	}
	numClass, err := parseParamInt("num_class", learner.LearnerModelParam.NumClass)
	if err != nil {
		return nil, err
	}
	numTarget, err := parseParamInt("num_target", learner.LearnerModelParam.NumTarget)
	if err != nil {
		return nil, err
	}
	if numClass > 1 || numTarget > 1 {
		return nil, fmt.Errorf("%w: multi-output boosters are not supported", ErrUnsupportedFormat)
	}

	lk, err := linkFor(learner.Objective.Name)
	if err != nil {
		return nil, err
	}
	baseScore, err := parseBaseScore(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	baseMargin, err := lk.toMargin(baseScore)
	if err != nil {
		return nil, err
	}

	model := &XGBoostModel{
		objective:    learner.Objective.Name,
		numFeature:   numFeature,
		featureNames: learner.FeatureNames,
		baseMargin:   baseMargin,
		link:         lk,
	}

	var booster xgbBooster
	if err := json.Unmarshal(learner.GradientBooster, &booster); err != nil {
		return nil, fmt.Errorf("%w: gradient_booster: %v", ErrCorruptArtifact, err)
	}

	limit := -1
	if v, ok := learner.Attributes["best_iteration"]; ok {
		best, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || best < 0 {
			return nil, fmt.Errorf("%w: invalid best_iteration %q", ErrCorruptArtifact, v)
		}
		limit = best + 1
	}

	switch booster.Name {
	case "gbtree":
		model.trees, err = parseTreeModel(booster.Model, numFeature, limit)
	case "dart":
		if booster.GBTree == nil {
			return nil, fmt.Errorf("%w: dart booster without gbtree", ErrCorruptArtifact)
		}
		model.trees, err = parseTreeModel(booster.GBTree.Model, numFeature, limit)
		if err == nil {
			model.treeWeights, err = dartWeights(booster.WeightDrop, len(model.trees))
		}
	case "gblinear":
		model.linear, err = parseLinearModel(booster.Model, &model.numFeature)
	default:
		return nil, fmt.Errorf("%w: booster %q", ErrUnsupportedFormat, booster.Name)
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Predict returns the transformed prediction for one row. NaN features
// follow each split's default direction.
func (m *XGBoostModel) Predict(features []float64) (float64, error) {
	if err := checkShape(features, m.numFeature); err != nil {
		return 0, err
	}
	row := make([]float32, len(features))
	for i, v := range features {
		row[i] = float32(v)
	}

	margin := m.baseMargin
	if m.linear != nil {
		margin += m.linear.eval(row)
	} else {
		for i := range m.trees {
			leaf := m.trees[i].leaf(row)
			if m.treeWeights != nil {
				leaf *= m.treeWeights[i]
			}
			margin += leaf
		}
	}
	return float64(m.link.transform(margin)), nil
}

func (m *XGBoostModel) NumFeatures() int {
	return m.numFeature
}

func (m *XGBoostModel) FeatureNames() []string {
	return append([]string(nil), m.featureNames...)
}

// Objective returns the learner objective name.
func (m *XGBoostModel) Objective() string {
	return m.objective
}

// NumTrees returns the number of trees used, after best_iteration truncation.
func (m *XGBoostModel) NumTrees() int {
	return len(m.trees)
}

func (t *regressionTree) leaf(row []float32) float32 {
	idx := 0
	for t.left[idx] != -1 {
		fid := t.split[idx]
		if fid >= len(row) || isNaN32(row[fid]) {
			if t.defaultLeft[idx] {
				idx = t.left[idx]
			} else {
				idx = t.right[idx]
			}
			continue
		}
		if row[fid] < t.threshold[idx] {
			idx = t.left[idx]
		} else {
			idx = t.right[idx]
		}
	}
	return t.threshold[idx]
}

func (l *linearBooster) eval(row []float32) float32 {
	sum := l.bias
	for i, w := range l.weights {
		sum += w * row[i]
	}
	return sum
}

func parseTreeModel(raw json.RawMessage, numFeature, iterations int) ([]regressionTree, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing tree model", ErrCorruptArtifact)
	}
	var tm xgbTreeModel
	if err := json.Unmarshal(raw, &tm); err != nil {
		return nil, fmt.Errorf("%w: trees: %v", ErrCorruptArtifact, err)
	}
	if len(tm.Trees) == 0 {
		return nil, fmt.Errorf("%w: booster has no trees", ErrCorruptArtifact)
	}

	parallel, err := parseParamInt("num_parallel_tree", tm.Param.NumParallelTree)
	if err != nil {
		return nil, err
	}
	if parallel <= 0 {
		parallel = 1
	}
	count := len(tm.Trees)
	if iterations > 0 && iterations*parallel < count {
		count = iterations * parallel
	}

	trees := make([]regressionTree, count)
	for i := 0; i < count; i++ {
		tree, err := buildTree(tm.Trees[i], numFeature)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = tree
	}
	return trees, nil
}

func buildTree(t xgbTree, numFeature int) (regressionTree, error) {
	n := len(t.LeftChildren)
	if n == 0 || len(t.RightChildren) != n || len(t.SplitIndices) != n ||
		len(t.SplitConditions) != n || len(t.DefaultLeft) != n {
		return regressionTree{}, fmt.Errorf("%w: node arrays have mismatched lengths", ErrCorruptArtifact)
	}

	// Walk only the reachable nodes; pruned nodes may still sit in the arrays.
	visited := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[idx] {
			return regressionTree{}, fmt.Errorf("%w: node %d reached twice", ErrCorruptArtifact, idx)
		}
		visited[idx] = true

		left, right := t.LeftChildren[idx], t.RightChildren[idx]
		if left == -1 {
			continue
		}
		if left < 0 || left >= n || right < 0 || right >= n {
			return regressionTree{}, fmt.Errorf("%w: node %d has invalid children", ErrCorruptArtifact, idx)
		}
		if len(t.SplitType) == n && t.SplitType[idx] != 0 {
			return regressionTree{}, fmt.Errorf("%w: categorical split at node %d", ErrUnsupportedFormat, idx)
		}
		if fid := t.SplitIndices[idx]; fid < 0 || (numFeature > 0 && fid >= numFeature) {
			return regressionTree{}, fmt.Errorf("%w: node %d splits on feature %d", ErrCorruptArtifact, idx, fid)
		}
		stack = append(stack, left, right)
	}

	tree := regressionTree{
		left:        t.LeftChildren,
		right:       t.RightChildren,
		split:       t.SplitIndices,
		threshold:   make([]float32, n),
		defaultLeft: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		tree.threshold[i] = float32(t.SplitConditions[i])
		tree.defaultLeft[i] = bool(t.DefaultLeft[i])
	}
	return tree, nil
}

func dartWeights(drop []float64, trees int) ([]float32, error) {
	if len(drop) < trees {
		return nil, fmt.Errorf("%w: dart has %d weights for %d trees", ErrCorruptArtifact, len(drop), trees)
	}
	weights := make([]float32, trees)
	for i := range weights {
		weights[i] = float32(drop[i])
	}
	return weights, nil
}

func parseLinearModel(raw json.RawMessage, numFeature *int) (*linearBooster, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing linear model", ErrCorruptArtifact)
	}
	var lm xgbLinearModel
	if err := json.Unmarshal(raw, &lm); err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrCorruptArtifact, err)
	}
	if len(lm.Weights) == 0 {
		return nil, fmt.Errorf("%w: linear booster has no weights", ErrCorruptArtifact)
	}
	if *numFeature == 0 {
		*numFeature = len(lm.Weights) - 1
	}
	if len(lm.Weights) != *numFeature+1 {
		return nil, fmt.Errorf("%w: %d linear weights for %d features", ErrCorruptArtifact, len(lm.Weights), *numFeature)
	}

	booster := &linearBooster{
		weights: make([]float32, *numFeature),
		bias:    float32(lm.Weights[*numFeature]),
	}
	for i := range booster.weights {
		booster.weights[i] = float32(lm.Weights[i])
	}
	return booster, nil
}

func linkFor(objective string) (link, error) {
	identity := link{
		toMargin:  func(base float64) (float32, error) { return float32(base), nil },
		transform: func(x float32) float32 { return x },
	}
	switch objective {
	case "", "reg:squarederror", "reg:linear", "reg:squaredlogerror", "reg:pseudohubererror",
		"reg:absoluteerror", "reg:quantileerror":
		return identity, nil
	case "reg:gamma", "reg:tweedie", "count:poisson":
		return link{
			toMargin: func(base float64) (float32, error) {
				if base <= 0 {
					return 0, fmt.Errorf("%w: base_score %v must be positive for %s", ErrCorruptArtifact, base, objective)
				}
				return float32(math.Log(base)), nil
			},
			transform: func(x float32) float32 { return float32(math.Exp(float64(x))) },
		}, nil
	case "reg:logistic":
		return link{
			toMargin: func(base float64) (float32, error) {
				if base <= 0 || base >= 1 {
					return 0, fmt.Errorf("%w: base_score %v must be in (0, 1) for %s", ErrCorruptArtifact, base, objective)
				}
				return float32(math.Log(base / (1 - base))), nil
			},
			transform: func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) },
		}, nil
	default:
		return link{}, fmt.Errorf("%w: objective %q", ErrUnsupportedFormat, objective)
	}
}

// parseBaseScore accepts "5E-1" as well as the bracketed "[1.0638E2]" form
// written by newer releases.
func parseBaseScore(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid base_score %q", ErrCorruptArtifact, raw)
	}
	return v, nil
}

func parseParamInt(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrCorruptArtifact, name, raw)
	}
	return v, nil
}

func isNaN32(v float32) bool {
	return v != v
}
