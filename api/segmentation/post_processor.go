package segmentation

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// PostProcessor turns raw model scores into labels according to their output config.
// It holds no state and is safe for concurrent use.
type PostProcessor struct{}

// NewPostProcessor creates a PostProcessor.
func NewPostProcessor() *PostProcessor {
	return &PostProcessor{}
}

// GetClassifierResults returns the ordered labels for a prediction result. Score counts
// that don't match the configured classifier, and results with no classifier, are
// reported as ErrInvalidOutputConfig.
func (p *PostProcessor) GetClassifierResults(result PredictionResult) ([]string, error) {
	if result.OutputConfig == nil || result.OutputConfig.Classifier == nil {
		return nil, errors.Wrap(ErrInvalidOutputConfig, "prediction result has no classifier")
	}

	switch classifier := result.OutputConfig.Classifier.(type) {
	case BinaryClassifier:
		return binaryClassifierResults(result.Scores, classifier)
	case MultiClassClassifier:
		return multiClassClassifierResults(result.Scores, classifier)
	case BinnedClassifier:
		return binnedClassifierResults(result.Scores, classifier)
	default:
		return nil, errors.Wrapf(ErrInvalidOutputConfig, "unhandled classifier type %T", classifier)
	}
}

func binaryClassifierResults(scores []float32, classifier BinaryClassifier) ([]string, error) {
	if len(scores) != 1 {
		return nil, errors.Wrapf(ErrInvalidOutputConfig, "binary classifier expects 1 score, got %d", len(scores))
	}
	if scores[0] >= classifier.Threshold {
		return []string{classifier.PositiveLabel}, nil
	}
	return []string{classifier.NegativeLabel}, nil
}

type labelledScore struct {
	label string
	score float32
}

func multiClassClassifierResults(scores []float32, classifier MultiClassClassifier) ([]string, error) {
	if len(scores) != len(classifier.ClassLabels) {
		return nil, errors.Wrapf(ErrInvalidOutputConfig, "multi-class classifier expects %d scores, got %d",
			len(classifier.ClassLabels), len(scores))
	}

	ranked := make([]labelledScore, len(scores))
	for i, score := range scores {
		ranked[i] = labelledScore{label: classifier.ClassLabels[i], score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	topK := classifier.TopKOutputs
	if topK > len(ranked) {
		topK = len(ranked)
	}

	labels := []string{}
	for _, candidate := range ranked[:topK] {
		if classifier.Threshold != nil && candidate.score < *classifier.Threshold {
			break
		}
		labels = append(labels, candidate.label)
	}
	return labels, nil
}

func binnedClassifierResults(scores []float32, classifier BinnedClassifier) ([]string, error) {
	if len(scores) != 1 {
		return nil, errors.Wrapf(ErrInvalidOutputConfig, "binned classifier expects 1 score, got %d", len(scores))
	}

	label := classifier.UnderflowLabel
	for _, bin := range classifier.Bins {
		if scores[0] >= bin.MinRange {
			label = bin.Label
		}
	}
	return []string{label}, nil
}

// GetRawResult tags a prediction result with a status.
func (p *PostProcessor) GetRawResult(result PredictionResult, status PredictionStatus) RawResult {
	return RawResult{Status: status, Result: result}
}

// GetPostProcessedClassificationResult labels a raw result. Labels are only computed for
// succeeded results; a result that can't be labelled is downgraded to StatusFailed and the
// reason is returned alongside.
func (p *PostProcessor) GetPostProcessedClassificationResult(raw RawResult) (ClassificationResult, error) {
	classification := ClassificationResult{
		Status:        raw.Status,
		OrderedLabels: []string{},
		RequestID:     raw.RequestID,
	}
	if raw.Status != StatusSucceeded {
		return classification, nil
	}
	if !raw.Result.IsValid() {
		classification.Status = StatusFailed
		return classification, errors.Wrap(ErrInvalidOutputConfig, "succeeded result has no scores or classifier")
	}

	labels, err := p.GetClassifierResults(raw.Result)
	if err != nil {
		classification.Status = StatusFailed
		return classification, err
	}
	classification.OrderedLabels = labels
	return classification, nil
}

// GetAnnotatedNumericResult wraps a raw result for numeric callers.
func (p *PostProcessor) GetAnnotatedNumericResult(raw RawResult) AnnotatedNumericResult {
	return AnnotatedNumericResult{Status: raw.Status, Result: raw.Result, RequestID: raw.RequestID}
}

// GetTTLForPredictedResult returns how long a result stays fresh. Results without a TTL
// config are always stale.
func (p *PostProcessor) GetTTLForPredictedResult(result PredictionResult) time.Duration {
	if result.OutputConfig == nil || result.OutputConfig.TTL == nil {
		return 0
	}
	ttl := result.OutputConfig.TTL

	units := ttl.DefaultTTL
	if labels, err := p.GetClassifierResults(result); err == nil && len(labels) > 0 {
		if labelTTL, ok := ttl.TopLabelToTTL[labels[0]]; ok {
			units = labelTTL
		}
	}
	return time.Duration(units) * ttl.TimeUnit.Duration()
}
