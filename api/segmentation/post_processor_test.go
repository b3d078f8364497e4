package segmentation

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32Ptr(v float32) *float32 {
	return &v
}

func binaryResult(score float32) PredictionResult {
	return PredictionResult{
		Scores: []float32{score},
		OutputConfig: &OutputConfig{Classifier: BinaryClassifier{
			Threshold:     0.5,
			PositiveLabel: "Show",
			NegativeLabel: "DontShow",
		}},
	}
}

func multiClassResult(topK int, threshold *float32) PredictionResult {
	return PredictionResult{
		Scores: []float32{0.5, 0.2, 0.4, 0.7},
		OutputConfig: &OutputConfig{Classifier: MultiClassClassifier{
			ClassLabels: []string{"Share", "NewTab", "Voice", "Shopping"},
			TopKOutputs: topK,
			Threshold:   threshold,
		}},
	}
}

func binnedResult(score float32) PredictionResult {
	return PredictionResult{
		Scores: []float32{score},
		OutputConfig: &OutputConfig{Classifier: BinnedClassifier{
			Bins: []Bin{
				{MinRange: 0.2, Label: "Low"},
				{MinRange: 0.3, Label: "Medium"},
				{MinRange: 0.5, Label: "High"},
			},
			UnderflowLabel: "Underflow",
		}},
	}
}

func TestBinaryClassifierThreshold(t *testing.T) {
	p := NewPostProcessor()

	labels, err := p.GetClassifierResults(binaryResult(0.5))
	assert.NoError(t, err)
	assert.Equal(t, []string{"Show"}, labels)

	labels, err = p.GetClassifierResults(binaryResult(0.4999))
	assert.NoError(t, err)
	assert.Equal(t, []string{"DontShow"}, labels)
}

func TestMultiClassClassifierTopKWithThreshold(t *testing.T) {
	p := NewPostProcessor()

	labels, err := p.GetClassifierResults(multiClassResult(4, float32Ptr(0.4)))
	assert.NoError(t, err)
	assert.Equal(t, []string{"Shopping", "Share", "Voice"}, labels)

	labels, err = p.GetClassifierResults(multiClassResult(4, float32Ptr(0.8)))
	assert.NoError(t, err)
	assert.Empty(t, labels)
}

func TestMultiClassClassifierWithoutThreshold(t *testing.T) {
	p := NewPostProcessor()

	labels, err := p.GetClassifierResults(multiClassResult(2, nil))
	assert.NoError(t, err)
	assert.Equal(t, []string{"Shopping", "Share"}, labels)

	// top-k larger than the label set emits everything
	labels, err = p.GetClassifierResults(multiClassResult(10, nil))
	assert.NoError(t, err)
	assert.Equal(t, []string{"Shopping", "Share", "Voice", "NewTab"}, labels)
}

func TestMultiClassClassifierStableOnTies(t *testing.T) {
	p := NewPostProcessor()
	result := PredictionResult{
		Scores: []float32{0.3, 0.6, 0.6, 0.3},
		OutputConfig: &OutputConfig{Classifier: MultiClassClassifier{
			ClassLabels: []string{"A", "B", "C", "D"},
			TopKOutputs: 4,
		}},
	}

	labels, err := p.GetClassifierResults(result)
	assert.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A", "D"}, labels)
}

func TestBinnedClassifierBoundaries(t *testing.T) {
	p := NewPostProcessor()

	for score, expected := range map[float32]string{
		0.2: "Low",
		0.1: "Underflow",
		0.6: "High",
		0.3: "Medium",
		0.5: "High",
	} {
		labels, err := p.GetClassifierResults(binnedResult(score))
		assert.NoError(t, err)
		assert.Equal(t, []string{expected}, labels, "score %v", score)
	}
}

func TestClassifierContractViolations(t *testing.T) {
	p := NewPostProcessor()

	wrongCount := binaryResult(0.5)
	wrongCount.Scores = []float32{0.1, 0.2}
	_, err := p.GetClassifierResults(wrongCount)
	assert.Equal(t, ErrInvalidOutputConfig, errors.Cause(err))

	wrongCount = multiClassResult(4, nil)
	wrongCount.Scores = wrongCount.Scores[:3]
	_, err = p.GetClassifierResults(wrongCount)
	assert.Equal(t, ErrInvalidOutputConfig, errors.Cause(err))

	_, err = p.GetClassifierResults(PredictionResult{Scores: []float32{1}, OutputConfig: &OutputConfig{}})
	assert.Equal(t, ErrInvalidOutputConfig, errors.Cause(err))
}

func TestPostProcessedClassificationResult(t *testing.T) {
	p := NewPostProcessor()

	result, err := p.GetPostProcessedClassificationResult(RawResult{
		Status:    StatusSucceeded,
		Result:    binaryResult(0.9),
		RequestID: "req-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"Show"}, result.OrderedLabels)
	assert.Equal(t, TrainingRequestID("req-1"), result.RequestID)

	// non-success statuses pass through without labels
	result, err = p.GetPostProcessedClassificationResult(RawResult{Status: StatusNotReady, Result: binaryResult(0.9)})
	assert.NoError(t, err)
	assert.Equal(t, StatusNotReady, result.Status)
	assert.Empty(t, result.OrderedLabels)

	// a succeeded result that can't be labelled degrades to failed
	result, err = p.GetPostProcessedClassificationResult(RawResult{Status: StatusSucceeded})
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestTTLForPredictedResult(t *testing.T) {
	p := NewPostProcessor()

	result := binaryResult(0.9)
	assert.Equal(t, time.Duration(0), p.GetTTLForPredictedResult(result))

	result.OutputConfig.TTL = &PredictedResultTTL{
		TopLabelToTTL: map[string]int64{"Show": 3},
		DefaultTTL:    7,
		TimeUnit:      UnitDay,
	}
	assert.Equal(t, 3*24*time.Hour, p.GetTTLForPredictedResult(result))

	result.Scores = []float32{0.1}
	assert.Equal(t, 7*24*time.Hour, p.GetTTLForPredictedResult(result))
}

func TestPredictionResultValidity(t *testing.T) {
	require.True(t, binaryResult(0.1).IsValid())

	noScores := binaryResult(0.1)
	noScores.Scores = nil
	assert.False(t, noScores.IsValid())

	noConfig := binaryResult(0.1)
	noConfig.OutputConfig = nil
	assert.False(t, noConfig.IsValid())

	zeroTopK := multiClassResult(0, nil)
	assert.False(t, zeroTopK.IsValid())

	noClassLabels := multiClassResult(2, nil)
	noClassLabels.OutputConfig.Classifier = MultiClassClassifier{TopKOutputs: 2}
	assert.False(t, noClassLabels.IsValid())
}
