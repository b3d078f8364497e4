package segmentation

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidOutputConfig is returned when scores can't be interpreted by their output config.
var ErrInvalidOutputConfig = errors.New("invalid output config")

// ClassifierKind names one of the supported classifier variants.
type ClassifierKind string

const (
	// KindBinary compares a single score against a threshold.
	KindBinary ClassifierKind = "binary_classifier"
	// KindMultiClass ranks one score per class label.
	KindMultiClass ClassifierKind = "multi_class_classifier"
	// KindBinned maps a single score onto ordered ranges.
	KindBinned ClassifierKind = "binned_classifier"
)

// Classifier is implemented by BinaryClassifier, MultiClassClassifier and BinnedClassifier.
type Classifier interface {
	Kind() ClassifierKind
	validate() error
}

// BinaryClassifier labels a single score as positive when it reaches the threshold.
type BinaryClassifier struct {
	Threshold     float32 `json:"threshold" yaml:"threshold"`
	PositiveLabel string  `json:"positive_label" yaml:"positive_label"`
	NegativeLabel string  `json:"negative_label" yaml:"negative_label"`
}

// Kind implements Classifier.
func (BinaryClassifier) Kind() ClassifierKind { return KindBinary }

func (c BinaryClassifier) validate() error {
	if c.PositiveLabel == "" || c.NegativeLabel == "" {
		return errors.Wrap(ErrInvalidOutputConfig, "binary classifier requires positive and negative labels")
	}
	return nil
}

// MultiClassClassifier emits up to TopKOutputs labels ordered by descending score. When
// Threshold is set, labels scoring strictly below it are cut off.
type MultiClassClassifier struct {
	ClassLabels []string `json:"class_labels" yaml:"class_labels"`
	TopKOutputs int      `json:"top_k_outputs" yaml:"top_k_outputs"`
	Threshold   *float32 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Kind implements Classifier.
func (MultiClassClassifier) Kind() ClassifierKind { return KindMultiClass }

func (c MultiClassClassifier) validate() error {
	if len(c.ClassLabels) == 0 {
		return errors.Wrap(ErrInvalidOutputConfig, "multi-class classifier requires class labels")
	}
	if c.TopKOutputs <= 0 {
		return errors.Wrapf(ErrInvalidOutputConfig, "multi-class classifier top_k_outputs must be positive, got %d", c.TopKOutputs)
	}
	return nil
}

// Bin is a labelled range starting at MinRange.
type Bin struct {
	MinRange float32 `json:"min_range" yaml:"min_range"`
	Label    string  `json:"label" yaml:"label"`
}

// BinnedClassifier picks the last bin whose MinRange is at or below the score. Bins are
// expected in ascending MinRange order.
type BinnedClassifier struct {
	Bins           []Bin  `json:"bins" yaml:"bins"`
	UnderflowLabel string `json:"underflow_label" yaml:"underflow_label"`
}

// Kind implements Classifier.
func (BinnedClassifier) Kind() ClassifierKind { return KindBinned }

func (c BinnedClassifier) validate() error {
	if len(c.Bins) == 0 {
		return errors.Wrap(ErrInvalidOutputConfig, "binned classifier requires bins")
	}
	return nil
}

// TimeUnit scales TTL values.
type TimeUnit string

const (
	// UnitSecond scales by one second.
	UnitSecond TimeUnit = "second"
	// UnitMinute scales by one minute.
	UnitMinute TimeUnit = "minute"
	// UnitHour scales by one hour.
	UnitHour TimeUnit = "hour"
	// UnitDay scales by one day.
	UnitDay TimeUnit = "day"
	// UnitWeek scales by seven days.
	UnitWeek TimeUnit = "week"
)

// Duration returns the length of one unit, or zero for an unknown unit.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// PredictedResultTTL describes how long a result stays fresh. The top label's entry in
// TopLabelToTTL wins over DefaultTTL.
type PredictedResultTTL struct {
	TopLabelToTTL map[string]int64 `json:"top_label_to_ttl,omitempty" yaml:"top_label_to_ttl,omitempty"`
	DefaultTTL    int64            `json:"default_ttl" yaml:"default_ttl"`
	TimeUnit      TimeUnit         `json:"time_unit" yaml:"time_unit"`
}

// OutputConfig describes how to interpret the scores of a model.
type OutputConfig struct {
	Classifier Classifier
	TTL        *PredictedResultTTL
}

// Validate checks that exactly one well formed classifier is configured.
func (c *OutputConfig) Validate() error {
	if c == nil || c.Classifier == nil {
		return errors.Wrap(ErrInvalidOutputConfig, "no classifier configured")
	}
	return c.Classifier.validate()
}

// outputConfigDoc is the encoded form of an OutputConfig: one field per classifier kind,
// at most one of which may be set.
type outputConfigDoc struct {
	Binary     *BinaryClassifier     `json:"binary_classifier,omitempty" yaml:"binary_classifier,omitempty"`
	MultiClass *MultiClassClassifier `json:"multi_class_classifier,omitempty" yaml:"multi_class_classifier,omitempty"`
	Binned     *BinnedClassifier     `json:"binned_classifier,omitempty" yaml:"binned_classifier,omitempty"`
	TTL        *PredictedResultTTL   `json:"predicted_result_ttl,omitempty" yaml:"predicted_result_ttl,omitempty"`
}

func (c OutputConfig) toDoc() outputConfigDoc {
	doc := outputConfigDoc{TTL: c.TTL}
	switch classifier := c.Classifier.(type) {
	case BinaryClassifier:
		doc.Binary = &classifier
	case MultiClassClassifier:
		doc.MultiClass = &classifier
	case BinnedClassifier:
		doc.Binned = &classifier
	}
	return doc
}

func (c *OutputConfig) fromDoc(doc outputConfigDoc) error {
	set := 0
	c.Classifier = nil
	if doc.Binary != nil {
		c.Classifier = *doc.Binary
		set++
	}
	if doc.MultiClass != nil {
		c.Classifier = *doc.MultiClass
		set++
	}
	if doc.Binned != nil {
		c.Classifier = *doc.Binned
		set++
	}
	if set > 1 {
		return errors.Wrap(ErrInvalidOutputConfig, "more than one classifier configured")
	}
	c.TTL = doc.TTL
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c OutputConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toDoc())
}

// UnmarshalJSON implements json.Unmarshaler. A config with no classifier decodes
// successfully and is rejected later by validity checks.
func (c *OutputConfig) UnmarshalJSON(data []byte) error {
	var doc outputConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "failed to unmarshal output config")
	}
	return c.fromDoc(doc)
}

// MarshalYAML implements yaml.Marshaler.
func (c OutputConfig) MarshalYAML() (interface{}, error) {
	return c.toDoc(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *OutputConfig) UnmarshalYAML(value *yaml.Node) error {
	var doc outputConfigDoc
	if err := value.Decode(&doc); err != nil {
		return errors.Wrap(err, "failed to decode output config")
	}
	return c.fromDoc(doc)
}
