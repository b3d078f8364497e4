package config

import (
	"os"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gopkg.in/yaml.v3"
)

// ClientConfig describes one registered consumer of segmentation results.
type ClientConfig struct {
	SegmentationKey   string                    `yaml:"segmentation_key"`
	OnDemandExecution bool                      `yaml:"on_demand_execution"`
	SegmentID         segmentation.SegmentID    `yaml:"segment_id"`
	OutputConfig      segmentation.OutputConfig `yaml:"output_config"`
	// Scores served when the model can't be executed. Empty disables the fallback.
	DefaultScores []float32 `yaml:"default_scores,omitempty"`
}

type clientsFile struct {
	Clients []ClientConfig `yaml:"clients"`
}

// LoadClients reads and validates the client configs stored in a YAML file.
func LoadClients(path string) ([]ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read clients file %s", path)
	}
	return ParseClients(data)
}

// ParseClients decodes and validates a YAML client list.
func ParseClients(data []byte) ([]ClientConfig, error) {
	var file clientsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode clients")
	}
	if err := ValidateClients(file.Clients); err != nil {
		return nil, err
	}
	return file.Clients, nil
}

// ValidateClients checks that keys and segments are unique and every output config is
// usable.
func ValidateClients(clients []ClientConfig) error {
	keys := map[string]bool{}
	segments := map[segmentation.SegmentID]bool{}
	for i, client := range clients {
		if client.SegmentationKey == "" {
			return errors.Errorf("client %d has no segmentation_key", i)
		}
		if keys[client.SegmentationKey] {
			return errors.Errorf("duplicate segmentation_key %s", client.SegmentationKey)
		}
		keys[client.SegmentationKey] = true

		if client.SegmentID == "" {
			return errors.Errorf("client %s has no segment_id", client.SegmentationKey)
		}
		if segments[client.SegmentID] {
			return errors.Errorf("segment %s is claimed by more than one client", client.SegmentID)
		}
		segments[client.SegmentID] = true

		if err := client.OutputConfig.Validate(); err != nil {
			return errors.Wrapf(err, "client %s", client.SegmentationKey)
		}
	}
	return nil
}
