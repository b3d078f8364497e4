package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Environment contains the imported environment variables.
type Environment struct {
	// Debug vs Deploy
	Mode string `default:"dev"`
	// Port to listen on
	Addr string `default:":4040"`
	// YAML file listing the registered segmentation clients
	ClientsFile string `default:"clients.yaml" split_words:"true"`
	// Backend for persisted client results, "memory" or "redis"
	ResultStore string `default:"memory" split_words:"true"`
	// Redis server address including port
	RedisAddr string `default:"localhost:6379" split_words:"true"`
	// Redis logical database
	RedisDB int `default:"0" split_words:"true"`
	// Prefix applied to every persisted result key
	RedisKeyPrefix string `default:"segmentation:result:" split_words:"true"`
	// Model server address including port
	ModelServerAddr string `default:"http://localhost:8501" split_words:"true"`
	// Model server request timeout
	ModelServerTimeoutSec int `default:"5" split_words:"true"`
	// Interval between model readiness checks
	ModelProbeIntervalMs int `default:"100" split_words:"true"`
	// Training data sink address including port, empty disables uploads
	TrainingSinkAddr string `default:"" split_words:"true"`
	// Training data sink request timeout
	TrainingSinkTimeoutSec int `default:"10" split_words:"true"`
	// Maximum number of decision events waiting for upload
	TrainingQueueSize int `default:"1000" split_words:"true"`
	// Use persisted queue or default (memory only) queue for decision events.
	TrainingPersistedQueue bool `default:"true" split_words:"true"`
	// Directory to store the decision event queue in when persisted queue is used.
	TrainingQueueDir string `default:"./" split_words:"true"`
	// Name of decision event queue when persisted queue is used.
	TrainingQueueName string `default:"training_queue" split_words:"true"`
	// Training upload polling interval
	TrainingPollIntervalSec int `default:"5" split_words:"true"`
	// Maximum number of requests waiting on a single client's model
	PendingQueueSize int `default:"100" split_words:"true"`
	// Overwrite persisted results on every refresh regardless of their TTL
	ForceRefreshResults bool `default:"false" split_words:"true"`
	// How long an HTTP caller waits for a result
	RequestTimeoutSec int `default:"10" split_words:"true"`
}

func (e Environment) String() string {
	settings, err := json.MarshalIndent(e, "", "    ")
	if err != nil {
		return fmt.Errorf("Failed to marshal env: %v", err).Error()
	}
	return fmt.Sprintf("Environment Settings:\n%s\n", string(settings))
}

// Load imports the environment variables and returns them in an Specification.
func Load(envFile string) (*Environment, error) {
	testEnv := os.Getenv("WM_MODE")
	// if no env var in existing environment, load environment file from the .env file,
	// otherwise (in production) just check existing host environment
	if "" == testEnv {
		err := godotenv.Load(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Error loading %s file", envFile)
		}
	}

	var env Environment
	err := envconfig.Process("wm", &env)
	if err != nil {
		return nil, errors.Wrap(err, "Error processing environment config")
	}
	return &env, err
}

// ModelServerTimeout returns the model server timeout as a duration.
func (e Environment) ModelServerTimeout() time.Duration {
	return time.Duration(e.ModelServerTimeoutSec) * time.Second
}

// TrainingSinkTimeout returns the training sink timeout as a duration.
func (e Environment) TrainingSinkTimeout() time.Duration {
	return time.Duration(e.TrainingSinkTimeoutSec) * time.Second
}

// RequestTimeout returns how long HTTP callers wait for a result.
func (e Environment) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSec) * time.Second
}
