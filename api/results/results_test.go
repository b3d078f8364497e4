package results

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/segmentation"
	"gitlab.uncharted.software/WM/wm-segmentation-queue/config"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Logger:      zap.NewNop().Sugar(),
		Environment: &config.Environment{},
	}
}

func binaryConfig(ttl *segmentation.PredictedResultTTL) *segmentation.OutputConfig {
	return &segmentation.OutputConfig{
		Classifier: segmentation.BinaryClassifier{Threshold: 0.5, PositiveLabel: "Show", NegativeLabel: "DontShow"},
		TTL:        ttl,
	}
}

func client(key string, onDemand bool) config.ClientConfig {
	return config.ClientConfig{
		SegmentationKey:   key,
		OnDemandExecution: onDemand,
		SegmentID:         segmentation.SegmentID(key + "_segment"),
		OutputConfig:      *binaryConfig(nil),
	}
}

// countingStore wraps a MemoryStore, counting writes and failing reads for chosen keys.
type countingStore struct {
	*MemoryStore
	mutex      sync.Mutex
	writes     int
	failedKeys map[string]bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore(), failedKeys: map[string]bool{}}
}

func (c *countingStore) ReadResult(ctx context.Context, key string) (*ClientResult, error) {
	if c.failedKeys[key] {
		return nil, errors.New("read failed")
	}
	return c.MemoryStore.ReadResult(ctx, key)
}

func (c *countingStore) WriteResult(ctx context.Context, key string, result ClientResult) error {
	c.mutex.Lock()
	c.writes++
	c.mutex.Unlock()
	return c.MemoryStore.WriteResult(ctx, key, result)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	result, err := store.ReadResult(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, result)

	written := ClientResult{Result: segmentation.PredictionResult{Scores: []float32{0.3}}, Timestamp: time.Unix(100, 0)}
	require.NoError(t, store.WriteResult(ctx, "key", written))

	result, err = store.ReadResult(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, &written, result)
	assert.NoError(t, store.Close())
}

func TestCachedResultProviderKeepsOnlyValidResults(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	_ = store.WriteResult(ctx, "valid", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8}, OutputConfig: binaryConfig(nil),
	}})
	_ = store.WriteResult(ctx, "no_scores", ClientResult{Result: segmentation.PredictionResult{
		OutputConfig: binaryConfig(nil),
	}})
	_ = store.WriteResult(ctx, "no_config", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8},
	}})
	_ = store.WriteResult(ctx, "empty_config", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8}, OutputConfig: &segmentation.OutputConfig{},
	}})
	_ = store.WriteResult(ctx, "malformed_config", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8},
		OutputConfig: &segmentation.OutputConfig{
			Classifier: segmentation.MultiClassClassifier{TopKOutputs: 0},
		},
	}})
	_ = store.WriteResult(ctx, "unreadable", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8}, OutputConfig: binaryConfig(nil),
	}})
	store.failedKeys["unreadable"] = true

	clients := []config.ClientConfig{}
	for _, key := range []string{"valid", "no_scores", "no_config", "empty_config", "malformed_config", "unreadable", "absent"} {
		clients = append(clients, client(key, false))
	}
	provider := NewCachedResultProvider(ctx, testConfig(), store, clients)

	result, ok := provider.GetPredictionResultForClient("valid")
	assert.True(t, ok)
	assert.Equal(t, []float32{0.8}, result.Scores)

	for _, key := range []string{"no_scores", "no_config", "empty_config", "malformed_config", "unreadable", "absent", "unregistered"} {
		_, ok := provider.GetPredictionResultForClient(key)
		assert.False(t, ok, key)
	}
}

func TestCachedResultProviderSnapshotIsNotRefreshed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	provider := NewCachedResultProvider(ctx, testConfig(), store, []config.ClientConfig{client("late", false)})

	_ = store.WriteResult(ctx, "late", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.8}, OutputConfig: binaryConfig(nil),
	}})

	_, ok := provider.GetPredictionResultForClient("late")
	assert.False(t, ok)
}

func TestGetCachedResultForClient(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.WriteResult(ctx, "valid", ClientResult{Result: segmentation.PredictionResult{
		Scores: []float32{0.2}, OutputConfig: binaryConfig(nil),
	}})
	provider := NewCachedResultProvider(ctx, testConfig(), store, []config.ClientConfig{client("valid", false), client("absent", false)})

	result := provider.GetCachedResultForClient("valid")
	assert.Equal(t, segmentation.StatusSucceeded, result.Status)
	assert.Equal(t, []string{"DontShow"}, result.OrderedLabels)

	result = provider.GetCachedResultForClient("absent")
	assert.Equal(t, segmentation.StatusFailed, result.Status)
	assert.Empty(t, result.OrderedLabels)
}

func TestUpdatePrefsIfExpiredWritesOnceWhileFresh(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	writer := NewCachedResultWriter(testConfig(), store)

	result := segmentation.PredictionResult{
		Scores:       []float32{0.9},
		OutputConfig: binaryConfig(&segmentation.PredictedResultTTL{DefaultTTL: 1, TimeUnit: segmentation.UnitDay}),
	}

	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), result, segmentation.PlatformOptions{})
	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), result, segmentation.PlatformOptions{})
	assert.Equal(t, 1, store.writes)

	forced := segmentation.PlatformOptions{ForceRefreshResults: true}
	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), result, forced)
	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), result, forced)
	assert.Equal(t, 3, store.writes)
}

func TestUpdatePrefsIfExpiredRespectsTTL(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	writer := NewCachedResultWriter(testConfig(), store)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writer.now = func() time.Time { return now }

	result := segmentation.PredictionResult{
		Scores: []float32{0.9},
		OutputConfig: binaryConfig(&segmentation.PredictedResultTTL{
			TopLabelToTTL: map[string]int64{"Show": 2},
			DefaultTTL:    10,
			TimeUnit:      segmentation.UnitHour,
		}),
	}
	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), result, segmentation.PlatformOptions{})
	require.Equal(t, 1, store.writes)

	// the "Show" label expires after two hours
	now = now.Add(2*time.Hour - time.Second)
	assert.False(t, writer.IsPrefUpdateRequiredForClient(ctx, "toolbar", segmentation.PlatformOptions{}))
	now = now.Add(time.Second)
	assert.True(t, writer.IsPrefUpdateRequiredForClient(ctx, "toolbar", segmentation.PlatformOptions{}))

	updated := result
	updated.Scores = []float32{0.1}
	writer.UpdatePrefsIfExpired(ctx, client("toolbar", false), updated, segmentation.PlatformOptions{})
	assert.Equal(t, 2, store.writes)

	stored, err := store.ReadResult(ctx, "toolbar")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1}, stored.Result.Scores)
	assert.Equal(t, now, stored.Timestamp)
}

func TestUpdatePrefsIfExpiredSkipsOnDemandClients(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	writer := NewCachedResultWriter(testConfig(), store)

	writer.UpdatePrefsIfExpired(ctx, client("shopping", true), segmentation.PredictionResult{Scores: []float32{1}},
		segmentation.PlatformOptions{ForceRefreshResults: true})
	assert.Equal(t, 0, store.writes)
}

func TestIsPrefUpdateRequiredWithoutTTL(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	writer := NewCachedResultWriter(testConfig(), store)

	assert.True(t, writer.IsPrefUpdateRequiredForClient(ctx, "missing", segmentation.PlatformOptions{}))

	_ = store.WriteResult(ctx, "no_ttl", ClientResult{
		Result:    segmentation.PredictionResult{Scores: []float32{0.9}, OutputConfig: binaryConfig(nil)},
		Timestamp: time.Now().Add(time.Hour),
	})
	assert.False(t, writer.IsPrefUpdateRequiredForClient(ctx, "no_ttl", segmentation.PlatformOptions{}))

	_ = store.WriteResult(ctx, "no_ttl", ClientResult{
		Result:    segmentation.PredictionResult{Scores: []float32{0.9}, OutputConfig: binaryConfig(nil)},
		Timestamp: time.Now(),
	})
	assert.True(t, writer.IsPrefUpdateRequiredForClient(ctx, "no_ttl", segmentation.PlatformOptions{}))
}
