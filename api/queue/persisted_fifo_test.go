package queue

import (
	"encoding/gob"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistedEnqueueDequeue(t *testing.T) {
	t.Cleanup(func() {
		err := os.RemoveAll(path.Join("test_data", "q1"))
		assert.NoError(t, err)
	})

	queue, err := NewPersistedFIFOQueue(2, "test_data", "q1")
	require.NoError(t, err)
	defer queue.Close()

	result, err := queue.Enqueue(10)
	assert.NoError(t, err)
	assert.True(t, result)
	result, err = queue.Enqueue(20)
	assert.NoError(t, err)
	assert.True(t, result)
	result, err = queue.Enqueue(30)
	assert.NoError(t, err)
	assert.False(t, result)

	assert.Equal(t, 2, queue.Size())

	dequeueResult, err := queue.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, 10, dequeueResult.(int))

	dequeueResult, err = queue.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, 20, dequeueResult.(int))
	assert.Equal(t, 0, queue.Size())
}

func TestPersistedHashedEnqueueDequeue(t *testing.T) {
	t.Cleanup(func() {
		err := os.RemoveAll(path.Join("test_data", "q2"))
		assert.NoError(t, err)
	})

	queue, err := NewPersistedFIFOQueue(2, "test_data", "q2")
	require.NoError(t, err)
	defer queue.Close()

	// ensure request with identical keys are only added once
	result, err := queue.EnqueueHashed(1, 10)
	assert.True(t, result)
	assert.NoError(t, err)
	result, err = queue.EnqueueHashed(1, 10)
	assert.True(t, result)
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	dequeueResult, err := queue.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, 10, dequeueResult.(int))

	result, err = queue.EnqueueHashed(1, 10)
	assert.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, 1, queue.Size())
}

func TestPersistedDrain(t *testing.T) {
	t.Cleanup(func() {
		err := os.RemoveAll(path.Join("test_data", "q3"))
		assert.NoError(t, err)
	})

	queue, err := NewPersistedFIFOQueue(5, "test_data", "q3")
	require.NoError(t, err)
	defer queue.Close()

	_, _ = queue.Enqueue(10)
	_, _ = queue.EnqueueHashed(4, 20)
	_, _ = queue.Enqueue(30)

	items, err := queue.Drain()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{10, 20, 30}, items)
	assert.Equal(t, 0, queue.Size())
}

func TestPersistedListLoad(t *testing.T) {
	t.Cleanup(func() {
		err := os.RemoveAll(path.Join("test_data", "q4"))
		assert.NoError(t, err)
	})

	queue, err := NewPersistedFIFOQueue(3, "test_data", "q4")
	require.NoError(t, err)
	_, _ = queue.EnqueueHashed(10, 1000)
	_, _ = queue.EnqueueHashed(20, 2000)
	_, _ = queue.EnqueueHashed(30, 3000)
	require.NoError(t, queue.Close())

	queue, err = NewPersistedFIFOQueue(3, "test_data", "q4")
	require.NoError(t, err)
	defer queue.Close()
	assert.Equal(t, 3, queue.Size())

	// keys survive the reload
	result, err := queue.EnqueueHashed(10, 1000)
	assert.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, 3, queue.Size())

	result, err = queue.EnqueueHashed(40, 4000)
	assert.NoError(t, err)
	assert.False(t, result)

	items, err := queue.GetAll()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{1000, 2000, 3000}, items)
}

type testObject struct {
	Value int
}

func TestPersistedInterfaceEnqueue(t *testing.T) {
	gob.Register(testObject{})

	t.Cleanup(func() {
		err := os.RemoveAll(path.Join("test_data", "q5"))
		assert.NoError(t, err)
	})

	queue, err := NewPersistedFIFOQueue(2, "test_data", "q5")
	require.NoError(t, err)
	defer queue.Close()

	result, err := queue.Enqueue(testObject{10})
	assert.NoError(t, err)
	assert.True(t, result)

	dequeueResult, err := queue.Dequeue()
	assert.NoError(t, err)
	assert.Equal(t, testObject{10}, dequeueResult)
}
