package queue

import (
	"os"
	"path"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/uncharted-causemos/dque"
)

const queueSegmentSize = 50

// PersistedFIFOQueue is a FIFO queue whose items survive restarts. Items are gob encoded,
// so any concrete type stored through the interface{} values must be registered with
// gob.Register before use.
type PersistedFIFOQueue struct {
	queue  *dque.DQue
	size   int
	hashes map[int]bool
	mutex  *sync.RWMutex
}

func queuedItemBuilder() interface{} {
	return &queuedItem{}
}

// KeyMapBuilder stores the queue idempotency keys that are deserialized from the persisted
// dque on startup.
type KeyMapBuilder struct {
	KeyMap map[int]bool
}

// Apply is called on each item of the persisted queue when it is loaded from disk, storing the
// returned item idempotency keys in an in-memory set.
func (k *KeyMapBuilder) Apply(entry interface{}) error {
	request, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	if request.Key != 0 {
		k.KeyMap[request.Key] = true
	}
	return nil
}

// NewPersistedFIFOQueue opens the queue stored at queueDir/queueName, creating it when
// missing. The number of items is limited by the `size` parameter.
func NewPersistedFIFOQueue(size int, queueDir string, queueName string) (RequestQueue, error) {
	queuePath := path.Join(queueDir, queueName)

	var queue *dque.DQue
	if _, err := os.Stat(queuePath); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to stat queue %s", queuePath)
		}
		if err = os.MkdirAll(queueDir, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "failed to create queue dir %s", queueDir)
		}
		queue, err = dque.New(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to initialize queue %s", queuePath)
		}
	} else {
		queue, err = dque.Open(queueName, queueDir, queueSegmentSize, queuedItemBuilder)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load queue %s", queuePath)
		}
	}

	mapBuilder := KeyMapBuilder{KeyMap: map[int]bool{}}
	if err := queue.ApplyToQueue(&mapBuilder); err != nil {
		return nil, errors.Wrapf(err, "failed rebuild key set for %s", queuePath)
	}

	return &PersistedFIFOQueue{
		queue:  queue,
		size:   size,
		hashes: mapBuilder.KeyMap,
		mutex:  &sync.RWMutex{},
	}, nil
}

// Enqueue adds a new item to the queue.  If the queue is full, the item will not
// be added, and the function will return `false`.
func (r *PersistedFIFOQueue) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.queue.Size() >= r.size {
		return false, nil
	}
	if err := r.queue.Enqueue(&queuedItem{Value: x}); err != nil {
		return false, errors.Wrap(err, "failed to enqueue")
	}
	return true, nil
}

// EnqueueHashed adds a new item to the queue if an item with the same key isn't already
// waiting. If the queue is full, the item will not be added, and the function will return
// `false`. A duplicate is not added, but `true` is still returned.
func (r *PersistedFIFOQueue) EnqueueHashed(key int, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.hashes[key] {
		return true, nil
	}
	if r.queue.Size() >= r.size {
		return false, nil
	}
	if err := r.queue.Enqueue(&queuedItem{Value: x, Key: key}); err != nil {
		return false, errors.Wrap(err, "failed to enqueue with hash key")
	}
	r.hashes[key] = true
	return true, nil
}

// Dequeue removes an item from the queue.  If the queue is empty, the operation blocks.
func (r *PersistedFIFOQueue) Dequeue() (interface{}, error) {
	result, err := r.queue.DequeueBlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	item := result.(*queuedItem)
	delete(r.hashes, item.Key)
	return item.Value, nil
}

// Drain removes and returns every queued item in FIFO order without blocking.
func (r *PersistedFIFOQueue) Drain() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := r.queue.Size()
	items := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		result, err := r.queue.Dequeue()
		if err != nil {
			return items, errors.Wrap(err, "failed to drain queue")
		}
		item := result.(*queuedItem)
		delete(r.hashes, item.Key)
		items = append(items, item.Value)
	}
	return items, nil
}

// Size returns the curent size of the queue.
func (r *PersistedFIFOQueue) Size() int {
	return r.queue.Size()
}

// Clear clears the queue
func (r *PersistedFIFOQueue) Clear() error {
	_, err := r.Drain()
	return errors.Wrap(err, "failed to clear queue")
}

// Close closes the queue, flushes state to disk, and disallows any further operations.
func (r *PersistedFIFOQueue) Close() error {
	return errors.Wrap(r.queue.Close(), "failed to close queue")
}

// Contents is used to extract items in the persisted queue
type Contents struct {
	Items []interface{}
}

// Apply is called on each element of the queue each time the contents of the queue
// must be read
func (q *Contents) Apply(entry interface{}) error {
	request, ok := entry.(*queuedItem)
	if !ok {
		return errors.Errorf("unexpected type %s", reflect.TypeOf(entry))
	}
	q.Items = append(q.Items, request.Value)
	return nil
}

// GetAll retrieves all of the contents in the queue
func (r *PersistedFIFOQueue) GetAll() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	queueContents := Contents{Items: make([]interface{}, 0, r.queue.Size())}
	if err := r.queue.ApplyToQueue(&queueContents); err != nil {
		return nil, err
	}
	return queueContents.Items, nil
}
