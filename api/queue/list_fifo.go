package queue

import (
	"container/list"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// RequestQueue defines an interface for a FIFO queue of pending work items.
type RequestQueue interface {
	Enqueue(x interface{}) (bool, error)
	EnqueueHashed(key int, x interface{}) (bool, error)
	Dequeue() (interface{}, error)
	Drain() ([]interface{}, error)
	Clear() error
	Close() error
	Size() int
	GetAll() ([]interface{}, error)
}

type queuedItem struct {
	Key   int
	Value interface{}
}

// ListFIFOQueue is a FIFO queue implementation based on a doubly linked list.
type ListFIFOQueue struct {
	queue  *list.List
	hashes map[int]bool
	size   int
	closed bool
	mutex  *sync.RWMutex
	cond   *sync.Cond
}

// NewListFIFOQueue creates a ListFIFOQueue that is immediately ready to receive enqueue
// requests. The number of items is limited by the `size` parameter; a size of zero or
// less leaves the queue unbounded.
func NewListFIFOQueue(size int) RequestQueue {
	mutex := &sync.RWMutex{}

	return &ListFIFOQueue{
		queue:  list.New(),
		hashes: map[int]bool{},
		size:   size,
		closed: false,
		mutex:  mutex,
		cond:   sync.NewCond(mutex),
	}
}

func (r *ListFIFOQueue) hasRoom() bool {
	return r.size <= 0 || r.queue.Len() < r.size
}

// Enqueue adds a new item to the queue.  If the queue is full, the item will not
// be added, and the function will return `false`.
func (r *ListFIFOQueue) Enqueue(x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no enqueue after close")
	}

	if !r.hasRoom() {
		return false, nil
	}
	r.queue.PushBack(&queuedItem{Value: x})
	r.cond.Signal()
	return true, nil
}

// EnqueueHashed adds a new item to the queue if an item with the same key isn't already
// waiting. If the queue is full, the item will not be added, and the function will return
// `false`. A duplicate is not added, but `true` is still returned.
func (r *ListFIFOQueue) EnqueueHashed(key int, x interface{}) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false, errors.New("no enqueue after close")
	}

	if r.hashes[key] {
		return true, nil
	}
	if !r.hasRoom() {
		return false, nil
	}
	r.queue.PushBack(&queuedItem{Value: x, Key: key})
	r.hashes[key] = true
	r.cond.Signal()
	return true, nil
}

// Dequeue removes an item from the queue.  If the queue is empty, the operation blocks
// until an item arrives or the queue is closed.
func (r *ListFIFOQueue) Dequeue() (interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.queue.Len() == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil, errors.New("no dequeue after close")
	}

	front := r.queue.Front()
	item := front.Value.(*queuedItem)
	r.queue.Remove(front)
	delete(r.hashes, item.Key)

	return item.Value, nil
}

// Drain removes and returns every queued item in FIFO order without blocking.
func (r *ListFIFOQueue) Drain() ([]interface{}, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, errors.New("no drain after close")
	}

	items, err := r.contents()
	if err != nil {
		return nil, err
	}
	r.queue.Init()
	r.hashes = map[int]bool{}
	return items, nil
}

// Size returns the curent size of the queue.
func (r *ListFIFOQueue) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.queue.Len()
}

// Clear clears the queue and request key hash map.
func (r *ListFIFOQueue) Clear() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no queue clear after close")
	}

	r.queue.Init()
	r.hashes = map[int]bool{}

	return nil
}

// Close closes the queue forbidding further operations and releases blocked dequeues.
func (r *ListFIFOQueue) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return errors.New("no close of previously closed queue")
	}

	r.closed = true
	r.cond.Broadcast()
	return nil
}

// GetAll retrieves all the contents in the queue without removing them.
func (r *ListFIFOQueue) GetAll() ([]interface{}, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.contents()
}

func (r *ListFIFOQueue) contents() ([]interface{}, error) {
	items := make([]interface{}, 0, r.queue.Len())
	for current := r.queue.Front(); current != nil; current = current.Next() {
		item, ok := current.Value.(*queuedItem)
		if !ok {
			return nil, errors.Errorf("unexpected type %s", reflect.TypeOf(current.Value))
		}
		items = append(items, item.Value)
	}
	return items, nil
}
