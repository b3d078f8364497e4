// Package sequence runs posted tasks one at a time on a dedicated goroutine, giving the
// components that share a Runner a single logical sequence to execute callbacks on.
package sequence

import (
	"sync"
	"time"

	"gitlab.uncharted.software/WM/wm-segmentation-queue/api/queue"
)

type stopTask struct{}

// Runner executes posted tasks in posting order.
type Runner struct {
	tasks   queue.RequestQueue
	done    chan struct{}
	mutex   *sync.Mutex
	stopped bool
	timers  map[*time.Timer]bool
}

// NewRunner creates a Runner and starts its goroutine.
func NewRunner() *Runner {
	r := &Runner{
		tasks:  queue.NewListFIFOQueue(0),
		done:   make(chan struct{}),
		mutex:  &sync.Mutex{},
		timers: map[*time.Timer]bool{},
	}
	go r.run()
	return r
}

func (r *Runner) run() {
	defer close(r.done)
	for {
		item, err := r.tasks.Dequeue()
		if err != nil {
			return
		}
		if _, ok := item.(stopTask); ok {
			return
		}
		item.(func())()
	}
}

// Post schedules a task. It returns false once the runner has been stopped.
func (r *Runner) Post(task func()) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stopped {
		return false
	}
	ok, err := r.tasks.Enqueue(task)
	return ok && err == nil
}

// PostDelayed schedules a task to be posted after the delay. Pending delayed tasks are
// discarded when the runner stops.
func (r *Runner) PostDelayed(delay time.Duration, task func()) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stopped {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mutex.Lock()
		delete(r.timers, timer)
		r.mutex.Unlock()
		r.Post(task)
	})
	r.timers[timer] = true
}

// Stop runs every task posted so far, then stops the runner. Later posts are rejected.
func (r *Runner) Stop() {
	r.mutex.Lock()
	if r.stopped {
		r.mutex.Unlock()
		return
	}
	r.stopped = true
	for timer := range r.timers {
		timer.Stop()
	}
	r.timers = map[*time.Timer]bool{}
	_, _ = r.tasks.Enqueue(stopTask{})
	r.mutex.Unlock()

	<-r.done
	_ = r.tasks.Close()
}
