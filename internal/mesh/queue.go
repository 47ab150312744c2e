package mesh

import "sync"

// serialQueue runs tasks one at a time in push order. A worker goroutine exists only while tasks are pending.
type serialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
	closed  bool
}

func (q *serialQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	if q.running {
		q.mu.Unlock()
		return true
	}
	q.running = true
	q.mu.Unlock()
	go q.run()
	return true
}

func (q *serialQueue) run() {
	for {
		q.mu.Lock()
		if q.closed || len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
	}
}

// close drops pending tasks. A task already running finishes.
func (q *serialQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()
}
