package crawler

import (
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool with a bounded queue. When the queue is
// full, Submit runs the task on the calling goroutine, so load beyond the
// queue slows submitters instead of growing memory.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2 * runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = 2000
	}
	p := &Pool{tasks: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues the task, running it inline when the queue is full.
func (p *Pool) Submit(task func()) {
	select {
	case p.tasks <- task:
	default:
		task()
	}
}

// Close stops the workers after draining queued tasks.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
