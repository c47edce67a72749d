package engine

import (
	"log/slog"
	"sync"
)

// serialQueue runs tasks one at a time per key, in submission order.
// Each key gets a worker goroutine only while it has pending tasks.
type serialQueue struct {
	logger *slog.Logger
	wg     *sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]func()
}

func newSerialQueue(logger *slog.Logger, wg *sync.WaitGroup) *serialQueue {
	return &serialQueue{
		logger: logger,
		wg:     wg,
		queues: make(map[string][]func()),
	}
}

func (q *serialQueue) push(key string, task func()) {
	q.wg.Add(1)

	q.mu.Lock()
	pending, running := q.queues[key]
	q.queues[key] = append(pending, task)
	q.mu.Unlock()

	if !running {
		go q.drain(key)
	}
}

func (q *serialQueue) drain(key string) {
	for {
		q.mu.Lock()

		pending := q.queues[key]
		if len(pending) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()

			return
		}

		task := pending[0]
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		q.run(key, task)
	}
}

func (q *serialQueue) run(key string, task func()) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued task panicked", "key", key, "panic", r)
		}
	}()

	task()
}

// keyedLocks hands out one mutex per key, dropping it once nobody holds or waits on it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()

	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}

	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
