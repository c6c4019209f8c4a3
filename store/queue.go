package store

import (
	"fmt"
	"sync"
)

// Queue runs operations one at a time per key, in the order they were
// submitted. Operations on different keys run concurrently.
//
// Store keys the queue by absolute collection path. A Queue is plain
// in-process state: it does nothing for other processes writing the same
// files.
type Queue struct {
	mu     sync.Mutex
	chains map[string]*chain
}

type chain struct {
	// tail is closed when the most recently submitted op has finished.
	tail    chan struct{}
	pending int
}

func NewQueue() *Queue {
	return &Queue{chains: make(map[string]*chain)}
}

// Submit appends op to the chain for key and returns a channel that
// receives op's result once it has run. op starts after every op submitted
// earlier for key has finished, whether it failed or not.
//
// Abandoning the returned channel does not cancel op.
func (q *Queue) Submit(key string, op func() error) <-chan error {
	result := make(chan error, 1)
	done := make(chan struct{})

	q.mu.Lock()
	c, ok := q.chains[key]
	if !ok {
		c = &chain{}
		q.chains[key] = c
	}
	prev := c.tail
	c.tail = done
	c.pending++
	q.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		err := run(op)
		close(done)

		q.mu.Lock()
		c.pending--
		if c.pending == 0 {
			delete(q.chains, key)
		}
		q.mu.Unlock()

		result <- err
	}()
	return result
}

// Do submits op and waits for its result.
func (q *Queue) Do(key string, op func() error) error {
	return <-q.Submit(key, op)
}

// Len returns the number of keys with unfinished operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chains)
}

// run calls op, turning a panic into an error so the chain keeps moving.
func run(op func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation panicked: %v", r)
		}
	}()
	return op()
}
