package runner

import (
	"context"
	"sync"
)

// HostLimiter ensures that only one collector task per host is running at
// any given time. Other tasks for the same host wait their turn.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]chan struct{}
}

// NewHostLimiter creates a new HostLimiter.
func NewHostLimiter() *HostLimiter {
	return &HostLimiter{
		hosts: make(map[string]chan struct{}),
	}
}

func (hl *HostLimiter) slot(host string) chan struct{} {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	ch, ok := hl.hosts[host]
	if !ok {
		ch = make(chan struct{}, 1)
		hl.hosts[host] = ch
	}
	return ch
}

// Acquire blocks until the host is free or ctx is done.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) error {
	select {
	case hl.slot(host) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the host for the next task.
func (hl *HostLimiter) Release(host string) {
	<-hl.slot(host)
}
