// Package schedule implements the background generation queue that
// backs the mipmap cache's prefetch and best-effort read modes: a
// bounded pool of workers draining a priority-ordered job queue, mirroring
// the job-channel worker pool internal/tile uses for tile generation but
// long-lived rather than per-batch, since prefetch jobs arrive for the
// lifetime of the cache rather than in one upfront burst.
package schedule

import (
	"sync"

	"github.com/pspoerri/rawcache/internal/mipmap"
)

type job struct {
	tier mipmap.Tier
	id   int32
}

// Scheduler is a bounded worker pool draining a deduplicated job queue.
// It implements mipmap.Scheduler, so a *Scheduler can be passed directly
// as the sched argument to Cache.ReadGet.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	pending map[job]bool
	closed  bool
	wg      sync.WaitGroup

	mc  *mipmap.Cache
	gen mipmap.Generator
}

// New starts a Scheduler with the given number of workers, each pulling
// jobs from the shared queue and materializing them via a Blocking read,
// which both runs the Generator and drops the resulting lease immediately
// (a prefetch's job is only to warm the cache, not to hold a reference).
func New(mc *mipmap.Cache, gen mipmap.Generator, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		pending: make(map[job]bool),
		mc:      mc,
		gen:     gen,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.pending, j)
		s.mu.Unlock()

		rl, ok := s.mc.ReadGet(j.id, j.tier, mipmap.Blocking, s.gen, s)
		if ok {
			s.mc.ReadRelease(j.tier, rl)
		}
	}
}

// Enqueue adds (tier, id) to the back of the queue unless it is already
// pending, implementing mipmap.Scheduler.
func (s *Scheduler) Enqueue(tier mipmap.Tier, id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	j := job{tier: tier, id: id}
	if s.pending[j] {
		return
	}
	s.pending[j] = true
	s.queue = append(s.queue, j)
	s.cond.Signal()
}

// Revive raises an already-queued job's priority to the front of the
// queue, reporting whether it was present. A caller whose revive reports
// false knows the job either already ran or was never queued, and may
// fall back to a fresh Enqueue.
func (s *Scheduler) Revive(tier mipmap.Tier, id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job{tier: tier, id: id}
	if !s.pending[j] {
		return false
	}
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.queue = append([]job{j}, s.queue...)
	return true
}

// Pending reports the number of jobs currently queued.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop signals every worker to exit once the queue drains and waits for
// them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}
