package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Supervisor owns the full set of UpstreamSessions and their lifecycle,
// per spec.md §4.1. Parallel fan-out for start_all/stop_all is a direct
// reuse of the upstream proxy's own errgroup-based per-server startup,
// retargeted from "mount an HTTP handler per server" to "start an
// upstream session per server."
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*UpstreamSession
}

func newSupervisor(configs map[string]UpstreamServerConfig) *Supervisor {
	sessions := make(map[string]*UpstreamSession, len(configs))
	for name, cfg := range configs {
		cfg.Name = name
		sessions[name] = newUpstreamSession(cfg)
	}
	return &Supervisor{sessions: sessions}
}

// startAll launches every configured session concurrently. A session
// that fails to start never aborts the others; it simply lands in
// StateFailed.
func (s *Supervisor) startAll(ctx context.Context) (started, total int) {
	sessions := s.all()
	total = len(sessions)

	var mu sync.Mutex
	var eg errgroup.Group
	for _, sess := range sessions {
		sess := sess
		eg.Go(func() error {
			if sess.start(ctx) {
				mu.Lock()
				started++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return started, total
}

func (s *Supervisor) stopAll(ctx context.Context, grace time.Duration) {
	sessions := s.all()
	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var eg errgroup.Group
	for _, sess := range sessions {
		sess := sess
		eg.Go(func() error {
			sess.stop(stopCtx)
			return nil
		})
	}
	_ = eg.Wait()
}

func (s *Supervisor) all() []*UpstreamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UpstreamSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Supervisor) get(name string) *UpstreamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[name]
}

func (s *Supervisor) running() []*UpstreamSession {
	out := make([]*UpstreamSession, 0)
	for _, sess := range s.all() {
		if sess.State() == StateRunning {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Supervisor) serverNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// refreshAllTools re-discovers tools on every running session. Per-
// session failures are logged here and never abort the batch, matching
// start_all's fault-isolation contract.
func (s *Supervisor) refreshAllTools(ctx context.Context) {
	for _, sess := range s.running() {
		if err := sess.refreshTools(ctx); err != nil {
			sess.logf("tool refresh failed: %v", err)
		}
	}
}
