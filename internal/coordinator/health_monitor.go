package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/cluster"
)

// Health states of a monitored member.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// MemberHealth tracks the health of one stream member.
// Guarded by the HealthMonitor's mutex.
type MemberHealth struct {
	LastCheck        time.Time // last probe attempt
	LastHealthy      time.Time // last successful probe
	MemberID         string
	Status           string // StatusUnknown, StatusHealthy or StatusUnhealthy
	ConsecutiveFails int
}

// HealthMonitor probes every registered member's /health endpoint and
// reports members that stop answering.
//
// A stream cannot outlive a lost member: the hub wires OnUnhealthy to fail
// the collective rendezvous, so every rank blocked in or entering a
// collective gets ErrCollectiveFailure instead of waiting forever.
type HealthMonitor struct {
	members     map[string]*MemberHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(memberID string)
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes members every interval
// and marks them unhealthy after maxFailures consecutive failed probes.
//
// Example:
//
//	monitor := NewHealthMonitor(2*time.Second, 3, logger)
//	monitor.SetOnUnhealthy(func(id string) { rendezvous.Fail(...) })
//	go monitor.Start(ctx, registry.Members)
func NewHealthMonitor(interval time.Duration, maxFailures int, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	timeout := 2 * time.Second
	return &HealthMonitor{
		interval:    interval,
		timeout:     timeout,
		maxFailures: maxFailures,
		members:     make(map[string]*MemberHealth),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// member turns unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(memberID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP probe.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// Start probes the members returned by memberProvider once immediately and
// then every interval, until ctx or the monitor is cancelled.
func (h *HealthMonitor) Start(ctx context.Context, memberProvider func() []cluster.MemberInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))

	h.checkAll(ctx, memberProvider())
	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, memberProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels monitoring and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// checkAll probes every member and forgets members no longer registered.
func (h *HealthMonitor) checkAll(ctx context.Context, members []cluster.MemberInfo) {
	current := make(map[string]bool, len(members))
	for _, m := range members {
		current[m.ID] = true
		h.checkMember(ctx, m)
	}

	h.mu.Lock()
	for id := range h.members {
		if !current[id] {
			delete(h.members, id)
			h.logger.Info("member no longer monitored", zap.String("member", id))
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkMember(ctx context.Context, m cluster.MemberInfo) {
	h.mu.Lock()
	health, ok := h.members[m.ID]
	if !ok {
		now := time.Now()
		health = &MemberHealth{MemberID: m.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.members[m.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(ctx, m.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()

	if err == nil {
		if health.Status == StatusUnhealthy {
			h.logger.Info("member recovered", zap.String("member", m.ID))
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.logger.Warn("health check failed",
		zap.String("member", m.ID),
		zap.Int("attempt", health.ConsecutiveFails),
		zap.Int("max", h.maxFailures),
		zap.Error(err))
	if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
		return
	}
	health.Status = StatusUnhealthy
	h.logger.Error("member unhealthy", zap.String("member", m.ID), zap.Int("failures", health.ConsecutiveFails))
	if h.onUnhealthy != nil {
		go h.onUnhealthy(m.ID)
	}
}

// defaultHealthCheck GETs addr's /health endpoint. addr may be host:port or
// a full URL.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// MemberHealth returns a copy of one member's health, or nil when the
// member is not monitored.
func (h *HealthMonitor) MemberHealth(id string) *MemberHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.members[id]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// AllMemberHealth returns copies of every monitored member's health.
func (h *HealthMonitor) AllMemberHealth() map[string]*MemberHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*MemberHealth, len(h.members))
	for id, health := range h.members {
		c := *health
		out[id] = &c
	}
	return out
}

// IsHealthy reports whether a member's last probes succeeded. Unmonitored
// members are not healthy.
func (h *HealthMonitor) IsHealthy(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.members[id]
	return ok && health.Status == StatusHealthy
}
