package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/config"
	"github.com/dreamware/tessera/internal/engine"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/metrics"
)

// Node is one member process of a stream: it owns the hub client, the
// metrics, and the progress counters served at /info.
type Node struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	client  *cluster.Client

	// mu guards the progress fields below.
	mu         sync.RWMutex
	rank       int
	state      engine.State
	steps      int
	mismatches int
}

// Info is the /info response.
type Info struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Rank       int    `json:"rank"`
	State      string `json:"state"`
	Steps      int    `json:"steps"`
	Mismatches int    `json:"mismatches"`
}

// NewNode creates a node for cfg. Nothing is started until Run.
func NewNode(cfg *config.Config, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	member := cluster.MemberInfo{
		ID:        cfg.ID,
		Role:      cluster.Role(cfg.Role),
		Addr:      cfg.Advertise,
		FetchAddr: cfg.FetchAddr,
	}
	return &Node{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		client:  cluster.NewClient(cfg.Hub, member, logger.Named("hub")),
		rank:    -1,
	}
}

// Handler returns the node's HTTP routes.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", n.metrics.Handler())
	mux.HandleFunc("/info", n.handleInfo)
	return mux
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(n.Info())
}

// Info returns the node's progress.
func (n *Node) Info() Info {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Info{
		ID:         n.cfg.ID,
		Role:       n.cfg.Role,
		Rank:       n.rank,
		State:      n.state.String(),
		Steps:      n.steps,
		Mismatches: n.mismatches,
	}
}

// Run serves HTTP on httpLis, joins the stream, and runs the workload to
// completion. Writers serve fetches on fetchLis, which readers leave nil.
// The HTTP server stays up until Run returns.
func (n *Node) Run(ctx context.Context, httpLis, fetchLis net.Listener) (err error) {
	srv := &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		n.logger.Info("http listening", zap.String("addr", httpLis.Addr().String()))
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("http server", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	}()

	resp, err := register(ctx, n.client, n.logger)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.rank = resp.Rank
	n.mu.Unlock()

	members, err := n.client.AwaitMembers(ctx, n.cfg.PollInterval.Std())
	if err != nil {
		return fmt.Errorf("await members: %w", err)
	}
	layout := exchange.Layout{Writers: resp.Writers, Readers: resp.Readers}
	n.logger.Info("stream ready",
		zap.Int("rank", resp.Rank),
		zap.Int("writers", layout.Writers),
		zap.Int("readers", layout.Readers))

	opts := engine.Options{
		Background: n.cfg.Background,
		Logger:     n.logger,
		Metrics:    n.metrics,
	}
	switch n.cfg.Role {
	case config.RoleWriter:
		if fetchLis == nil {
			return errors.New("writer needs a fetch listener")
		}
		fs := fetch.NewServer(resp.Rank, n.logger.Named("fetch"))
		go func() {
			if err := fs.Serve(fetchLis); err != nil {
				n.logger.Warn("fetch server", zap.Error(err))
			}
		}()
		defer func() { err = multierr.Append(err, fs.Stop()) }()
		return n.runWriter(ctx, n.client, layout, fs, opts)
	default:
		fc, ferr := fetch.NewClient(writerAddrs(members), fetch.BreakerSettings{
			MaxFailures: uint32(n.cfg.BreakerFailures),
			OpenTimeout: n.cfg.BreakerOpen.Std(),
		}, n.logger.Named("fetch"))
		if ferr != nil {
			return ferr
		}
		defer func() { err = multierr.Append(err, fc.Close()) }()
		return n.runReader(ctx, n.client, layout, fc, opts)
	}
}

// writerAddrs maps writer rank to fetch address.
func writerAddrs(members []cluster.MemberInfo) map[int]string {
	out := make(map[int]string)
	for _, m := range members {
		if m.Role == cluster.RoleWriter {
			out[m.Rank] = m.FetchAddr
		}
	}
	return out
}

func (n *Node) progress(state engine.State, stepDone bool, mismatches int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = state
	if stepDone {
		n.steps++
	}
	n.mismatches += mismatches
}
