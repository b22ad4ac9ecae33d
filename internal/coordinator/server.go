package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/cluster"
)

// Server is the hub of one stream: it registers members, matches their
// collectives, and watches their health.
type Server struct {
	registry *MemberRegistry
	rv       *cluster.Rendezvous
	monitor  *HealthMonitor
	logger   *zap.Logger
}

// NewServer creates a hub for a stream of writers writers and readers
// readers. monitor may be nil; when set, an unhealthy member fails the
// stream's collectives.
func NewServer(writers, readers int, monitor *HealthMonitor, logger *zap.Logger) (*Server, error) {
	if writers < 1 || readers < 1 {
		return nil, fmt.Errorf("%w: %d writers, %d readers", ErrInvalidMember, writers, readers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: NewMemberRegistry(writers, readers),
		rv:       cluster.NewRendezvous(writers + readers),
		monitor:  monitor,
		logger:   logger,
	}
	if monitor != nil {
		monitor.SetOnUnhealthy(s.memberLost)
	}
	return s, nil
}

// Registry returns the member registry.
func (s *Server) Registry() *MemberRegistry {
	return s.registry
}

// Rendezvous returns the collective rendezvous.
func (s *Server) Rendezvous() *cluster.Rendezvous {
	return s.rv
}

// StartMonitor runs the health monitor over the registered members until
// ctx ends. It is a no-op without a monitor.
func (s *Server) StartMonitor(ctx context.Context) {
	if s.monitor != nil {
		go s.monitor.Start(ctx, s.registry.Members)
	}
}

// Handler returns the hub's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/members", s.handleMembers)
	mux.HandleFunc("/collective", s.handleCollective)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := cluster.ReadJSON(r, &req); err != nil {
		cluster.WriteError(w, r, http.StatusBadRequest, fmt.Errorf("bad json: %w", err))
		return
	}
	m, err := s.registry.Register(req.Member)
	switch {
	case errors.Is(err, ErrGroupFull):
		cluster.WriteError(w, r, http.StatusConflict, err)
		return
	case err != nil:
		cluster.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("member registered",
		zap.String("member", m.ID),
		zap.String("role", string(m.Role)),
		zap.Int("rank", m.Rank),
		zap.String("addr", m.Addr))
	writers, readers := s.registry.Layout()
	cluster.WriteJSON(w, r, http.StatusOK, cluster.RegisterResponse{Rank: m.Rank, Writers: writers, Readers: readers})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cluster.WriteJSON(w, r, http.StatusOK, cluster.MembersResponse{
		Members:  s.registry.Members(),
		Complete: s.registry.Complete(),
	})
}

// handleCollective blocks until every rank has joined the round or the
// round fails. A failed round answers 409 Conflict.
func (s *Server) handleCollective(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.CollectiveRequest
	if err := cluster.ReadJSON(r, &req); err != nil {
		cluster.WriteError(w, r, http.StatusBadRequest, fmt.Errorf("bad json: %w", err))
		return
	}
	start := time.Now()
	res, err := s.rv.Join(r.Context(), req.Seq, req.Rank, req.Op, req.Root, req.Payload)
	if err != nil {
		if r.Context().Err() != nil {
			// The member went away; it retries the same round.
			return
		}
		s.logger.Warn("collective failed",
			zap.Uint64("seq", req.Seq),
			zap.Int("rank", req.Rank),
			zap.String("op", string(req.Op)),
			zap.Error(err))
		cluster.WriteError(w, r, http.StatusConflict, err)
		return
	}
	s.logger.Debug("collective complete",
		zap.Uint64("seq", req.Seq),
		zap.Int("rank", req.Rank),
		zap.String("op", string(req.Op)),
		zap.Duration("waited", time.Since(start)))
	cluster.WriteJSON(w, r, http.StatusOK, cluster.CollectiveResponse{Payload: res.Payload, Sizes: res.Sizes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rv.Err(); err != nil {
		cluster.WriteError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) memberLost(id string) {
	s.logger.Error("failing stream", zap.String("member", id))
	s.rv.Fail(fmt.Errorf("member %s is unhealthy", id))
}
