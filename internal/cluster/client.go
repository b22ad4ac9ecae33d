package cluster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is a Group whose collectives are matched by a hub over HTTP. Each
// collective is one long-polling POST /collective that returns once every
// rank has contributed.
type Client struct {
	hub    string
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	member  MemberInfo
	members []MemberInfo
	seq     uint64
}

// NewClient creates a client for hub (base URL such as
// "http://127.0.0.1:8080") acting as member. Call Register and
// AwaitMembers before the first collective.
func NewClient(hub string, member MemberInfo, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasPrefix(hub, "http://") && !strings.HasPrefix(hub, "https://") {
		hub = "http://" + hub
	}
	return &Client{
		hub:    strings.TrimRight(hub, "/"),
		http:   &http.Client{},
		logger: logger,
		member: member,
	}
}

// Register announces the member to the hub and records the assigned rank.
func (c *Client) Register(ctx context.Context) (RegisterResponse, error) {
	c.mu.Lock()
	req := RegisterRequest{Member: c.member}
	c.mu.Unlock()

	var resp RegisterResponse
	if err := doJSON(ctx, c.http, http.MethodPost, c.hub+"/register", req, &resp); err != nil {
		return RegisterResponse{}, fmt.Errorf("register %s: %w", req.Member.ID, err)
	}

	c.mu.Lock()
	c.member.Rank = resp.Rank
	c.mu.Unlock()
	c.logger.Info("registered with hub",
		zap.String("id", req.Member.ID),
		zap.String("role", string(req.Member.Role)),
		zap.Int("rank", resp.Rank),
		zap.Int("writers", resp.Writers),
		zap.Int("readers", resp.Readers))
	return resp, nil
}

// AwaitMembers polls the hub until every expected member has registered and
// returns the membership in rank order.
func (c *Client) AwaitMembers(ctx context.Context, poll time.Duration) ([]MemberInfo, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		var resp MembersResponse
		err := doJSON(ctx, c.http, http.MethodGet, c.hub+"/members", nil, &resp)
		if err == nil && resp.Complete {
			c.mu.Lock()
			c.members = resp.Members
			c.mu.Unlock()
			return append([]MemberInfo(nil), resp.Members...), nil
		}
		if err != nil {
			c.logger.Debug("members poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Members returns the membership seen by the last AwaitMembers call.
func (c *Client) Members() []MemberInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MemberInfo(nil), c.members...)
}

func (c *Client) Rank() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.member.Rank
}

func (c *Client) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Client) Broadcast(ctx context.Context, buf []byte, root int) ([]byte, error) {
	resp, err := c.collective(ctx, OpBroadcast, root, buf)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Client) Aggregate(ctx context.Context, local []byte, root int) ([]byte, []int, error) {
	resp, err := c.collective(ctx, OpAggregate, root, local)
	if err != nil {
		return nil, nil, err
	}
	return resp.Payload, resp.Sizes, nil
}

// collective holds the client lock for the whole round so the sequence
// number advances only after the hub answered.
func (c *Client) collective(ctx context.Context, op Op, root int, payload []byte) (CollectiveResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := CollectiveRequest{
		Seq:     c.seq,
		Op:      op,
		Root:    root,
		Rank:    c.member.Rank,
		Payload: payload,
	}
	var resp CollectiveResponse
	err := doJSON(ctx, c.http, http.MethodPost, c.hub+"/collective", req, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return CollectiveResponse{}, fmt.Errorf("%w: %s round %d: %v", ErrCollectiveFailure, op, req.Seq, se)
		}
		return CollectiveResponse{}, err
	}
	c.seq++
	return resp, nil
}
