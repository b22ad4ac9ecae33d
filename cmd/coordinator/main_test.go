package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/config"
)

// TestGetenv tests the getenv utility function
func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{"environment variable set", "TESSERA_TEST_VAR", "test_value", "default", "test_value"},
		{"environment variable not set", "TESSERA_UNSET_VAR", "", "default_value", "default_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			assert.Equal(t, tt.expected, getenv(tt.key, tt.def))
		})
	}
}

func hubConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ID = "hub-test"
	cfg.Writers, cfg.Readers = 1, 2
	cfg.HealthInterval = config.Duration(time.Hour)
	require.NoError(t, cfg.Validate())
	return &cfg
}

// TestNewHub tests hub construction from config
func TestNewHub(t *testing.T) {
	cfg := hubConfig(t)
	hub, monitor, err := newHub(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer monitor.Stop()

	w, r := hub.Registry().Layout()
	assert.Equal(t, 1, w)
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, hub.Rendezvous().Size())

	cfg.Writers = 0
	_, _, err = newHub(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

// TestRun serves the hub, registers members over HTTP, and shuts it down.
func TestRun(t *testing.T) {
	cfg := hubConfig(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, lis, zaptest.NewLogger(t)) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	c := cluster.NewClient(base, cluster.MemberInfo{ID: "w", Role: cluster.RoleWriter, Addr: "127.0.0.1:1", FetchAddr: "127.0.0.1:2"}, nil)
	resp, err := c.Register(reqCtx)
	require.NoError(t, err)
	assert.Equal(t, cluster.RegisterResponse{Rank: 0, Writers: 1, Readers: 2}, resp)

	var members cluster.MembersResponse
	require.NoError(t, cluster.GetJSON(reqCtx, base+"/members", &members))
	assert.False(t, members.Complete)
	assert.Len(t, members.Members, 1)

	// A collective blocked on absent members is released by shutdown.
	collective := make(chan error, 1)
	go func() {
		_, err := c.Broadcast(reqCtx, []byte("x"), 0)
		collective <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	select {
	case err := <-collective:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collective was not released")
	}
}
