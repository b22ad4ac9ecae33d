package integration

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/coordinator"
	"github.com/dreamware/tessera/internal/engine"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/metrics"
	"github.com/dreamware/tessera/internal/pattern"
)

// StreamSystem is a hub plus writer and reader members in one process,
// talking over real HTTP and gRPC connections.
type StreamSystem struct {
	t       *testing.T
	hub     *coordinator.Server
	hubURL  string
	layout  exchange.Layout
	clients []*cluster.Client
	servers []*fetch.Server
	fetcher *fetch.Client
	metrics *metrics.Metrics
}

// NewStreamSystem starts a hub and registers writers+readers members.
func NewStreamSystem(t *testing.T, writers, readers int, monitor *coordinator.HealthMonitor) *StreamSystem {
	t.Helper()
	hub, err := coordinator.NewServer(writers, readers, monitor, zaptest.NewLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	ss := &StreamSystem{
		t:       t,
		hub:     hub,
		hubURL:  srv.URL,
		layout:  exchange.Layout{Writers: writers, Readers: readers},
		metrics: metrics.New(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs := make(map[int]string)
	for w := 0; w < writers; w++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		fs := fetch.NewServer(w, zaptest.NewLogger(t))
		go func() { _ = fs.Serve(lis) }()
		t.Cleanup(func() { _ = fs.Stop() })
		ss.servers = append(ss.servers, fs)
		// Multiaddr form exercises DialTarget's parser.
		host, port, err := net.SplitHostPort(lis.Addr().String())
		require.NoError(t, err)
		addrs[w] = fmt.Sprintf("/ip4/%s/tcp/%s", host, port)
		ss.register(ctx, cluster.MemberInfo{ID: fmt.Sprintf("w%d", w), Role: cluster.RoleWriter, Addr: fmt.Sprintf("w%d:1", w), FetchAddr: addrs[w]})
	}
	for r := 0; r < readers; r++ {
		ss.register(ctx, cluster.MemberInfo{ID: fmt.Sprintf("r%d", r), Role: cluster.RoleReader, Addr: fmt.Sprintf("r%d:1", r)})
	}
	for _, c := range ss.clients {
		members, err := c.AwaitMembers(ctx, 5*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, members, writers+readers)
	}

	ss.fetcher, err = fetch.NewClient(addrs, fetch.DefaultBreakerSettings, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.fetcher.Close() })
	return ss
}

func (ss *StreamSystem) register(ctx context.Context, m cluster.MemberInfo) {
	c := cluster.NewClient(ss.hubURL, m, zaptest.NewLogger(ss.t))
	resp, err := c.Register(ctx)
	require.NoError(ss.t, err)
	require.Equal(ss.t, len(ss.clients), resp.Rank)
	ss.clients = append(ss.clients, c)
}

func (ss *StreamSystem) options(background bool) engine.Options {
	return engine.Options{Background: background, Metrics: ss.metrics, Logger: zaptest.NewLogger(ss.t)}
}

func encode(vals []float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.NativeEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func decode(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.NativeEndian.Uint64(b[8*i:]))
	}
	return out
}

// grid value of element (i, j) of an 8x6 array at step s.
func grid(s uint64, i, j uint64) float64 {
	return float64(s)*1000 + float64(10*i+j)
}

// TestGridStream streams an 8x6 global array from two writers, each owning
// four rows, to two readers: one reads a row-major window spanning both
// writers, the other a column-major window inside writer 1. Definitions
// and selections lock after the first step, so later steps take the fixed
// path.
func TestGridStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	for _, background := range []bool{false, true} {
		t.Run(fmt.Sprintf("background=%v", background), func(t *testing.T) {
			runGrid(t, background)
		})
	}
}

func runGrid(t *testing.T, background bool) {
	const steps = 5
	ss := NewStreamSystem(t, 2, 2, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var g errgroup.Group
	for w := 0; w < 2; w++ {
		wr, err := engine.NewWriter(ss.clients[w], ss.layout, ss.servers[w], ss.options(background))
		require.NoError(t, err)
		row0 := uint64(4 * w)
		require.NoError(t, wr.Define(engine.Definition{
			Name: "grid", Type: pattern.Float64, Kind: pattern.GlobalArray, Order: box.RowMajor,
			Shape: box.Dims{8, 6}, Start: box.Dims{row0, 0}, Count: box.Dims{4, 6},
		}))
		require.NoError(t, wr.Define(engine.Definition{Name: "scale", Type: pattern.Float32, Kind: pattern.GlobalValue}))
		g.Go(func() error {
			for s := 0; s < steps; s++ {
				if _, err := wr.BeginStep(ctx); err != nil {
					return err
				}
				vals := make([]float64, 0, 24)
				for i := row0; i < row0+4; i++ {
					for j := uint64(0); j < 6; j++ {
						vals = append(vals, grid(wr.CurrentStep(), i, j))
					}
				}
				if err := wr.Put("grid", encode(vals)); err != nil {
					return err
				}
				if s == 0 {
					if err := wr.PutValue("scale", pattern.ValueOf(float32(0.5))); err != nil {
						return err
					}
				}
				if err := wr.EndStep(ctx); err != nil {
					return err
				}
				wr.LockDefinitions()
			}
			return wr.Close(ctx)
		})
	}

	type window struct {
		start, count box.Dims
		order        box.MajorOrder
		want         func(s uint64) []float64
	}
	windows := []window{
		{
			start: box.Dims{3, 1}, count: box.Dims{2, 3}, order: box.RowMajor,
			want: func(s uint64) []float64 {
				return []float64{grid(s, 3, 1), grid(s, 3, 2), grid(s, 3, 3), grid(s, 4, 1), grid(s, 4, 2), grid(s, 4, 3)}
			},
		},
		{
			// Column-major (col, row) axes: columns 4..5 of rows 5..6, with
			// the column axis varying fastest.
			start: box.Dims{4, 5}, count: box.Dims{2, 2}, order: box.ColumnMajor,
			want: func(s uint64) []float64 {
				return []float64{grid(s, 5, 4), grid(s, 5, 5), grid(s, 6, 4), grid(s, 6, 5)}
			},
		},
	}
	seen := make([]int, len(windows))
	for i, win := range windows {
		rd, err := engine.NewReader(ss.clients[2+i], ss.layout, ss.fetcher, ss.options(background))
		require.NoError(t, err)
		sel, err := rd.Select("grid", win.start, win.count, win.order)
		require.NoError(t, err)
		g.Go(func() error {
			defer rd.Close()
			for {
				st, err := rd.BeginStep(ctx, engine.StepRead, 5*time.Second)
				if st == engine.StepEndOfStream {
					return nil
				}
				if err != nil {
					return err
				}
				got, err := rd.Get(sel, nil, engine.GetSync)
				if err != nil {
					return err
				}
				if want := win.want(rd.CurrentStep()); !assert.Equal(t, want, decode(got), "reader %d step %d", i, rd.CurrentStep()) {
					return errors.New("mismatch")
				}
				blk, err := rd.GetBlock(0, "scale")
				if err != nil {
					return err
				}
				if f, _ := blk.Value.Float64(); f != 0.5 {
					return fmt.Errorf("scale = %v", f)
				}
				seen[i]++
				if err := rd.EndStep(); err != nil {
					return err
				}
				if err := rd.LockSelections(); err != nil {
					return err
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []int{steps, steps}, seen)
	for w, fs := range ss.servers {
		assert.Zero(t, fs.Exposed(), "writer %d still exposes regions", w)
	}
}

// TestUnhealthyMemberAbortsStream verifies a member lost mid-stream fails
// every other member's next collective.
func TestUnhealthyMemberAbortsStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	monitor := coordinator.NewHealthMonitor(10*time.Millisecond, 1, zaptest.NewLogger(t))
	defer monitor.Stop()
	lost := make(chan struct{})
	monitor.SetCheckFunction(func(ctx context.Context, addr string) error {
		select {
		case <-lost:
			if addr == "r0:1" {
				return errors.New("reader gone")
			}
		default:
		}
		return nil
	})

	ss := NewStreamSystem(t, 1, 1, monitor)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	ss.hub.StartMonitor(ctx)

	wr, err := engine.NewWriter(ss.clients[0], ss.layout, ss.servers[0], ss.options(false))
	require.NoError(t, err)
	require.NoError(t, wr.Define(engine.Definition{
		Name: "v", Type: pattern.Float64, Kind: pattern.GlobalArray,
		Shape: box.Dims{2}, Start: box.Dims{0}, Count: box.Dims{2},
	}))
	// A background reader leaves EndStep before the next exchange.
	rd, err := engine.NewReader(ss.clients[1], ss.layout, ss.fetcher, ss.options(true))
	require.NoError(t, err)
	defer rd.Close()
	sel, err := rd.Select("v", box.Dims{0}, box.Dims{2}, box.RowMajor)
	require.NoError(t, err)

	// One good step.
	var g errgroup.Group
	g.Go(func() error {
		if _, err := wr.BeginStep(ctx); err != nil {
			return err
		}
		if err := wr.Put("v", encode([]float64{1, 2})); err != nil {
			return err
		}
		return wr.EndStep(ctx)
	})
	st, err := rd.BeginStep(ctx, engine.StepRead, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, engine.StepOK, st)
	got, err := rd.Get(sel, nil, engine.GetSync)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, decode(got))
	require.NoError(t, rd.EndStep())
	require.NoError(t, g.Wait())

	// The reader disappears; the writer's next negotiation must fail.
	close(lost)
	require.Eventually(t, func() bool { return ss.hub.Rendezvous().Err() != nil }, 5*time.Second, 10*time.Millisecond)

	_, err = wr.BeginStep(ctx)
	if err == nil {
		require.NoError(t, wr.Put("v", encode([]float64{3, 4})))
		err = wr.EndStep(ctx)
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrStreamAborted) || errors.Is(err, cluster.ErrCollectiveFailure), err.Error())
}
