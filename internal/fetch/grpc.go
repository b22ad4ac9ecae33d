package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const fetchMethod = "/tessera.fetch.v1.Window/Fetch"

// windowServer is the handler type of the Window service.
type windowServer interface {
	Fetch(ctx context.Context, req *fetchRequest) (*fetchResponse, error)
}

var windowServiceDesc = grpc.ServiceDesc{
	ServiceName: "tessera.fetch.v1.Window",
	HandlerType: (*windowServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: fetchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tessera/fetch/v1/window.proto",
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fetchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(windowServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(windowServer).Fetch(ctx, req.(*fetchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server serves one writer's Table over gRPC.
type Server struct {
	*Table
	writer int
	grpc   *grpc.Server
	logger *zap.Logger
}

// NewServer creates a gRPC fetch server for writer index writer. The
// embedded Table is the writer's Exposer.
func NewServer(writer int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Table:  NewTable(logger),
		writer: writer,
		grpc:   grpc.NewServer(grpc.ForceServerCodec(codec{})),
		logger: logger,
	}
	s.grpc.RegisterService(&windowServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("fetch server listening", zap.String("addr", lis.Addr().String()), zap.Int("writer", s.writer))
	return s.grpc.Serve(lis)
}

// Stop closes the table, which fails waiting fetches, then stops the
// gRPC server gracefully so replies already read from the table still
// reach their readers.
func (s *Server) Stop() error {
	err := s.Table.Close()
	s.grpc.GracefulStop()
	return err
}

// Fetch implements windowServer.
func (s *Server) Fetch(ctx context.Context, req *fetchRequest) (*fetchResponse, error) {
	if req.Writer != s.writer {
		return nil, status.Errorf(codes.InvalidArgument, "request for writer %d reached writer %d", req.Writer, s.writer)
	}
	data, err := s.Table.Serve(ctx, req.Step, req.Reader, req.Ranges)
	if err != nil {
		return nil, toStatus(err)
	}
	return &fetchResponse{Data: data}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, ErrStaleStep):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.OutOfRange:
		return fmt.Errorf("%s: %w", st.Message(), ErrOutOfRange)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", st.Message(), ErrStaleStep)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	default:
		return err
	}
}

// BreakerSettings tunes the per-writer circuit breakers of a Client.
type BreakerSettings struct {
	// MaxFailures consecutive transport failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long an open breaker rejects fetches.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after 5 consecutive failures and retries
// after 10 seconds.
var DefaultBreakerSettings = BreakerSettings{MaxFailures: 5, OpenTimeout: 10 * time.Second}

// Client fetches from writers' gRPC servers. Each writer has its own
// connection and circuit breaker.
type Client struct {
	logger   *zap.Logger
	settings BreakerSettings

	mu       sync.Mutex
	targets  map[int]string
	conns    map[int]*grpc.ClientConn
	breakers map[int]*gobreaker.CircuitBreaker
	closed   bool
}

// NewClient creates a fetch client. addrs maps writer index to the
// writer's fetch address, given as host:port or as a multiaddr such as
// /ip4/10.0.0.5/tcp/9100.
func NewClient(addrs map[int]string, settings BreakerSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		logger:   logger,
		settings: settings,
		targets:  make(map[int]string, len(addrs)),
		conns:    make(map[int]*grpc.ClientConn),
		breakers: make(map[int]*gobreaker.CircuitBreaker),
	}
	for w, addr := range addrs {
		target, err := DialTarget(addr)
		if err != nil {
			return nil, fmt.Errorf("writer %d: %w", w, err)
		}
		c.targets[w] = target
	}
	return c, nil
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	conn, cb, err := c.writer(req.Writer)
	if err != nil {
		return nil, err
	}
	out, err := cb.Execute(func() (interface{}, error) {
		in := &fetchRequest{Writer: req.Writer, Reader: req.Reader, Step: req.Step, Ranges: req.Ranges}
		resp := new(fetchResponse)
		if err := conn.Invoke(ctx, fetchMethod, in, resp); err != nil {
			return nil, fromStatus(err)
		}
		return resp.Data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("writer %d: %w", req.Writer, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

// Close closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	for w, conn := range c.conns {
		err = multierr.Append(err, conn.Close())
		delete(c.conns, w)
	}
	return err
}

// BreakerState reports the state of writer w's breaker, for diagnostics.
func (c *Client) BreakerState(w int) gobreaker.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[w]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (c *Client) writer(w int) (*grpc.ClientConn, *gobreaker.CircuitBreaker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	target, ok := c.targets[w]
	if !ok {
		return nil, nil, fmt.Errorf("no fetch address for writer %d", w)
	}
	conn, ok := c.conns[w]
	if !ok {
		var err error
		conn, err = grpc.NewClient(target,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.ForceCodec(codec{}),
				grpc.MaxCallRecvMsgSize(math.MaxInt32)))
		if err != nil {
			return nil, nil, fmt.Errorf("dial writer %d at %s: %w", w, target, err)
		}
		c.conns[w] = conn
	}
	cb, ok := c.breakers[w]
	if !ok {
		cb = c.newBreaker(w)
		c.breakers[w] = cb
	}
	return conn, cb, nil
}

func (c *Client) newBreaker(w int) *gobreaker.CircuitBreaker {
	maxFailures := c.settings.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("writer-%d", w),
		Timeout: c.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
		},
		// Only transport failures count against a writer.
		IsSuccessful: func(err error) bool {
			return err == nil || status.Code(err) != codes.Unavailable
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("fetch breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// DialTarget converts a fetch address into a gRPC dial target. Addresses
// starting with "/" are parsed as multiaddrs and must carry an ip4, ip6 or
// dns component followed by tcp.
func DialTarget(addr string) (string, error) {
	if !strings.HasPrefix(addr, "/") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("fetch address %q: %w", addr, err)
		}
		return addr, nil
	}
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("fetch address %q: %w", addr, err)
	}
	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS4, ma.P_DNS6, ma.P_DNS} {
		if v, err := m.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	if host == "" {
		return "", fmt.Errorf("fetch address %q: no host component", addr)
	}
	port, err := m.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("fetch address %q: no tcp port: %w", addr, err)
	}
	return net.JoinHostPort(host, port), nil
}
