package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/stats"
)

// ResponseCache stores complete origin responses by cache key.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// HostMatcher decides whether a host is blocked and names the entry that
// matched.
type HostMatcher interface {
	Match(host string) (string, bool)
}

// Dependencies is everything a Server shares between its connections. It is
// built once at startup and handed to NewServer.
type Dependencies struct {
	Config    *config.Config
	Cache     ResponseCache
	Blacklist HostMatcher
	Collector stats.Collector
}

// Server accepts client connections and serves one request per connection.
type Server struct {
	cfg       *config.Config
	cache     ResponseCache
	blacklist HostMatcher
	collector stats.Collector
	timeout   time.Duration
	buffers   *bufferPool
	dial      dialFunc

	mu         sync.Mutex
	listener   net.Listener
	acceptDone chan struct{}
	handedOff  bool
	running    atomic.Bool
	stopped    atomic.Bool
	handlers   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server from deps. A nil collector records nothing.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, newCodedError(ErrCodeInvalidServerConfig, errors.New("missing config"))
	}
	if deps.Cache == nil || deps.Blacklist == nil {
		return nil, newCodedError(ErrCodeInvalidServerConfig, errors.New("missing cache or blacklist"))
	}
	if deps.Config.BufferSize < 2 {
		return nil, newCodedError(ErrCodeInvalidServerConfig, fmt.Errorf("buffer size %d", deps.Config.BufferSize))
	}
	collector := deps.Collector
	if collector == nil {
		collector = stats.NewDummyCollector()
	}

	dial, err := newDialer(deps.Config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       deps.Config,
		cache:     deps.Cache,
		blacklist: deps.Blacklist,
		collector: collector,
		timeout:   deps.Config.Timeout(),
		buffers:   newBufferPool(deps.Config.BufferSize),
		dial:      dial,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start binds the configured IPv4 address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := listenTCP4(s.cfg.Addr())
	if err != nil {
		return newCodedError(ErrCodeListenerCreateFailed, fmt.Errorf("%s: %w", s.cfg.Addr(), err))
	}
	return s.StartWithListener(listener)
}

// StartWithListener serves connections accepted from listener until Stop is
// called. Each connection gets its own goroutine.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	acceptDone := make(chan struct{})
	s.acceptDone = acceptDone
	s.running.Store(true)
	// The accept loop counts as a handler so Stop also waits for it to exit.
	s.handlers.Add(1)
	s.mu.Unlock()
	defer s.handlers.Done()
	defer close(acceptDone)

	logger.Info("Starting proxy server on %s", listener.Addr().String())

	var backoff time.Duration
	for s.running.Load() {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() || isClosedConnError(err) {
				break
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			logger.Error("Accept failed: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.spawn(conn)
	}
	s.running.Store(false)
	return nil
}

// spawn runs a handler for conn. Every handler is tracked so Stop can wait
// for in-flight requests.
func (s *Server) spawn(conn net.Conn) {
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		s.handleConnection(s.ctx, conn)
	}()
}

// Stop closes the listener and waits until every in-flight connection has
// finished or ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped.Store(true)
	s.running.Store(false)
	listener := s.listener
	handedOff := s.handedOff
	s.mu.Unlock()

	var closeErr error
	if listener != nil && !handedOff {
		if err := listener.Close(); err != nil && !isClosedConnError(err) {
			closeErr = err
		}
	}

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()

	defer s.cancel()
	select {
	case <-drained:
		return closeErr
	case <-ctx.Done():
		return errors.Join(closeErr, fmt.Errorf("connections still open: %w", ctx.Err()))
	}
}

// Handoff stops accepting and returns the still open listener, so a
// replacement server can keep serving the same address without refusing
// connections. Connections accepted before the handoff keep running; Stop
// waits for them and leaves the listener open.
func (s *Server) Handoff() (net.Listener, error) {
	s.mu.Lock()
	listener, acceptDone := s.listener, s.acceptDone
	if listener == nil || s.handedOff || s.stopped.Load() {
		s.mu.Unlock()
		return nil, errors.New("server is not accepting connections")
	}
	dl, ok := listener.(interface{ SetDeadline(time.Time) error })
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("listener %T does not support deadlines", listener)
	}
	s.handedOff = true
	s.running.Store(false)
	s.mu.Unlock()

	// An expired deadline wakes the blocked Accept without closing the socket.
	if err := dl.SetDeadline(time.Now()); err != nil {
		_ = listener.Close()
		<-acceptDone
		return nil, err
	}
	<-acceptDone
	if err := dl.SetDeadline(time.Time{}); err != nil {
		_ = listener.Close()
		return nil, err
	}
	return listener, nil
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the listening address, or nil before the server started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
