package bridge

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rzpsarthak13/kvbridge/internal/core"
)

// ErrGatewayFailed is returned by every call once attaching has failed.
var ErrGatewayFailed = errors.New("backend gateway is in a failed state")

// Options configures a Gateway.
type Options struct {
	// Attacher binds sessions to the backend. Defaults to a no-op.
	Attacher Attacher

	// Fatal is invoked once when attaching fails. Defaults to logging.
	Fatal func(error)

	// LogAttach logs every outermost attach and detach.
	LogAttach bool
}

// Gateway owns the backend client and its attach lifecycle.
type Gateway struct {
	client    BackendClient
	attacher  Attacher
	fatal     func(error)
	logAttach bool

	mu     sync.RWMutex
	failed error
}

// NewGateway creates a gateway in front of client.
func NewGateway(client BackendClient, opts Options) *Gateway {
	g := &Gateway{
		client:    client,
		attacher:  opts.Attacher,
		fatal:     opts.Fatal,
		logAttach: opts.LogAttach,
	}
	if g.attacher == nil {
		g.attacher = nopAttacher{}
	}
	if g.fatal == nil {
		g.fatal = func(err error) {
			log.Printf("[BRIDGE] FATAL: %v", err)
		}
	}
	return g
}

// NewSession creates a session. Each table handle owns one.
func (g *Gateway) NewSession() *Session {
	return &Session{gw: g}
}

// Failed returns the error that put the gateway into its failed state.
func (g *Gateway) Failed() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.failed
}

func (g *Gateway) fail(err error) error {
	g.mu.Lock()
	first := g.failed == nil
	if first {
		g.failed = err
	}
	g.mu.Unlock()

	if first {
		log.Printf("[BRIDGE] Attach failed, gateway disabled: %v", err)
		g.fatal(err)
	}
	return failure("attach", fmt.Errorf("%w: %w", ErrGatewayFailed, err))
}

// Session carries the reentrant attach count of one caller.
type Session struct {
	gw    *Gateway
	depth int
}

// Guard is a scoped attachment. Release it with defer.
type Guard struct {
	s        *Session
	released bool
}

// Enter attaches the session if it is not already attached and returns a
// guard. Nested guards share the outermost attachment.
func (s *Session) Enter() (*Guard, error) {
	if err := s.gw.Failed(); err != nil {
		return nil, failure("attach", fmt.Errorf("%w: %w", ErrGatewayFailed, err))
	}
	if s.depth == 0 {
		if err := s.gw.attacher.Attach(); err != nil {
			return nil, s.gw.fail(err)
		}
		if s.gw.logAttach {
			log.Printf("[BRIDGE] Session attached")
		}
	}
	s.depth++
	return &Guard{s: s}, nil
}

// Depth returns the current nesting depth.
func (s *Session) Depth() int {
	return s.depth
}

// Release drops the guard. The outermost release detaches. Releasing twice
// is a no-op.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	s := g.s
	s.depth--
	if s.depth > 0 {
		return
	}
	if err := s.gw.attacher.Detach(); err != nil {
		log.Printf("[BRIDGE] Detach failed: %v", err)
	} else if s.gw.logAttach {
		log.Printf("[BRIDGE] Session detached")
	}
}

// check translates a backend error into the engine's taxonomy. Status
// sentinels and engine errors pass through unchanged.
func check(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *core.EngineError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, core.ErrEndOfData),
		errors.Is(err, core.ErrRowNotFound),
		errors.Is(err, core.ErrDuplicateKey),
		errors.Is(err, core.ErrBackendCall):
		return err
	}
	log.Printf("[BRIDGE] %s failed: %v", op, err)
	return failure(op, fmt.Errorf("%w: %w", core.ErrBackendCall, err))
}

func failure(op string, err error) *core.EngineError {
	return &core.EngineError{Kind: core.KindBackendCallFailure, Op: op, Err: err}
}

// invoke runs one backend call inside an attach guard, converting panics
// and errors.
func invoke[T any](s *Session, op string, fn func(BackendClient) (T, error)) (res T, err error) {
	guard, err := s.Enter()
	if err != nil {
		return res, err
	}
	defer guard.Release()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BRIDGE] %s panicked: %v", op, r)
			var zero T
			res, err = zero, failure(op, fmt.Errorf("%w: panic: %v", core.ErrBackendCall, r))
		}
	}()

	res, err = fn(s.gw.client)
	return res, check(op, err)
}

func invokeErr(s *Session, op string, fn func(BackendClient) error) error {
	_, err := invoke(s, op, func(c BackendClient) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}
