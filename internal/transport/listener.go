package transport

import (
	"fmt"
	"net"
	"time"
)

// Listener is a passive accept point that hands each accepted connection
// back as a framed Transport (spec §4.1 "Server accept").
type Listener struct {
	ln  net.Listener
	cfg Config
}

// ListenOptions configures the listening socket itself, distinct from the
// per-connection Config applied to each accepted Transport.
type ListenOptions struct {
	Network      string // "tcp" or "unix"; defaults to "tcp"
	Address      string
	ReuseAddress bool
	ConnConfig   Config
}

// Listen binds a passive listener on opts.Address.
func Listen(opts ListenOptions) (*Listener, error) {
	network := opts.Network
	if network == "" {
		network = "tcp"
	}

	ln, err := net.Listen(network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s %s: %w", network, opts.Address, err)
	}

	return &Listener{ln: ln, cfg: opts.ConnConfig}, nil
}

// Accept blocks until a connection arrives or timeout elapses, returning a
// ready-to-use Transport. A timeout of zero means wait indefinitely.
func (l *Listener) Accept(timeout time.Duration) (*Transport, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}

	if timeout <= 0 {
		conn, err := l.ln.Accept()
		if err != nil {
			return nil, err
		}
		return New(conn, l.cfg), nil
	}

	resultCh := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		resultCh <- acceptResult{conn, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return New(res.conn, l.cfg), nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Close shuts down the listening socket. In-flight Accept calls may still
// complete with an error from the underlying net.Listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
