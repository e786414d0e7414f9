package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/latchkey-labs/embermcp/internal/metrics"
)

// KeepAliveConfig mirrors spec.md §4.1's optional OS-level keepalive tuning.
type KeepAliveConfig struct {
	Enabled  bool
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// Config holds the transport's optional, all-defaulted tuning knobs.
type Config struct {
	ReceiveTimeout   time.Duration
	SendTimeout      time.Duration
	MaxMessageSize   uint32
	ReceiveBufferHint int // advisory only; Go's net.Conn does its own buffering
	KeepAlive        KeepAliveConfig

	// RateLimit bounds the number of frames per second a single connection
	// may send before receive() starts returning ErrTimeout early, guarding
	// the session's cooperative scheduler from a flooding peer. Zero disables
	// the limiter.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout:     5 * time.Second,
		SendTimeout:        5 * time.Second,
		MaxMessageSize:     8192,
		ReceiveBufferHint:  4096,
		KeepAlive:          KeepAliveConfig{Enabled: false},
		RateLimitPerSecond: 200,
		RateLimitBurst:     400,
	}
}

// AbsoluteMaxMessageSize is the hard ceiling no Config may exceed (spec §4.1).
const AbsoluteMaxMessageSize = 1 << 20 // 1 MiB

// Transport is a length-framed connection over a reliable, ordered byte
// stream. It owns its net.Conn exclusively; send and receive are each safe
// to call concurrently with the other, and concurrent Send calls are
// serialized by an internal mutex (the session still routes every write
// through its single writer role — spec.md §5). Receive is not safe for
// concurrent use by multiple goroutines.
type Transport struct {
	conn    net.Conn
	cfg     Config
	limiter *rate.Limiter
	closed  atomic.Bool
	sendMu  sync.Mutex
}

// New wraps conn as a framed Transport, applying cfg (zero-value timeout,
// size and buffer fields fall back to DefaultConfig's; a zero
// RateLimitPerSecond leaves the limiter off and a zero KeepAlive leaves
// keepalive off).
func New(conn net.Conn, cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = def.ReceiveTimeout
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxMessageSize > AbsoluteMaxMessageSize {
		cfg.MaxMessageSize = AbsoluteMaxMessageSize
	}
	if cfg.ReceiveBufferHint == 0 {
		cfg.ReceiveBufferHint = def.ReceiveBufferHint
	}

	t := &Transport{conn: conn, cfg: cfg}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		if cfg.KeepAlive.Enabled {
			_ = tcpConn.SetKeepAlive(true)
			if cfg.KeepAlive.Idle > 0 {
				_ = tcpConn.SetKeepAlivePeriod(cfg.KeepAlive.Idle)
			}
		}
	}

	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitPerSecond)
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return t
}

// Send writes one length-framed message, retrying partial writes until the
// whole frame lands or an error occurs. Any error other than ErrTimeout
// marks the connection closed; a timeout leaves it open.
func (t *Transport) Send(payload []byte) error {
	if t.closed.Load() {
		return ErrPeerClosed
	}
	if uint32(len(payload)) > t.cfg.MaxMessageSize {
		return ErrTooLarge
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.cfg.SendTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.SendTimeout))
	} else {
		_ = t.conn.SetWriteDeadline(time.Time{})
	}

	if err := writeFrame(t.conn, payload); err != nil {
		if !isTimeout(err) {
			t.markClosed()
		}
		return err
	}
	metrics.RecordFrame(t.RemoteAddr(), "out", len(payload))
	return nil
}

// Receive reads one length-framed message, blocking up to the configured
// (or overridden) receive timeout. A zero-length frame is legal and returns
// an empty, non-nil byte slice.
func (t *Transport) Receive() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrPeerClosed
	}

	if t.limiter != nil && !t.limiter.Allow() {
		return nil, ErrTimeout
	}

	if t.cfg.ReceiveTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReceiveTimeout))
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	payload, err := readFrame(t.conn, t.cfg.MaxMessageSize)
	if err != nil {
		// Any failure except a plain timeout discards the connection: a
		// TooLarge frame means the length header can no longer be trusted
		// to resynchronize the stream (spec §4.1 failure semantics), and a
		// peer-closed or I/O error is terminal by definition.
		if !isTimeout(err) {
			t.markClosed()
		}
		return nil, err
	}
	metrics.RecordFrame(t.RemoteAddr(), "in", len(payload))
	return payload, nil
}

// ReceiveWithTimeout overrides the per-call receive deadline, for callers
// (e.g. shutdown's bounded drain) that need a different wait than the
// connection's configured default.
func (t *Transport) ReceiveWithTimeout(d time.Duration) ([]byte, error) {
	saved := t.cfg.ReceiveTimeout
	t.cfg.ReceiveTimeout = d
	defer func() { t.cfg.ReceiveTimeout = saved }()
	return t.Receive()
}

// Close is idempotent; subsequent Send/Receive calls return ErrPeerClosed.
func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		return t.conn.Close()
	}
	return nil
}

func (t *Transport) markClosed() {
	if t.closed.CompareAndSwap(false, true) {
		_ = t.conn.Close()
	}
}

// IsConnected is a best-effort liveness probe. It never reads from the
// socket (that would steal a byte from the next frame) — it only reports
// whether this side has observed the connection fail or close.
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// RemoteAddr exposes the connection's remote address for logging/rate-limit keys.
func (t *Transport) RemoteAddr() string {
	if t.conn == nil || t.conn.RemoteAddr() == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

func isTimeout(err error) bool {
	return err == ErrTimeout
}
