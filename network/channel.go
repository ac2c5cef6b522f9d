package network

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/byzantine-generals/telemetry"
)

const readBufferSize = 4096

// Direction tells who opened the stream behind a Channel.
type Direction int

const (
	// Outbound channels were dialed by the owner.
	Outbound Direction = iota
	// Inbound channels were accepted by the owner.
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Handler is invoked on the channel's worker for every decoded frame.
type Handler func(ch *Channel, msg Message)

// Channel wraps one established stream to a peer. A single worker reads
// frames and hands them to the Handler in arrival order; Send may be
// called from any goroutine.
type Channel struct {
	PeerID    int
	Direction Direction

	conn        net.Conn
	handler     Handler
	onClose     func(*Channel)
	logger      *slog.Logger
	readTimeout time.Duration
	idleSleep   time.Duration

	writeMu sync.Mutex
	alive   atomic.Bool
	started atomic.Bool
	done    chan struct{}
}

type channelConfig struct {
	logger      *slog.Logger
	readTimeout time.Duration
	idleSleep   time.Duration
	onClose     func(*Channel)
}

type channelOption func(channelConfig) channelConfig

// WithLogger sets the logger used by the channel.
func WithLogger(logger *slog.Logger) channelOption {
	return func(c channelConfig) channelConfig {
		c.logger = logger
		return c
	}
}

// WithReadTimeout bounds each blocking read so the worker can notice Stop.
func WithReadTimeout(d time.Duration) channelOption {
	return func(c channelConfig) channelConfig {
		c.readTimeout = d
		return c
	}
}

// WithIdleSleep sets the pause between empty reads.
func WithIdleSleep(d time.Duration) channelOption {
	return func(c channelConfig) channelConfig {
		c.idleSleep = d
		return c
	}
}

// WithCloseHook registers a callback run on the worker once it exits.
func WithCloseHook(hook func(*Channel)) channelOption {
	return func(c channelConfig) channelConfig {
		c.onClose = hook
		return c
	}
}

// NewChannel wraps conn. The worker does not run until Start.
func NewChannel(peerID int, dir Direction, conn net.Conn, handler Handler, opts ...channelOption) *Channel {
	cfg := channelConfig{
		logger:      slog.Default(),
		readTimeout: 100 * time.Millisecond,
		idleSleep:   10 * time.Millisecond,
	}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	ch := &Channel{
		PeerID:      peerID,
		Direction:   dir,
		conn:        conn,
		handler:     handler,
		onClose:     cfg.onClose,
		logger:      cfg.logger.With("peer", peerID, "direction", dir.String()),
		readTimeout: cfg.readTimeout,
		idleSleep:   cfg.idleSleep,
		done:        make(chan struct{}),
	}
	ch.alive.Store(true)
	return ch
}

// Start launches the receive worker. Calling it twice is a no-op.
func (c *Channel) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	telemetry.ChannelsOpen.WithLabelValues(c.Direction.String()).Inc()
	go c.run()
}

// Alive reports whether the channel still accepts traffic.
func (c *Channel) Alive() bool {
	return c.alive.Load()
}

// Send writes one frame. Failures are logged and stop the channel; they
// are never returned to the caller.
func (c *Channel) Send(msg Message) {
	if !c.alive.Load() {
		c.logger.Debug("dropping message on stopped channel", "command", msg.Command)
		return
	}
	frame, err := Encode(msg)
	if err != nil {
		c.logger.Error("failed to encode message", "command", msg.Command, "error", err)
		return
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("send failed, stopping channel", "command", msg.Command, "error", err)
		c.Stop()
		return
	}
	telemetry.MessagesSent.WithLabelValues(msg.Command).Inc()
}

// Stop flags the channel as dead and unblocks a pending read. It is
// idempotent and does not wait for the worker.
func (c *Channel) Stop() {
	if c.alive.CompareAndSwap(true, false) {
		_ = c.conn.SetReadDeadline(time.Now())
		if !c.started.Load() {
			_ = c.conn.Close()
		}
	}
}

// Wait blocks until the worker has exited. It returns at once for a
// channel that was never started.
func (c *Channel) Wait() {
	if !c.started.Load() {
		return
	}
	<-c.done
}

func (c *Channel) run() {
	defer func() {
		_ = c.conn.Close()
		telemetry.ChannelsOpen.WithLabelValues(c.Direction.String()).Dec()
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	buf := make([]byte, readBufferSize)
	var pending []byte
	for c.alive.Load() {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var frames [][]byte
			frames, pending = SplitFrames(pending)
			for _, f := range frames {
				c.deliver(f)
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(c.idleSleep)
				continue
			}
			if c.alive.Load() {
				c.logger.Debug("stream closed", "error", err)
			}
			c.alive.Store(false)
			return
		}
		if n == 0 {
			time.Sleep(c.idleSleep)
		}
	}
}

func (c *Channel) deliver(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		telemetry.DecodeFailures.Inc()
		c.logger.Warn("undecodable frame", "error", err, "raw", string(frame))
	} else {
		telemetry.MessagesReceived.WithLabelValues(msg.Command).Inc()
	}
	if c.handler != nil {
		c.handler(c, msg)
	}
}
