package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/luca-patrignani/byzantine-generals/network"
)

// Options tune the protocol timings of a General.
type Options struct {
	// GetOrderDelay separates the primary's set-vote from its get-order.
	GetOrderDelay time.Duration
	// VoteTimeout bounds every vote wait. Zero waits until termination.
	VoteTimeout time.Duration
	// ReadTimeout bounds a single channel read.
	ReadTimeout time.Duration
	// IdleSleep is the pause between empty channel reads.
	IdleSleep time.Duration
	// HandshakeTimeout bounds the id exchange on a new stream.
	HandshakeTimeout time.Duration
	// FaultyPrimaryDeliversVotes makes a faulty primary actually deliver
	// its per-peer random set-vote. When false the lies are drawn but
	// withheld, leaving secondaries without a stance for the round.
	FaultyPrimaryDeliversVotes bool
}

// DefaultOptions returns the timings used when none are configured.
func DefaultOptions() Options {
	return Options{
		GetOrderDelay:    100 * time.Millisecond,
		ReadTimeout:      100 * time.Millisecond,
		IdleSleep:        10 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Config gathers the collaborators of a General. Zero values fall back to
// defaults.
type Config struct {
	Options    Options
	Logger     *slog.Logger
	Reporter   Reporter
	Randomness Randomness
}

// General is one participant of the simulation.
type General struct {
	id       int
	listener net.Listener
	logger   *slog.Logger
	reporter Reporter
	rnd      Randomness
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	role       Role
	fault      FaultStatus
	outbound   map[int]*network.Channel
	inbound    map[int]*network.Channel
	round      round
	changed    chan struct{}
	terminated bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewGeneral binds addr and starts accepting peers. A bind failure is
// returned and no General is created.
func NewGeneral(id int, addr string, role Role, cfg Config) (*General, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid general id %d", id)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("general %d: listen on %s: %w", id, addr, err)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = discardReporter{}
	}
	if cfg.Randomness == nil {
		cfg.Randomness = NewRandomness()
	}
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &General{
		id:       id,
		listener: l,
		logger:   cfg.Logger.With("general", id),
		reporter: cfg.Reporter,
		rnd:      cfg.Randomness,
		opts:     cfg.Options,
		ctx:      ctx,
		cancel:   cancel,
		role:     role,
		outbound: make(map[int]*network.Channel),
		inbound:  make(map[int]*network.Channel),
		changed:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	g.wg.Add(1)
	go g.acceptLoop()
	g.logger.Debug("listening", "address", g.Address(), "role", role.String())
	return g, nil
}

func (g *General) ID() int { return g.id }

// Address is the host:port the General accepts peers on.
func (g *General) Address() string {
	return g.listener.Addr().String()
}

func (g *General) Role() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.role
}

func (g *General) Fault() FaultStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fault
}

// Done is closed once the General has terminated.
func (g *General) Done() <-chan struct{} {
	return g.closed
}

// Snapshot is a point-in-time view of a General.
type Snapshot struct {
	ID         int    `json:"id"`
	Address    string `json:"address"`
	Role       string `json:"role"`
	State      string `json:"state"`
	Vote       *bool  `json:"vote,omitempty"`
	Round      string `json:"round,omitempty"`
	Outbound   []int  `json:"outbound"`
	Inbound    []int  `json:"inbound"`
	Terminated bool   `json:"terminated"`
}

func (g *General) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		ID:         g.id,
		Address:    g.Address(),
		Role:       g.role.String(),
		State:      g.fault.String(),
		Round:      g.round.id,
		Outbound:   sortedKeys(g.outbound),
		Inbound:    sortedKeys(g.inbound),
		Terminated: g.terminated,
	}
	if g.round.vote != nil {
		v := *g.round.vote
		s.Vote = &v
	}
	return s
}

// Connect dials addr, exchanges ids and registers the stream as the
// outbound channel to that peer. It reports whether the channel was
// established; failures are logged.
func (g *General) Connect(ctx context.Context, addr string) bool {
	conn, peerID, err := network.Dial(ctx, addr, g.id, g.opts.HandshakeTimeout)
	if err != nil {
		g.logger.Warn("connect failed", "address", addr, "error", err)
		return false
	}
	return g.attach(peerID, network.Outbound, conn)
}

func (g *General) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if g.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			g.logger.Warn("accept failed", "error", err)
			continue
		}
		peerID, err := network.Accept(conn, g.id, g.opts.HandshakeTimeout)
		if err != nil {
			g.logger.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			continue
		}
		g.attach(peerID, network.Inbound, conn)
	}
}

func (g *General) attach(peerID int, dir network.Direction, conn net.Conn) bool {
	if peerID == g.id {
		g.logger.Warn("rejecting channel to self", "direction", dir.String())
		conn.Close()
		return false
	}
	ch := network.NewChannel(peerID, dir, conn, g.receive,
		network.WithLogger(g.logger),
		network.WithReadTimeout(g.opts.ReadTimeout),
		network.WithIdleSleep(g.opts.IdleSleep),
		network.WithCloseHook(g.detach),
	)

	g.mu.Lock()
	if g.terminated {
		g.mu.Unlock()
		ch.Stop()
		return false
	}
	channels := g.channelsLocked(dir)
	old := channels[peerID]
	channels[peerID] = ch
	g.notifyLocked()
	g.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	ch.Start()
	g.logger.Debug("channel established", "peer", peerID, "direction", dir.String())
	return true
}

// detach runs on a channel worker once it exits.
func (g *General) detach(ch *network.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	channels := g.channelsLocked(ch.Direction)
	if channels[ch.PeerID] == ch {
		delete(channels, ch.PeerID)
		g.notifyLocked()
	}
}

func (g *General) channelsLocked(dir network.Direction) map[int]*network.Channel {
	if dir == network.Inbound {
		return g.inbound
	}
	return g.outbound
}

// notifyLocked wakes every vote waiter so it re-evaluates its condition.
func (g *General) notifyLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Deliver hands msg to the General as if it had arrived on a channel, but
// synchronously on the caller's goroutine.
func (g *General) Deliver(msg network.Message) {
	g.handle(msg, true)
}

func (g *General) receive(_ *network.Channel, msg network.Message) {
	g.handle(msg, false)
}

func (g *General) handle(msg network.Message, local bool) {
	if msg.Raw != nil {
		g.logger.Debug("ignoring raw frame", "raw", string(msg.Raw))
		return
	}
	switch msg.Command {
	case CmdState:
		g.onState(msg)
	case CmdKill:
		g.onKill(msg.ID, local)
	case CmdSetPrimary:
		g.mu.Lock()
		g.role = Primary
		g.mu.Unlock()
	case CmdSimpleState:
		g.report(ReportRole, Decision{})
	case CmdActualOrder:
		if _, err := g.Order(g.ctx, msg); err != nil {
			g.logger.Warn("order round failed", "error", err)
		}
	case CmdSetVote:
		g.onSetVote(msg)
	case CmdGetOrder:
		g.onGetOrder(msg)
	case CmdGetVotes:
		g.onGetVotes(msg)
	case CmdReceiveVote:
		g.onReceiveVote(msg)
	case CmdExit:
		g.terminateFrom(local)
	default:
		g.logger.Debug("ignoring unknown command", "command", msg.Command)
	}
}

func (g *General) onState(msg network.Message) {
	if msg.State == "" {
		g.report(ReportState, Decision{})
		return
	}
	status := NonFaulty
	if msg.State == StateFaulty {
		status = Faulty
	}
	g.mu.Lock()
	g.fault = status
	g.mu.Unlock()
	g.logger.Debug("fault status changed", "state", status.String())
}

func (g *General) onKill(id int, local bool) {
	if id == g.id {
		g.terminateFrom(local)
		return
	}
	g.mu.Lock()
	out, in := g.outbound[id], g.inbound[id]
	delete(g.outbound, id)
	delete(g.inbound, id)
	g.notifyLocked()
	g.mu.Unlock()
	if out != nil {
		out.Stop()
	}
	if in != nil {
		in.Stop()
	}
}

// terminateFrom closes the General. A close requested from a channel
// worker runs asynchronously since Close joins every worker.
func (g *General) terminateFrom(local bool) {
	if local {
		_ = g.Close()
		return
	}
	go func() { _ = g.Close() }()
}

func (g *General) report(kind ReportKind, d Decision) {
	g.mu.Lock()
	r := Report{Kind: kind, GeneralID: g.id, Role: g.role, Fault: g.fault, Decision: d}
	g.mu.Unlock()
	g.reporter.Report(r)
}

// sendTo writes msg on the outbound channel to id, if there is one.
func (g *General) sendTo(id int, msg network.Message) {
	g.mu.Lock()
	ch := g.outbound[id]
	g.mu.Unlock()
	if ch == nil {
		g.logger.Debug("no outbound channel", "peer", id, "command", msg.Command)
		return
	}
	ch.Send(msg)
}

// Relay delivers msg to target: locally when target is this General,
// otherwise over the outbound channel to it.
func (g *General) Relay(target int, msg network.Message) {
	if target == g.id {
		g.Deliver(msg)
		return
	}
	g.sendTo(target, msg)
}

// outboundPeers returns the outbound channels ordered by peer id.
func (g *General) outboundPeers(except int) []*network.Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := sortedKeys(g.outbound)
	peers := make([]*network.Channel, 0, len(ids))
	for _, id := range ids {
		if id != except {
			peers = append(peers, g.outbound[id])
		}
	}
	return peers
}

// Close terminates the General: it reports the shutdown, stops accepting,
// stops every channel and joins all workers. It is idempotent.
func (g *General) Close() error {
	g.closeOnce.Do(func() {
		g.report(ReportShutdown, Decision{})
		g.cancel()

		g.mu.Lock()
		g.terminated = true
		channels := make([]*network.Channel, 0, len(g.outbound)+len(g.inbound))
		for _, ch := range g.outbound {
			channels = append(channels, ch)
		}
		for _, ch := range g.inbound {
			channels = append(channels, ch)
		}
		g.notifyLocked()
		g.mu.Unlock()

		var err error
		if lerr := g.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("general %d: close listener: %w", g.id, lerr))
		}
		g.wg.Wait()

		for _, ch := range channels {
			ch.Stop()
		}
		for _, ch := range channels {
			ch.Wait()
		}
		g.closeErr = err
		close(g.closed)
		g.logger.Debug("terminated")
	})
	return g.closeErr
}

func sortedKeys(m map[int]*network.Channel) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
