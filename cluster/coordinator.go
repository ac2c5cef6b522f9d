// Package cluster manages the set of live generals and turns operator
// directives into messages to them.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/luca-patrignani/byzantine-generals/consensus"
	"github.com/luca-patrignani/byzantine-generals/ledger"
	"github.com/luca-patrignani/byzantine-generals/network"
	"github.com/luca-patrignani/byzantine-generals/telemetry"
)

// Config describes how generals are created. A zero StartPort gives every
// general an ephemeral port.
type Config struct {
	Host       string
	StartPort  int
	Options    consensus.Options
	Logger     *slog.Logger
	Reporter   consensus.Reporter
	Randomness consensus.Randomness
	Ledger     *ledger.Ledger
}

// Coordinator is a view over the live generals, kept in creation order.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	// roundMu serializes order rounds.
	roundMu sync.Mutex

	mu       sync.Mutex
	generals []*consensus.General
	killed   map[int]struct{}
}

func New(cfg Config) *Coordinator {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Randomness == nil {
		cfg.Randomness = consensus.NewRandomness()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.New()
	}
	return &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger,
		killed: make(map[int]struct{}),
	}
}

// Start creates n fully connected generals with ids 1..n and elects one of
// them primary at random.
func (c *Coordinator) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return ErrInvalidCount
	}
	primary := c.cfg.Randomness.IntN(n)
	gens := make([]*consensus.General, 0, n)
	for i := 0; i < n; i++ {
		role := consensus.Secondary
		if i == primary {
			role = consensus.Primary
		}
		g, err := c.spawn(i+1, c.portFor(i), role)
		if err != nil {
			for _, started := range gens {
				_ = started.Close()
			}
			return err
		}
		gens = append(gens, g)
	}
	for _, a := range gens {
		for _, b := range gens {
			if a != b {
				a.Connect(ctx, b.Address())
			}
		}
	}

	c.mu.Lock()
	c.generals = append(c.generals, gens...)
	telemetry.Members.Set(float64(len(c.generals)))
	c.mu.Unlock()
	c.logger.Info("cluster started", "generals", n, "primary", primary+1)
	return nil
}

func (c *Coordinator) portFor(offset int) int {
	if c.cfg.StartPort == 0 {
		return 0
	}
	return c.cfg.StartPort + offset
}

func (c *Coordinator) spawn(id, port int, role consensus.Role) (*consensus.General, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(port))
	return consensus.NewGeneral(id, addr, role, consensus.Config{
		Options:    c.cfg.Options,
		Logger:     c.logger,
		Reporter:   c.cfg.Reporter,
		Randomness: c.cfg.Randomness,
	})
}

// Generals returns the live generals in creation order.
func (c *Coordinator) Generals() []*consensus.General {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.generals)
}

// Snapshots returns a view of every live general in creation order.
func (c *Coordinator) Snapshots() []consensus.Snapshot {
	gens := c.Generals()
	out := make([]consensus.Snapshot, len(gens))
	for i, g := range gens {
		out[i] = g.Snapshot()
	}
	return out
}

func (c *Coordinator) Ledger() *ledger.Ledger {
	return c.cfg.Ledger
}

// Primary returns the current primary, if any.
func (c *Coordinator) Primary() (*consensus.General, bool) {
	for _, g := range c.Generals() {
		if g.Role() == consensus.Primary {
			return g, true
		}
	}
	return nil, false
}

func (c *Coordinator) find(id int) (*consensus.General, int) {
	for i, g := range c.generals {
		if g.ID() == id {
			return g, i
		}
	}
	return nil, -1
}

// Counts returns how many generals are faulty out of the live total.
func (c *Coordinator) Counts() (faulty, total int) {
	gens := c.Generals()
	for _, g := range gens {
		if g.Fault() == consensus.Faulty {
			faulty++
		}
	}
	return faulty, len(gens)
}

// ReportStates asks every general to report role and fault status.
func (c *Coordinator) ReportStates() {
	for _, g := range c.Generals() {
		g.Deliver(network.Message{Command: consensus.CmdState})
	}
}

// ReportRoles asks every general to report its role.
func (c *Coordinator) ReportRoles() {
	for _, g := range c.Generals() {
		g.Deliver(network.Message{Command: consensus.CmdSimpleState})
	}
}

// Order runs one round for order and blocks until the primary decides.
// When 3f+1 > n the round is refused with a *QuorumError and no general
// is contacted. Every decision, refused ones included, is appended to the
// ledger.
func (c *Coordinator) Order(ctx context.Context, order string) (consensus.Decision, error) {
	if !consensus.ValidOrder(order) {
		return consensus.Decision{}, ErrInvalidOrder
	}
	c.roundMu.Lock()
	defer c.roundMu.Unlock()

	primary, ok := c.Primary()
	if !ok {
		return consensus.Decision{}, ErrEmptyCluster
	}
	faulty, total := c.Counts()
	roundID := uuid.NewString()

	if !consensus.QuorumFeasible(faulty, total) {
		d := consensus.Decision{
			Round:     roundID,
			Order:     order,
			PrimaryID: primary.ID(),
			Faulty:    faulty,
			Total:     total,
			Outcome:   consensus.Refused,
		}
		c.record(d, 0)
		return d, &QuorumError{Faulty: faulty, Total: total, Decision: d}
	}

	start := time.Now()
	d, err := primary.Order(ctx, network.Message{
		Command:     consensus.CmdActualOrder,
		Order:       order,
		PrimaryID:   primary.ID(),
		FaultyCount: faulty,
		Round:       roundID,
	})
	if err != nil && d.Outcome != consensus.TimedOut {
		return consensus.Decision{}, fmt.Errorf("round %s: %w", roundID, err)
	}
	c.record(d, time.Since(start))
	return d, err
}

func (c *Coordinator) record(d consensus.Decision, elapsed time.Duration) {
	telemetry.RoundsTotal.WithLabelValues(d.Outcome.String()).Inc()
	if elapsed > 0 {
		telemetry.RoundDuration.Observe(elapsed.Seconds())
	}
	if _, err := c.cfg.Ledger.Append(d); err != nil {
		c.logger.Error("failed to record decision", "round", d.Round, "error", err)
	}
}

// SetState has the primary tell general id to switch fault status. The
// change is applied asynchronously by the target.
func (c *Coordinator) SetState(id int, state string) error {
	status, ok := consensus.ParseFaultStatus(state)
	if !ok {
		return ErrInvalidState
	}
	c.mu.Lock()
	target, _ := c.find(id)
	c.mu.Unlock()
	if target == nil {
		return unknownGeneral(id)
	}
	primary, ok := c.Primary()
	if !ok {
		return ErrEmptyCluster
	}
	primary.Relay(id, network.Message{Command: consensus.CmdState, State: status.Literal()})
	return nil
}

// Kill terminates general id and drops every channel to it. Killing the
// primary elects a random survivor. Killing an id that was already killed
// is a no-op.
func (c *Coordinator) Kill(id int) error {
	c.mu.Lock()
	target, idx := c.find(id)
	if target == nil {
		_, gone := c.killed[id]
		c.mu.Unlock()
		if gone {
			return nil
		}
		return unknownGeneral(id)
	}
	all := slices.Clone(c.generals)
	c.generals = slices.Delete(c.generals, idx, idx+1)
	c.killed[id] = struct{}{}
	survivors := slices.Clone(c.generals)
	telemetry.Members.Set(float64(len(survivors)))
	c.mu.Unlock()

	wasPrimary := target.Role() == consensus.Primary
	kill := network.Message{Command: consensus.CmdKill, ID: id}
	for _, g := range all {
		g.Deliver(kill)
	}

	if wasPrimary && len(survivors) > 0 {
		next := survivors[c.cfg.Randomness.IntN(len(survivors))]
		next.Deliver(network.Message{Command: consensus.CmdSetPrimary})
		c.logger.Info("primary re-elected", "killed", id, "primary", next.ID())
	}
	c.ReportRoles()
	return nil
}

// Add creates k generals that connect to every pre-existing general only.
// Ids continue after the largest id ever used, killed generals included,
// so a killed id is never reused. Ports continue after the largest port of
// a live general. If the cluster is empty, one of the new generals becomes
// primary.
func (c *Coordinator) Add(ctx context.Context, k int) error {
	if k <= 0 {
		return ErrInvalidCount
	}
	c.mu.Lock()
	existing := slices.Clone(c.generals)
	maxID := 0
	for _, g := range existing {
		maxID = max(maxID, g.ID())
	}
	for id := range c.killed {
		maxID = max(maxID, id)
	}
	c.mu.Unlock()
	maxPort := c.maxPort(existing)

	primary := -1
	if len(existing) == 0 {
		primary = c.cfg.Randomness.IntN(k)
	}

	var err error
	for i := 0; i < k; i++ {
		role := consensus.Secondary
		if i == primary {
			role = consensus.Primary
		}
		port := 0
		if c.cfg.StartPort != 0 {
			port = maxPort + i + 1
		}
		g, spawnErr := c.spawn(maxID+i+1, port, role)
		if spawnErr != nil {
			err = multierr.Append(err, spawnErr)
			break
		}
		for _, e := range existing {
			g.Connect(ctx, e.Address())
			e.Connect(ctx, g.Address())
		}
		c.mu.Lock()
		c.generals = append(c.generals, g)
		telemetry.Members.Set(float64(len(c.generals)))
		c.mu.Unlock()
	}
	c.ReportRoles()
	return err
}

func (c *Coordinator) maxPort(gens []*consensus.General) int {
	port := c.cfg.StartPort - 1
	for _, g := range gens {
		_, p, err := net.SplitHostPort(g.Address())
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			port = max(port, n)
		}
	}
	return port
}

// Shutdown terminates every general and returns the aggregated close
// errors.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	gens := c.generals
	c.generals = nil
	c.mu.Unlock()

	var err error
	for _, g := range gens {
		err = multierr.Append(err, g.Close())
	}
	telemetry.Members.Set(0)
	return err
}
