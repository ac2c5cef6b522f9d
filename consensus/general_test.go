package consensus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/byzantine-generals/network"
)

type recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recorder) Report(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.reports))
	for i, rep := range r.reports {
		lines[i] = rep.String()
	}
	return lines
}

func (r *recorder) decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ds []Decision
	for _, rep := range r.reports {
		if rep.Kind == ReportDecision {
			ds = append(ds, rep.Decision)
		}
	}
	return ds
}

type fixedRandomness struct{ value bool }

func (f fixedRandomness) Bool() bool     { return f.value }
func (f fixedRandomness) IntN(n int) int { return 0 }

func testOptions() Options {
	return Options{
		GetOrderDelay:    30 * time.Millisecond,
		VoteTimeout:      5 * time.Second,
		ReadTimeout:      20 * time.Millisecond,
		IdleSleep:        time.Millisecond,
		HandshakeTimeout: time.Second,
	}
}

func newGeneral(t *testing.T, id int, role Role, rec Reporter, opts Options) *General {
	t.Helper()
	g, err := NewGeneral(id, "127.0.0.1:0", role, Config{Options: opts, Reporter: rec})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// newMesh starts n fully connected generals with ids 1..n. General 1 is
// the primary and the listed ids are marked faulty.
func newMesh(t *testing.T, n int, opts Options, faulty ...int) ([]*General, *recorder) {
	t.Helper()
	rec := &recorder{}
	gens := make([]*General, n)
	for i := range gens {
		role := Secondary
		if i == 0 {
			role = Primary
		}
		gens[i] = newGeneral(t, i+1, role, rec, opts)
	}
	ctx := context.Background()
	for i, a := range gens {
		for j, b := range gens {
			if i != j {
				require.True(t, a.Connect(ctx, b.Address()))
			}
		}
	}
	require.Eventually(t, func() bool {
		for _, g := range gens {
			s := g.Snapshot()
			if len(s.Outbound) != n-1 || len(s.Inbound) != n-1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	for _, id := range faulty {
		gens[id-1].Deliver(network.Message{Command: CmdState, State: StateFaulty})
	}
	return gens, rec
}

func orderMsg(order string, faulty int, round string) network.Message {
	return network.Message{
		Command:     CmdActualOrder,
		Order:       order,
		PrimaryID:   1,
		FaultyCount: faulty,
		Round:       round,
	}
}

func TestOrderAllLoyalExecutes(t *testing.T) {
	gens, rec := newMesh(t, 4, testOptions())

	d, err := gens[0].Order(context.Background(), orderMsg(OrderAttack, 0, "r1"))
	require.NoError(t, err)
	assert.Equal(t, Executed, d.Outcome)
	assert.Equal(t, 3, d.Yes)
	assert.Equal(t, 0, d.No)
	assert.Equal(t, "Execute order: attack! Non-faulty nodes in the system - 4 out of 4 quorum suggest attack", d.String())

	for _, g := range gens {
		s := g.Snapshot()
		require.NotNil(t, s.Vote, "general %d has no stance", s.ID)
		assert.True(t, *s.Vote, "general %d", s.ID)
	}
	require.Len(t, rec.decisions(), 1)
}

func TestOrderWithOneFaultyIsDefinite(t *testing.T) {
	gens, rec := newMesh(t, 4, testOptions(), 3)

	d, err := gens[0].Order(context.Background(), orderMsg(OrderRetreat, 1, "r1"))
	require.NoError(t, err)
	assert.Contains(t, []Outcome{Executed, NotExecuted}, d.Outcome)
	assert.Equal(t, 3, d.Yes+d.No)
	assert.Equal(t, 4, d.Quorum())
	assert.Contains(t, d.String(), "1 faulty node in the system")
	assert.Len(t, rec.decisions(), 1)
}

func TestConsecutiveRounds(t *testing.T) {
	gens, _ := newMesh(t, 4, testOptions())

	for i, order := range []string{OrderAttack, OrderRetreat, OrderAttack} {
		d, err := gens[0].Order(context.Background(), orderMsg(order, 0, "r"+string(rune('a'+i))))
		require.NoError(t, err)
		assert.Equal(t, Executed, d.Outcome, "round %d", i)
		assert.Equal(t, 3, d.Yes, "round %d", i)
	}
}

func TestFaultyPrimaryWithholdsSetVote(t *testing.T) {
	gens, _ := newMesh(t, 4, testOptions(), 1)

	d, err := gens[0].Order(context.Background(), orderMsg(OrderAttack, 1, "r1"))
	require.NoError(t, err)
	assert.Equal(t, NotExecuted, d.Outcome)
	assert.Equal(t, 3, d.No)
	for _, g := range gens[1:] {
		assert.Nil(t, g.Snapshot().Vote)
	}
}

func TestFaultyPrimaryDeliveringVotes(t *testing.T) {
	opts := testOptions()
	opts.FaultyPrimaryDeliversVotes = true
	gens, _ := newMesh(t, 4, opts, 1)

	d, err := gens[0].Order(context.Background(), orderMsg(OrderAttack, 1, "r1"))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Yes+d.No)
	for _, g := range gens[1:] {
		assert.NotNil(t, g.Snapshot().Vote)
	}
}

func TestSetVoteHandling(t *testing.T) {
	rec := &recorder{}
	g, err := NewGeneral(1, "127.0.0.1:0", Secondary, Config{
		Options:    testOptions(),
		Reporter:   rec,
		Randomness: fixedRandomness{value: true},
	})
	require.NoError(t, err)
	defer g.Close()

	g.Deliver(network.Message{Command: CmdSetVote, Vote: network.Bool(false), Round: "r1"})
	require.NotNil(t, g.Snapshot().Vote)
	assert.True(t, *g.Snapshot().Vote, "non-faulty replaces a false set-vote with a random value")

	g.Deliver(network.Message{Command: CmdState, State: StateFaulty})
	g.Deliver(network.Message{Command: CmdSetVote, Vote: network.Bool(false), Round: "r2"})
	assert.False(t, *g.Snapshot().Vote, "faulty keeps the delivered value")

	g.Deliver(network.Message{Command: CmdSetVote, Vote: network.Bool(true), Round: "r3"})
	assert.True(t, *g.Snapshot().Vote)
}

func TestStateAndRoleReports(t *testing.T) {
	rec := &recorder{}
	g := newGeneral(t, 7, Secondary, rec, testOptions())

	g.Deliver(network.Message{Command: CmdState})
	g.Deliver(network.Message{Command: CmdSimpleState})
	g.Deliver(network.Message{Command: CmdSetPrimary})
	g.Deliver(network.Message{Command: CmdState, State: StateFaulty})
	g.Deliver(network.Message{Command: CmdState})
	g.Deliver(network.Message{Command: CmdState, State: StateNonFaulty})
	g.Deliver(network.Message{Command: CmdSimpleState})
	g.Deliver(network.Message{Command: "bogus"})

	assert.Equal(t, []string{
		"G7, secondary, state=NF",
		"G7, secondary",
		"G7, primary, state=F",
		"G7, primary",
	}, rec.lines())
	assert.Equal(t, Primary, g.Role())
	assert.Equal(t, NonFaulty, g.Fault())
}

func TestKillDropsPeerAndTerminatesTarget(t *testing.T) {
	gens, rec := newMesh(t, 3, testOptions())

	kill := network.Message{Command: CmdKill, ID: 3}
	for _, g := range gens {
		g.Deliver(kill)
	}

	select {
	case <-gens[2].Done():
	case <-time.After(2 * time.Second):
		t.Fatal("killed general did not terminate")
	}
	for _, g := range gens[:2] {
		s := g.Snapshot()
		assert.NotContains(t, s.Outbound, 3)
		assert.NotContains(t, s.Inbound, 3)
	}
	assert.Contains(t, rec.lines(), "G3 - Shutting down")

	d, err := gens[0].Order(context.Background(), orderMsg(OrderAttack, 0, "after-kill"))
	require.NoError(t, err)
	assert.Equal(t, Executed, d.Outcome)
	assert.Equal(t, 1, d.Yes)
}

func TestConnectToSelfIsRejected(t *testing.T) {
	g := newGeneral(t, 1, Primary, nil, testOptions())
	assert.False(t, g.Connect(context.Background(), g.Address()))
	assert.Eventually(t, func() bool {
		s := g.Snapshot()
		return len(s.Outbound) == 0 && len(s.Inbound) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBindFailure(t *testing.T) {
	g := newGeneral(t, 1, Primary, nil, testOptions())
	_, err := NewGeneral(2, g.Address(), Secondary, Config{Options: testOptions()})
	assert.Error(t, err)
}

// stalledPrimary returns a primary with one inbound peer it cannot reach,
// so a round on it never collects its vote.
func stalledPrimary(t *testing.T, opts Options) *General {
	t.Helper()
	primary := newGeneral(t, 1, Primary, nil, opts)
	peer := newGeneral(t, 2, Secondary, nil, opts)
	require.True(t, peer.Connect(context.Background(), primary.Address()))
	require.Eventually(t, func() bool {
		return len(primary.Snapshot().Inbound) == 1
	}, time.Second, 10*time.Millisecond)
	return primary
}

func TestCloseUnblocksRound(t *testing.T) {
	opts := testOptions()
	opts.VoteTimeout = 0
	primary := stalledPrimary(t, opts)

	errs := make(chan error, 1)
	go func() {
		_, err := primary.Order(context.Background(), orderMsg(OrderAttack, 0, "r1"))
		errs <- err
	}()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, primary.Close())
	require.NoError(t, primary.Close())

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("round not unblocked by termination")
	}
}

func TestVoteTimeout(t *testing.T) {
	opts := testOptions()
	opts.VoteTimeout = 100 * time.Millisecond
	primary := stalledPrimary(t, opts)

	d, err := primary.Order(context.Background(), orderMsg(OrderAttack, 0, "r1"))
	require.Error(t, err)
	assert.Equal(t, TimedOut, d.Outcome)
	assert.True(t, strings.Contains(d.String(), "round timed out"), d.String())
}

func TestLateVoteFromEarlierRoundIsIgnored(t *testing.T) {
	opts := testOptions()
	opts.VoteTimeout = 100 * time.Millisecond
	primary := stalledPrimary(t, opts)

	_, err := primary.Order(context.Background(), orderMsg(OrderAttack, 0, "r1"))
	require.Error(t, err)

	primary.opts.VoteTimeout = 2 * time.Second
	type result struct {
		d   Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := primary.Order(context.Background(), orderMsg(OrderAttack, 0, "r2"))
		done <- result{d, err}
	}()
	require.Eventually(t, func() bool {
		return primary.Snapshot().Round == "r2"
	}, time.Second, 5*time.Millisecond)

	primary.Deliver(network.Message{Command: CmdReceiveVote, SenderID: 2, Vote: network.Bool(false), Round: "r1"})
	select {
	case r := <-done:
		t.Fatalf("round r2 finished on a vote from r1: %v %v", r.d, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	primary.Deliver(network.Message{Command: CmdReceiveVote, SenderID: 2, Vote: network.Bool(true), Round: "r2"})
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 1, r.d.Yes)
		assert.Equal(t, 0, r.d.No)
		assert.Equal(t, Executed, r.d.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("round r2 did not finish")
	}
}
