package consensus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/luca-patrignani/byzantine-generals/network"
)

// round is the per-general state of the order round in progress.
type round struct {
	id          string
	order       string
	primaryID   int
	faultyCount int
	// vote is this general's stance for round id; nil until set-vote.
	vote  *bool
	votes []bool
}

// stance is the general's vote for roundID. A missing stance counts as
// false.
func (r *round) stance(roundID string) bool {
	if r.id != roundID || r.vote == nil {
		return false
	}
	return *r.vote
}

// begin switches to roundID, forgetting the stance of any earlier round.
func (r *round) begin(roundID string) {
	if r.id == roundID {
		return
	}
	r.id = roundID
	r.vote = nil
	r.votes = nil
}

// Order runs an order round with this General as primary and returns the
// decision it reached. msg carries order, primaryId, faultyCount and the
// round id. The call blocks until every inbound peer has reported, ctx is
// done, or the General terminates.
func (g *General) Order(ctx context.Context, msg network.Message) (Decision, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	g.mu.Lock()
	g.round = round{
		id:          msg.Round,
		order:       msg.Order,
		primaryID:   msg.PrimaryID,
		faultyCount: msg.FaultyCount,
	}
	fault := g.fault
	if fault == NonFaulty {
		g.round.vote = network.Bool(true)
	}
	g.mu.Unlock()

	peers := g.outboundPeers(0)
	g.logger.Debug("order round started", "round", msg.Round, "order", msg.Order, "peers", len(peers))

	for _, ch := range peers {
		vote := true
		if fault == Faulty {
			vote = g.rnd.Bool()
			if !g.opts.FaultyPrimaryDeliversVotes {
				g.logger.Debug("faulty primary withholds set-vote", "peer", ch.PeerID, "vote", vote)
				continue
			}
		}
		ch.Send(network.Message{Command: CmdSetVote, Vote: network.Bool(vote), Round: msg.Round})
	}

	select {
	case <-time.After(g.opts.GetOrderDelay):
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}

	for _, ch := range peers {
		ch.Send(network.Message{
			Command:     CmdGetOrder,
			PrimaryID:   msg.PrimaryID,
			FaultyCount: msg.FaultyCount,
			Order:       msg.Order,
			Round:       msg.Round,
		})
	}

	votes, expected, err := g.awaitVotes(ctx)
	d := Decision{
		Round:     msg.Round,
		Order:     msg.Order,
		PrimaryID: msg.PrimaryID,
		Faulty:    msg.FaultyCount,
	}
	d.Yes, d.No = tally(votes)
	g.finishRound()
	if err != nil {
		if g.ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			return Decision{}, err
		}
		d.Outcome = TimedOut
		d.Total = expected + 1
		g.report(ReportDecision, d)
		return d, err
	}

	d.Total = d.Yes + d.No + 1
	if d.Yes > d.No {
		d.Outcome = Executed
	} else {
		d.Outcome = NotExecuted
	}
	g.report(ReportDecision, d)
	return d, nil
}

func (g *General) onSetVote(msg network.Message) {
	received := msg.Vote != nil && *msg.Vote

	g.mu.Lock()
	defer g.mu.Unlock()
	g.round.begin(msg.Round)
	v := received
	if g.fault == NonFaulty && !received {
		v = g.rnd.Bool()
	}
	g.round.vote = &v
}

func (g *General) onGetOrder(msg network.Message) {
	g.mu.Lock()
	g.round.begin(msg.Round)
	g.round.order = msg.Order
	g.round.primaryID = msg.PrimaryID
	g.round.faultyCount = msg.FaultyCount
	g.round.votes = append(g.round.votes, g.round.stance(msg.Round))
	g.notifyLocked()
	g.mu.Unlock()

	for _, ch := range g.outboundPeers(msg.PrimaryID) {
		ch.Send(network.Message{Command: CmdGetVotes, SenderID: g.id, Round: msg.Round})
	}

	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()
	votes, _, err := g.awaitVotes(ctx)
	if err != nil {
		g.logger.Warn("abandoning round", "round", msg.Round, "error", err)
		g.finishRound()
		return
	}
	result := majority(votes)
	g.finishRound()
	g.sendTo(msg.PrimaryID, network.Message{
		Command:  CmdReceiveVote,
		SenderID: g.id,
		Vote:     network.Bool(result),
		Round:    msg.Round,
	})
}

func (g *General) onGetVotes(msg network.Message) {
	g.mu.Lock()
	v := g.round.stance(msg.Round)
	if g.fault == Faulty {
		v = g.rnd.Bool()
	}
	g.mu.Unlock()
	g.sendTo(msg.SenderID, network.Message{
		Command:  CmdReceiveVote,
		SenderID: g.id,
		Vote:     network.Bool(v),
		Round:    msg.Round,
	})
}

func (g *General) onReceiveVote(msg network.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if msg.Round != g.round.id {
		g.logger.Debug("ignoring vote from another round", "round", msg.Round, "current", g.round.id, "sender", msg.SenderID)
		return
	}
	g.round.votes = append(g.round.votes, msg.Vote != nil && *msg.Vote)
	g.notifyLocked()
}

// awaitVotes blocks until one vote per inbound channel has been collected.
// It returns the votes and how many were expected at that point.
func (g *General) awaitVotes(ctx context.Context) ([]bool, int, error) {
	if g.opts.VoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.VoteTimeout)
		defer cancel()
	}
	for {
		g.mu.Lock()
		expected := len(g.inbound)
		if len(g.round.votes) >= expected {
			votes := slices.Clone(g.round.votes)
			g.mu.Unlock()
			return votes, expected, nil
		}
		changed := g.changed
		votes := slices.Clone(g.round.votes)
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return votes, expected, fmt.Errorf("waiting for votes (%d/%d): %w", len(votes), expected, ctx.Err())
		}
	}
}

// finishRound clears the collected votes. The stance is kept so late
// get-votes for the same round are still answered truthfully.
func (g *General) finishRound() {
	g.mu.Lock()
	g.round.votes = nil
	g.mu.Unlock()
}
