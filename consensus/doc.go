// Package consensus implements a single general of the Byzantine Generals
// simulation: its state machine, the three-phase order round and the
// majority tally.
//
// # Core Components
//
// General: owns a listening endpoint, one outbound and one inbound
// network.Channel per peer, a role (primary or secondary) and a fault
// status. Every command, whether it arrives over a channel or is
// delivered locally by the coordinator, goes through the same handler.
//
// Reporter: sink for the human-readable lines a general emits (state,
// role, decision and shutdown reports).
//
// # Order Round
//
// The protocol follows these steps:
//  1. The primary sends set-vote to every peer, then after a short delay
//     get-order.
//  2. Each secondary records its own stance and asks every other
//     secondary for theirs with get-votes.
//  3. Once a general holds one vote per inbound channel it tallies the
//     majority; secondaries report it to the primary with receive-vote.
//  4. The primary tallies the reports and emits a Decision.
//
// # Byzantine Fault Tolerance
//
// A round is only run when 3f+1 <= n, where f is the number of faulty
// generals out of n. Faulty generals answer get-votes with random values,
// so each peer may be told something different.
package consensus
