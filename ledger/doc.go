// Package ledger keeps an append-only record of the decisions reached by
// the cluster.
//
// # Core Components
//
// Ledger: a hash-chained log of blocks, one per order round, starting from
// a genesis block.
//
// Block: one consensus.Decision with its index, timestamp and the links to
// the previous block.
//
// # Usage
//
// The coordinator appends a block for every round it runs, refused ones
// included. Verify can be called at any time to check the chain is intact.
package ledger
