package ledger

import "github.com/luca-patrignani/byzantine-generals/consensus"

// Block records one round decision in the chain.
type Block struct {
	Index     int                `json:"index"`
	Timestamp int64              `json:"timestamp"`
	PrevHash  string             `json:"prev_hash"`
	Hash      string             `json:"hash"`
	Decision  consensus.Decision `json:"decision"`
}
