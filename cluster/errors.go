package cluster

import (
	"errors"
	"fmt"

	"github.com/luca-patrignani/byzantine-generals/consensus"
)

var (
	ErrUnknownGeneral = errors.New("unknown general")
	ErrInvalidState   = errors.New("state must be faulty or non-faulty")
	ErrInvalidOrder   = errors.New("order must be attack or retreat")
	ErrInvalidCount   = errors.New("count must be a positive integer")
	ErrEmptyCluster   = errors.New("no generals in the cluster")
)

// QuorumError is returned when a round is refused because 3f+1 > n.
type QuorumError struct {
	Faulty   int
	Total    int
	Decision consensus.Decision
}

func (e *QuorumError) Error() string {
	return e.Decision.String()
}

func unknownGeneral(id int) error {
	return fmt.Errorf("general %d: %w", id, ErrUnknownGeneral)
}
