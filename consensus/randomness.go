package consensus

import (
	"crypto/cipher"
	"math/big"
	"sync"

	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"
)

var suite suites.Suite = suites.MustFind("Ed25519")

// Randomness drives faulty behavior and primary election.
type Randomness interface {
	Bool() bool
	IntN(n int) int
}

type streamRandomness struct {
	mu     sync.Mutex
	stream cipher.Stream
}

// NewRandomness returns a Randomness backed by the Ed25519 suite's random
// stream. It is safe for concurrent use.
func NewRandomness() Randomness {
	return &streamRandomness{stream: suite.RandomStream()}
}

func (r *streamRandomness) Bool() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return random.Bits(1, false, r.stream)[0]&1 == 1
}

// IntN returns a uniform value in [0, n). It panics if n <= 0.
func (r *streamRandomness) IntN(n int) int {
	if n <= 0 {
		panic("consensus: IntN with non-positive bound")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// random.Int never yields 0, so draw from [1, n] and shift down.
	return int(random.Int(big.NewInt(int64(n)+1), r.stream).Int64()) - 1
}
