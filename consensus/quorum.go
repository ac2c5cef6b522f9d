package consensus

// QuorumFeasible reports whether a round may run with faulty generals out
// of total, i.e. 3f+1 <= n.
func QuorumFeasible(faulty, total int) bool {
	return 3*faulty+1 <= total
}

// MaxFaulty is the largest f that n generals can tolerate.
func MaxFaulty(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}

// tally counts true and false votes.
func tally(votes []bool) (yes, no int) {
	for _, v := range votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

// majority is true only when true votes strictly exceed false ones.
func majority(votes []bool) bool {
	yes, no := tally(votes)
	return yes > no
}
