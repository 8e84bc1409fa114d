package domain

import "math"

const (
	// Gravity is the exponent controlling how fast the trending score of an
	// ageing post decays.
	Gravity = 1.2

	// PostsPerPage is the fixed window size for discovery pages and feeds.
	PostsPerPage = 20
)

// Score computes the trending score of a post from its vote count and age.
//
// The vote count is reduced by one so a fresh post with a single vote does
// not dominate; zero-vote posts therefore score negative and sink below
// everything with votes. The +4 offset keeps the denominator sane for
// just-published posts, and the constant factor only scales the result into
// a readable range without affecting order.
func Score(voteCount int, ageSeconds, gravity float64) float64 {
	return float64(voteCount-1) / math.Pow(ageSeconds+4, gravity) * 100000
}
