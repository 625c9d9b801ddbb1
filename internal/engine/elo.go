package engine

import "math"

const DefaultK = 32

type Outcome int

const (
	Loss Outcome = iota
	Draw
	Win
)

func (o Outcome) score() float64 {
	switch o {
	case Win:
		return 1
	case Draw:
		return 0.5
	default:
		return 0
	}
}

// Opposite is the outcome seen from the other side of the same match.
func (o Outcome) Opposite() Outcome {
	switch o {
	case Win:
		return Loss
	case Loss:
		return Win
	default:
		return Draw
	}
}

// Expected is the Elo expected score of a player rated ra against rb.
func Expected(ra, rb int) float64 {
	return 1 / (1 + math.Pow(10, float64(rb-ra)/400))
}

// Elo computes both new ratings for one match. outcomeA is A's result.
// Each side is rounded once, half-up, so no fraction carries to the next match.
func Elo(ra, rb int, outcomeA Outcome, k int) (int, int) {
	ea := Expected(ra, rb)
	eb := Expected(rb, ra)
	na := roundHalfUp(float64(ra) + float64(k)*(outcomeA.score()-ea))
	nb := roundHalfUp(float64(rb) + float64(k)*(outcomeA.Opposite().score()-eb))
	return na, nb
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// NextStreak extends a streak in the outcome's direction or restarts it.
// A draw breaks any streak.
func NextStreak(streak int, o Outcome) int {
	switch o {
	case Win:
		if streak > 0 {
			return streak + 1
		}
		return 1
	case Loss:
		if streak < 0 {
			return streak - 1
		}
		return -1
	default:
		return 0
	}
}
