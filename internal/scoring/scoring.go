// Package scoring implements M-CHAT-R score computation and risk tiering.
// Both functions are pure; configuration decides the reverse-scored set and
// the tier boundaries.
package scoring

import "github.com/m3rciful/mchatbot/internal/domain"

// DefaultReverseScored are the questions where a "yes" indicates risk.
var DefaultReverseScored = []int{2, 5, 12}

// Default tier boundaries: score <= 2 is LOW, 3..7 MEDIUM, 8+ HIGH.
const (
	DefaultLowMax    = 2
	DefaultMediumMax = 7
)

// Score sums one risk point per answer. Questions in reverse score a point
// on "yes"; every other question scores a point on "no". The answer order
// does not matter and the list may be shorter than the questionnaire.
func Score(answers []domain.Answer, reverse []int) int {
	reversed := make(map[int]struct{}, len(reverse))
	for _, n := range reverse {
		reversed[n] = struct{}{}
	}

	score := 0
	for _, a := range answers {
		if _, rev := reversed[a.QuestionNumber]; rev {
			if a.Value == domain.AnswerYes {
				score++
			}
			continue
		}
		if a.Value == domain.AnswerNo {
			score++
		}
	}
	return score
}

// Tier buckets a score into a risk tier using inclusive upper bounds.
func Tier(score, lowMax, mediumMax int) domain.RiskTier {
	switch {
	case score <= lowMax:
		return domain.RiskLow
	case score <= mediumMax:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}
