package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/m3rciful/mchatbot/internal/domain"
)

func answer(n int, v domain.AnswerValue) domain.Answer {
	return domain.Answer{QuestionNumber: n, Value: v}
}

func TestScoreReverseScoredQuestions(t *testing.T) {
	answers := []domain.Answer{
		answer(1, domain.AnswerNo),  // +1
		answer(2, domain.AnswerYes), // reverse: +1
		answer(3, domain.AnswerYes), // 0
		answer(5, domain.AnswerNo),  // reverse: 0
		answer(12, domain.AnswerYes), // reverse: +1
	}
	assert.Equal(t, 3, Score(answers, DefaultReverseScored))
}

func TestScoreOrderIndependent(t *testing.T) {
	answers := make([]domain.Answer, 0, 20)
	for n := 1; n <= 20; n++ {
		v := domain.AnswerNo
		if n%3 == 0 {
			v = domain.AnswerYes
		}
		answers = append(answers, answer(n, v))
	}
	want := Score(answers, DefaultReverseScored)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		rng.Shuffle(len(answers), func(a, b int) {
			answers[a], answers[b] = answers[b], answers[a]
		})
		assert.Equal(t, want, Score(answers, DefaultReverseScored))
	}
}

func TestScoreIncompleteAnswerList(t *testing.T) {
	assert.Equal(t, 0, Score(nil, DefaultReverseScored))
	assert.Equal(t, 1, Score([]domain.Answer{answer(7, domain.AnswerNo)}, DefaultReverseScored))
}

// A child answered "yes" everywhere except the reverse-scored questions:
// the perfect pass, score zero.
func TestScorePerfectPass(t *testing.T) {
	answers := make([]domain.Answer, 0, 20)
	for n := 1; n <= 20; n++ {
		v := domain.AnswerYes
		if n == 2 || n == 5 || n == 12 {
			v = domain.AnswerNo
		}
		answers = append(answers, answer(n, v))
	}
	assert.Equal(t, 0, Score(answers, DefaultReverseScored))
}

// The mirror image of the perfect pass yields the maximum score.
func TestScoreMaximum(t *testing.T) {
	answers := make([]domain.Answer, 0, 20)
	for n := 1; n <= 20; n++ {
		v := domain.AnswerNo
		if n == 2 || n == 5 || n == 12 {
			v = domain.AnswerYes
		}
		answers = append(answers, answer(n, v))
	}
	assert.Equal(t, 20, Score(answers, DefaultReverseScored))
}

// Non-label text folds to "no" upstream, so a user typing "english please"
// at every question scores a point per regular question and none on the
// reverse-scored three.
func TestScoreAllFoldedToNo(t *testing.T) {
	answers := make([]domain.Answer, 0, 20)
	for n := 1; n <= 20; n++ {
		answers = append(answers, answer(n, domain.AnswerNo))
	}
	assert.Equal(t, 17, Score(answers, DefaultReverseScored))
}

// Two questions with number 2 reverse-scored: "no" then "yes" scores both.
func TestScoreTwoQuestionAttempt(t *testing.T) {
	answers := []domain.Answer{
		answer(1, domain.AnswerNo),
		answer(2, domain.AnswerYes),
	}
	score := Score(answers, DefaultReverseScored)
	assert.Equal(t, 2, score)
	assert.Equal(t, domain.RiskLow, Tier(score, DefaultLowMax, DefaultMediumMax))
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  domain.RiskTier
	}{
		{0, domain.RiskLow},
		{2, domain.RiskLow},
		{3, domain.RiskMedium},
		{7, domain.RiskMedium},
		{8, domain.RiskHigh},
		{20, domain.RiskHigh},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, Tier(tc.score, DefaultLowMax, DefaultMediumMax), "score=%d", tc.score)
	}
}

func TestTierConfigurableBounds(t *testing.T) {
	assert.Equal(t, domain.RiskLow, Tier(4, 4, 9))
	assert.Equal(t, domain.RiskMedium, Tier(5, 4, 9))
	assert.Equal(t, domain.RiskHigh, Tier(10, 4, 9))
}
