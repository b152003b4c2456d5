package quiz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fiveQuestionRubric() *Rubric {
	return &Rubric{
		CorrectOptions: map[int]int{0: 2, 1: 0, 2: 1, 3: 3, 4: 0},
		PassPercent:    60,
		MinCodeLength:  50,
	}
}

func TestEvaluateScoresPercentageOfCorrectAnswers(t *testing.T) {
	rubric := fiveQuestionRubric()
	submission := &Submission{
		Answers: map[int]int{0: 2, 1: 0, 2: 1, 3: 0, 4: 1},
		Code:    strings.Repeat("x", 64),
	}

	result := Evaluate(submission, rubric)
	assert.Equal(t, 60, result.Score)
	assert.True(t, result.Passed)
}

func TestEvaluateRequiresBothThresholds(t *testing.T) {
	rubric := fiveQuestionRubric()

	// 3/5 correct meets the percentage bar but the ten-character answer is below the
	// freeform minimum; both conditions are required
	submission := &Submission{
		Answers: map[int]int{0: 2, 1: 0, 2: 1, 3: 0, 4: 1},
		Code:    "short code",
	}

	result := Evaluate(submission, rubric)
	assert.Equal(t, 60, result.Score)
	assert.False(t, result.Passed)
}

func TestEvaluateFailsBelowPassPercent(t *testing.T) {
	rubric := fiveQuestionRubric()
	submission := &Submission{
		Answers: map[int]int{0: 2, 1: 0},
		Code:    strings.Repeat("x", 64),
	}

	result := Evaluate(submission, rubric)
	assert.Equal(t, 40, result.Score)
	assert.False(t, result.Passed)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	rubric := fiveQuestionRubric()
	submission := &Submission{
		Answers: map[int]int{0: 2, 1: 0, 2: 1, 3: 3, 4: 0},
		Code:    strings.Repeat("y", 128),
	}

	first := Evaluate(submission, rubric)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(submission, rubric))
	}
}

func TestEvaluateHonorsPerRubricThresholds(t *testing.T) {
	rubric := &Rubric{
		CorrectOptions: map[int]int{0: 1, 1: 1},
		PassPercent:    100,
		MinCodeLength:  1,
	}

	result := Evaluate(&Submission{Answers: map[int]int{0: 1, 1: 0}, Code: "z"}, rubric)
	assert.Equal(t, 50, result.Score)
	assert.False(t, result.Passed)

	result = Evaluate(&Submission{Answers: map[int]int{0: 1, 1: 1}, Code: "z"}, rubric)
	assert.Equal(t, 100, result.Score)
	assert.True(t, result.Passed)
}

func TestEvaluateEmptyRubricNeverPasses(t *testing.T) {
	result := Evaluate(&Submission{Code: strings.Repeat("x", 100)}, &Rubric{PassPercent: 0, MinCodeLength: 0})
	assert.False(t, result.Passed)
	assert.Zero(t, result.Score)
}
