package quiz

// Submission is an ephemeral set of answers handed to the evaluator; it is never persisted
type Submission struct {
	// Answers maps question index to the chosen option index
	Answers map[int]int `json:"answers"`

	// Code is the freeform code answer accompanying the multiple-choice items
	Code string `json:"code"`
}

// Rubric designates the correct option per question and carries both pass thresholds
// explicitly; neither threshold is implied
type Rubric struct {
	// CorrectOptions maps question index to the designated correct option index
	CorrectOptions map[int]int `json:"correct_options"`

	// PassPercent is the minimum percentage of correct multiple-choice answers
	PassPercent int `json:"pass_percent"`

	// MinCodeLength is the minimum length of a non-trivial freeform code answer
	MinCodeLength int `json:"min_code_length"`
}

// Result is the outcome of evaluating a submission against a rubric
type Result struct {
	Passed bool `json:"passed"`

	// Score is the percentage of correct multiple-choice answers, 0..100
	Score int `json:"score"`
}

// DefaultRubric returns a rubric for the given answer key with the standard thresholds
func DefaultRubric(correctOptions map[int]int) *Rubric {
	return &Rubric{
		CorrectOptions: correctOptions,
		PassPercent:    60,
		MinCodeLength:  50,
	}
}

// Evaluate scores a submission against a rubric. Pure and deterministic: the same submission
// and rubric always yield the same result. Passing requires both the multiple-choice
// percentage and the freeform answer length to clear their thresholds.
func Evaluate(submission *Submission, rubric *Rubric) *Result {
	total := len(rubric.CorrectOptions)
	if total == 0 {
		return &Result{Passed: false, Score: 0}
	}

	correct := 0
	for question, option := range rubric.CorrectOptions {
		if answer, ok := submission.Answers[question]; ok && answer == option {
			correct++
		}
	}

	score := correct * 100 / total
	passed := score >= rubric.PassPercent && len(submission.Code) >= rubric.MinCodeLength

	return &Result{
		Passed: passed,
		Score:  score,
	}
}
