package questionnaire

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
)

func testQuestionnaire() Questionnaire {
	return Questionnaire{
		ID: "q",
		Questions: []Question{
			{ID: "name", Kind: KindText, Prompt: "Name?", Required: true},
			{ID: "capital", Kind: KindSingleChoice, Prompt: "Capital of Kenya?", Options: []string{"Mombasa", "Nairobi"}, CorrectOptions: []int{1}},
			{ID: "primes", Kind: KindMultipleChoice, Prompt: "Primes?", Options: []string{"2", "4", "5", "9"}, CorrectOptions: []int{0, 2}},
			{ID: "rating", Kind: KindRating, Prompt: "How was it?"},
		},
	}
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestCheckAnswers(t *testing.T) {
	q := testQuestionnaire()

	tests := []struct {
		name       string
		answers    []Answer
		wantFields []string
	}{
		{
			name: "valid",
			answers: []Answer{
				{QuestionID: "rating", Rating: 4},
				{QuestionID: "name", Text: "Jane"},
				{QuestionID: "primes", Choices: []int{2, 0}},
			},
		},
		{
			name:       "missing required",
			answers:    []Answer{{QuestionID: "rating", Rating: 3}},
			wantFields: []string{"answers.name"},
		},
		{
			name: "out of range",
			answers: []Answer{
				{QuestionID: "name", Text: "Jane"},
				{QuestionID: "capital", Choices: []int{2}},
				{QuestionID: "rating", Rating: 6},
			},
			wantFields: []string{"answers.capital", "answers.rating"},
		},
		{
			name: "single choice needs exactly one",
			answers: []Answer{
				{QuestionID: "name", Text: "Jane"},
				{QuestionID: "capital", Choices: []int{0, 1}},
			},
			wantFields: []string{"answers.capital"},
		},
		{
			name: "unknown question",
			answers: []Answer{
				{QuestionID: "name", Text: "Jane"},
				{QuestionID: "nope", Text: "?"},
			},
			wantFields: []string{"answers.nope"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := CheckAnswers(q, tc.answers)
			if tc.wantFields == nil {
				require.NoError(t, err)
				require.Len(t, out, 3)
				assert.Equal(t, "name", out[0].QuestionID)
				assert.Equal(t, []int{0, 2}, out[1].Choices)
				assert.Equal(t, "rating", out[2].QuestionID)
				return
			}
			assert.Equal(t, tc.wantFields, fieldNames(t, err))
		})
	}
}

func TestScore(t *testing.T) {
	q := testQuestionnaire()

	tests := []struct {
		name    string
		answers []Answer
		want    float64
	}{
		{"all right", []Answer{{QuestionID: "capital", Choices: []int{1}}, {QuestionID: "primes", Choices: []int{2, 0}}}, 1},
		{"half right", []Answer{{QuestionID: "capital", Choices: []int{1}}, {QuestionID: "primes", Choices: []int{0}}}, 0.5},
		{"unanswered", nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score := Score(q, tc.answers)
			require.NotNil(t, score)
			assert.Equal(t, tc.want, *score)
		})
	}

	t.Run("thirds are rounded", func(t *testing.T) {
		q := Questionnaire{Questions: []Question{
			{ID: "a", Kind: KindSingleChoice, Options: []string{"x", "y"}, CorrectOptions: []int{0}},
			{ID: "b", Kind: KindSingleChoice, Options: []string{"x", "y"}, CorrectOptions: []int{0}},
			{ID: "c", Kind: KindSingleChoice, Options: []string{"x", "y"}, CorrectOptions: []int{0}},
		}}
		score := Score(q, []Answer{{QuestionID: "a", Choices: []int{0}}, {QuestionID: "b", Choices: []int{0}}})
		require.NotNil(t, score)
		assert.Equal(t, 0.67, *score)
	})

	t.Run("nothing gradable", func(t *testing.T) {
		q := Questionnaire{Questions: []Question{{ID: "a", Kind: KindText}}}
		assert.Nil(t, Score(q, []Answer{{QuestionID: "a", Text: "hi"}}))
	})
}

func TestSummarize(t *testing.T) {
	q := testQuestionnaire()
	one, half := 1.0, 0.5
	responses := []Response{
		{Answers: []Answer{{QuestionID: "capital", Choices: []int{1}}, {QuestionID: "primes", Choices: []int{0, 2}}, {QuestionID: "rating", Rating: 5}}, Score: &one},
		{Answers: []Answer{{QuestionID: "capital", Choices: []int{1}}, {QuestionID: "primes", Choices: []int{0}}, {QuestionID: "rating", Rating: 2}}, Score: &half},
	}

	sum := Summarize(q, responses)
	assert.Equal(t, 2, sum.Responses)
	require.NotNil(t, sum.AverageScore)
	assert.Equal(t, 0.75, *sum.AverageScore)

	capital := sum.Questions[1]
	assert.Equal(t, []int{0, 2}, capital.OptionCounts)
	require.NotNil(t, capital.Correct)
	assert.Equal(t, 2, *capital.Correct)

	primes := sum.Questions[2]
	assert.Equal(t, []int{2, 0, 1, 0}, primes.OptionCounts)
	assert.Equal(t, 1, *primes.Correct)

	rating := sum.Questions[3]
	assert.Equal(t, 2, rating.Answered)
	require.NotNil(t, rating.AverageRating)
	assert.Equal(t, 3.5, *rating.AverageRating)
	assert.Nil(t, sum.Questions[0].AverageRating)
}

func TestCheckQuestions(t *testing.T) {
	err := checkQuestions([]Question{
		{Kind: KindSingleChoice, Prompt: "a", Options: []string{"x"}},
		{Kind: KindText, Prompt: "b", Options: []string{"x", "y"}},
		{Kind: KindSingleChoice, Prompt: "c", Options: []string{"x", "y"}, CorrectOptions: []int{0, 1}},
		{Kind: KindMultipleChoice, Prompt: "d", Options: []string{"x", "y"}, CorrectOptions: []int{2}},
		{Kind: KindRating, Prompt: "e", CorrectOptions: []int{1}},
	})
	assert.Equal(t, []string{
		"questions[0].options",
		"questions[1].options",
		"questions[2].correct_options",
		"questions[3].correct_options",
		"questions[4].correct_options",
	}, fieldNames(t, err))
}
