package questionnaire

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Question kinds
const (
	KindText           = "text"
	KindSingleChoice   = "single_choice"
	KindMultipleChoice = "multiple_choice"
	KindRating         = "rating"
)

const (
	MinRating = 1
	MaxRating = 5
)

var Kinds = []string{KindText, KindSingleChoice, KindMultipleChoice, KindRating}

type Questionnaire struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	CourseID       string     `json:"course_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	IsPublished    bool       `json:"is_published"`
	AllowMultiple  bool       `json:"allow_multiple"`
	Questions      []Question `json:"questions"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"` // UTC
	UpdatedAt      time.Time  `json:"updated_at"` // UTC
}

type Question struct {
	ID             string   `json:"id"`
	Position       int      `json:"position"`
	Kind           string   `json:"kind" validate:"required,oneof=text single_choice multiple_choice rating"`
	Prompt         string   `json:"prompt" validate:"required,max=1000"`
	Options        []string `json:"options,omitempty" validate:"omitempty,max=50,dive,required,max=200"`
	Required       bool     `json:"required"`
	CorrectOptions []int    `json:"correct_options,omitempty" validate:"omitempty,dive,min=0"`
}

func (q Question) isChoice() bool {
	return q.Kind == KindSingleChoice || q.Kind == KindMultipleChoice
}

// IsGradable tells whether answers to q can be scored.
func (q Question) IsGradable() bool {
	return q.isChoice() && len(q.CorrectOptions) > 0
}

type Answer struct {
	QuestionID string `json:"question_id" validate:"required"`
	Text       string `json:"text,omitempty" validate:"max=5000"`
	Choices    []int  `json:"choices,omitempty"`
	Rating     int    `json:"rating,omitempty"`
}

func (a Answer) isEmpty() bool {
	return a.Text == "" && len(a.Choices) == 0 && a.Rating == 0
}

type Response struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	QuestionnaireID string    `json:"questionnaire_id"`
	RespondentID    string    `json:"respondent_id"`
	Answers         []Answer  `json:"answers"`
	Score           *float64  `json:"score"`
	SubmittedAt     time.Time `json:"submitted_at"` // UTC
}

// NewQuestionnaire contains information needed to create a new Questionnaire.
// Without CourseID, the questionnaire is addressed to the whole organization.
type NewQuestionnaire struct {
	CourseID      string     `json:"course_id" validate:"omitempty,uuid"`
	Title         string     `json:"title" validate:"required,max=200"`
	Description   string     `json:"description" validate:"max=5000"`
	AllowMultiple bool       `json:"allow_multiple"`
	Questions     []Question `json:"questions" validate:"required,min=1,max=100,dive"`
}

func (nq *NewQuestionnaire) Validate(validate *validator.Validate) error {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	cleanQuestions(nq.Questions)

	if err := validate.Struct(nq); err != nil {
		return err
	}
	return checkQuestions(nq.Questions)
}

// UpdateQuestionnaire defines what information may be provided to modify an existing Questionnaire.
// Questions, when set, replace the current ones.
type UpdateQuestionnaire struct {
	Title         string     `json:"title" validate:"omitempty,max=200"`
	Description   *string    `json:"description" validate:"omitempty,max=5000"`
	AllowMultiple *bool      `json:"allow_multiple"`
	Questions     []Question `json:"questions" validate:"omitempty,min=1,max=100,dive"`
}

func (uq *UpdateQuestionnaire) Validate(validate *validator.Validate) error {
	uq.Title = core.CleanString(uq.Title)
	if uq.Description != nil {
		desc := core.CleanString(*uq.Description)
		uq.Description = &desc
	}
	cleanQuestions(uq.Questions)

	if err := validate.Struct(uq); err != nil {
		return err
	}
	return checkQuestions(uq.Questions)
}

func cleanQuestions(qs []Question) {
	for i := range qs {
		qs[i].Kind = core.CleanString(qs[i].Kind, true /* lower */)
		qs[i].Prompt = core.CleanString(qs[i].Prompt)
		for j := range qs[i].Options {
			qs[i].Options[j] = core.CleanString(qs[i].Options[j])
		}
	}
}

// checkQuestions validates what struct tags cannot: options and correct options against the kind.
func checkQuestions(qs []Question) error {
	var flds []core.FieldError
	for i, q := range qs {
		prefix := fmt.Sprintf("questions[%d].", i)
		if q.isChoice() {
			if len(q.Options) < 2 {
				flds = append(flds, core.FieldError{Field: prefix + "options", Error: "a choice question needs at least 2 options"})
			}
		} else if len(q.Options) > 0 {
			flds = append(flds, core.FieldError{Field: prefix + "options", Error: "only choice questions have options"})
		}

		if len(q.CorrectOptions) == 0 {
			continue
		}
		switch {
		case !q.isChoice():
			flds = append(flds, core.FieldError{Field: prefix + "correct_options", Error: "only choice questions can be graded"})
		case q.Kind == KindSingleChoice && len(q.CorrectOptions) > 1:
			flds = append(flds, core.FieldError{Field: prefix + "correct_options", Error: "a single choice question has one correct option"})
		default:
			for _, idx := range q.CorrectOptions {
				if idx >= len(q.Options) {
					flds = append(flds, core.FieldError{Field: prefix + "correct_options", Error: "option index out of range"})
					break
				}
			}
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New(flds[0].Error), flds...)
	}
	return nil
}

type SubmitResponse struct {
	Answers []Answer `json:"answers" validate:"required,max=100,dive"`
}

func (sr *SubmitResponse) Validate(validate *validator.Validate) error {
	for i := range sr.Answers {
		sr.Answers[i].QuestionID = core.CleanString(sr.Answers[i].QuestionID)
		sr.Answers[i].Text = core.CleanString(sr.Answers[i].Text)
	}
	return validate.Struct(sr)
}

type QueryFilter struct {
	CourseID    string `query:"course_id"`
	IsPublished *bool  `query:"is_published"`
}

// Summary aggregates the responses of a questionnaire.
type Summary struct {
	QuestionnaireID string            `json:"questionnaire_id"`
	Responses       int               `json:"responses"`
	AverageScore    *float64          `json:"average_score"`
	Questions       []QuestionSummary `json:"questions"`
}

type QuestionSummary struct {
	QuestionID    string   `json:"question_id"`
	Prompt        string   `json:"prompt"`
	Kind          string   `json:"kind"`
	Answered      int      `json:"answered"`
	OptionCounts  []int    `json:"option_counts,omitempty"`
	AverageRating *float64 `json:"average_rating,omitempty"`
	Correct       *int     `json:"correct,omitempty"`
}
