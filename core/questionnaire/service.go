package questionnaire

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/user"
)

var (
	ErrNotFound         = core.NewNotFoundError("questionnaire")
	ErrHasResponses     = errors.New("questions cannot be changed once responses exist")
	ErrNotPublished     = errors.New("the questionnaire is not published")
	ErrAlreadySubmitted = errors.New("you already answered this questionnaire")
)

type (
	Repository interface {
		CreateQuestionnaire(ctx context.Context, q Questionnaire, exec ...core.DBExecutor) (Questionnaire, error)
		GetQuestionnaire(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Questionnaire, error)
		QueryQuestionnaires(ctx context.Context, orgID string, filter QueryFilter, exec ...core.DBExecutor) ([]Questionnaire, error)
		UpdateQuestionnaire(ctx context.Context, q Questionnaire, exec ...core.DBExecutor) (Questionnaire, error)
		// DeleteQuestionnaire also deletes the questionnaire's responses.
		DeleteQuestionnaire(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error

		CreateResponse(ctx context.Context, r Response, exec ...core.DBExecutor) (Response, error)
		// QueryResponses lists the responses to a questionnaire, oldest first.
		// An empty respondentID matches every respondent.
		QueryResponses(ctx context.Context, orgID, questionnaireID, respondentID string, exec ...core.DBExecutor) ([]Response, error)
		CountResponses(ctx context.Context, orgID, questionnaireID string, exec ...core.DBExecutor) (int, error)
	}

	Courses interface {
		GetInOrg(ctx context.Context, orgID, id string) (course.Course, error)
		IsEnrolled(ctx context.Context, orgID, courseID, studentID string) (bool, error)
		EnrolledCourseIDs(ctx context.Context, orgID, studentID string) ([]string, error)
		TrainedCourseIDs(ctx context.Context, orgID, trainerID string) ([]string, error)
	}

	Service struct {
		repo    Repository
		courses Courses
		events  core.EventPublisher
		logger  core.Logger
	}
)

func NewService(repo Repository, courses Courses, logger core.Logger) *Service {
	return &Service{repo: repo, courses: courses, logger: logger}
}

// SetPublisher sets where domain events are published.
func (svc *Service) SetPublisher(pub core.EventPublisher) { svc.events = pub }

// canManage tells whether actor may edit q and read its responses:
// admins, and the trainers of q's course.
func (svc *Service) canManage(ctx context.Context, actor user.User, orgID, courseID string) (bool, error) {
	if actor.OrganizationID != orgID {
		return false, nil
	}
	if actor.IsAdmin() {
		return true, nil
	}
	if courseID == "" {
		return false, nil
	}
	c, err := svc.courses.GetInOrg(ctx, orgID, courseID)
	if err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return c.HasTrainer(actor.ID), nil
}

func assignQuestionIDs(qs []Question) {
	for i := range qs {
		qs[i].Position = i + 1
		if qs[i].ID == "" {
			qs[i].ID = uuid.New().String()
		}
	}
}

// Create creates a validated NewQuestionnaire. Organization-wide questionnaires are created by admins,
// course ones by admins and the course's trainers.
func (svc *Service) Create(ctx context.Context, actor user.User, nq NewQuestionnaire) (Questionnaire, error) {
	if nq.CourseID != "" {
		if _, err := svc.courses.GetInOrg(ctx, actor.OrganizationID, nq.CourseID); err != nil {
			if errors.Cause(err) == course.ErrNotFound {
				return Questionnaire{}, core.NewFieldError("course_id", "course not found")
			}
			return Questionnaire{}, err
		}
	}
	ok, err := svc.canManage(ctx, actor, actor.OrganizationID, nq.CourseID)
	if err != nil {
		return Questionnaire{}, err
	}
	if !ok {
		return Questionnaire{}, core.ErrPermissionDenied
	}

	assignQuestionIDs(nq.Questions)
	now := time.Now().UTC()
	q, err := svc.repo.CreateQuestionnaire(ctx, Questionnaire{
		OrganizationID: actor.OrganizationID,
		CourseID:       nq.CourseID,
		Title:          nq.Title,
		Description:    nq.Description,
		AllowMultiple:  nq.AllowMultiple,
		Questions:      nq.Questions,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return q, errors.Wrap(err, "creating questionnaire")
}

// getManaged returns the questionnaire if actor may manage it.
func (svc *Service) getManaged(ctx context.Context, actor user.User, id string) (Questionnaire, error) {
	q, err := svc.repo.GetQuestionnaire(ctx, actor.OrganizationID, id)
	if err != nil {
		return Questionnaire{}, err
	}
	ok, err := svc.canManage(ctx, actor, q.OrganizationID, q.CourseID)
	if err != nil {
		return Questionnaire{}, err
	}
	if !ok {
		return Questionnaire{}, core.ErrPermissionDenied
	}
	return q, nil
}

// Update applies a validated UpdateQuestionnaire. Questions may only be replaced while there are no responses.
func (svc *Service) Update(ctx context.Context, actor user.User, id string, uq UpdateQuestionnaire) (Questionnaire, error) {
	q, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Questionnaire{}, err
	}

	if uq.Title != "" {
		q.Title = uq.Title
	}
	if uq.Description != nil {
		q.Description = *uq.Description
	}
	if uq.AllowMultiple != nil {
		q.AllowMultiple = *uq.AllowMultiple
	}
	if uq.Questions != nil {
		n, err := svc.repo.CountResponses(ctx, q.OrganizationID, q.ID)
		if err != nil {
			return Questionnaire{}, errors.Wrap(err, "counting responses")
		}
		if n > 0 {
			return Questionnaire{}, core.NewValidationError(ErrHasResponses, core.FieldError{Field: "questions", Error: ErrHasResponses.Error()})
		}
		assignQuestionIDs(uq.Questions)
		q.Questions = uq.Questions
	}
	q.UpdatedAt = time.Now().UTC()
	q, err = svc.repo.UpdateQuestionnaire(ctx, q)
	return q, errors.Wrap(err, "updating questionnaire")
}

// SetPublished publishes or unpublishes a questionnaire.
func (svc *Service) SetPublished(ctx context.Context, actor user.User, id string, published bool) (Questionnaire, error) {
	q, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Questionnaire{}, err
	}
	if q.IsPublished == published {
		return q, nil
	}
	q.IsPublished = published
	q.UpdatedAt = time.Now().UTC()
	q, err = svc.repo.UpdateQuestionnaire(ctx, q)
	return q, errors.Wrap(err, "updating questionnaire")
}

func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	q, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteQuestionnaire(ctx, q.OrganizationID, q.ID), "deleting questionnaire")
}

// visibility holds what a non-admin user may see.
type visibility struct {
	trained  map[string]bool
	enrolled map[string]bool
}

func (svc *Service) visibilityOf(ctx context.Context, actor user.User) (visibility, error) {
	v := visibility{trained: make(map[string]bool), enrolled: make(map[string]bool)}
	trained, err := svc.courses.TrainedCourseIDs(ctx, actor.OrganizationID, actor.ID)
	if err != nil {
		return v, errors.Wrap(err, "listing trained courses")
	}
	for _, id := range trained {
		v.trained[id] = true
	}
	enrolled, err := svc.courses.EnrolledCourseIDs(ctx, actor.OrganizationID, actor.ID)
	if err != nil {
		return v, errors.Wrap(err, "listing enrolled courses")
	}
	for _, id := range enrolled {
		v.enrolled[id] = true
	}
	return v, nil
}

// sees tells whether a non-admin may see q: trainers see their courses' questionnaires,
// other members the published ones addressed to them.
func (v visibility) sees(q Questionnaire) bool {
	if q.CourseID != "" && v.trained[q.CourseID] {
		return true
	}
	if !q.IsPublished {
		return false
	}
	return q.CourseID == "" || v.enrolled[q.CourseID]
}

func (svc *Service) List(ctx context.Context, actor user.User, filter QueryFilter) ([]Questionnaire, error) {
	qs, err := svc.repo.QueryQuestionnaires(ctx, actor.OrganizationID, filter)
	if err != nil || actor.IsAdmin() {
		return qs, err
	}

	v, err := svc.visibilityOf(ctx, actor)
	if err != nil {
		return nil, err
	}
	visible := make([]Questionnaire, 0, len(qs))
	for _, q := range qs {
		if v.sees(q) {
			visible = append(visible, q)
		}
	}
	return visible, nil
}

// Get returns the questionnaire if it is visible to actor, ErrNotFound otherwise.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Questionnaire, error) {
	q, err := svc.repo.GetQuestionnaire(ctx, actor.OrganizationID, id)
	if err != nil || actor.IsAdmin() {
		return q, err
	}
	v, err := svc.visibilityOf(ctx, actor)
	if err != nil {
		return Questionnaire{}, err
	}
	if !v.sees(q) {
		return Questionnaire{}, ErrNotFound
	}
	return q, nil
}

// Submit records actor's validated answers to a published questionnaire.
// Course questionnaires are answered by the course's active students, others by any member.
func (svc *Service) Submit(ctx context.Context, actor user.User, id string, sr SubmitResponse) (Response, error) {
	q, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Response{}, err
	}
	if !q.IsPublished {
		return Response{}, core.NewValidationError(ErrNotPublished)
	}
	if q.CourseID != "" {
		enrolled, err := svc.courses.IsEnrolled(ctx, q.OrganizationID, q.CourseID, actor.ID)
		if err != nil {
			return Response{}, errors.Wrap(err, "checking enrollment")
		}
		if !enrolled {
			return Response{}, core.ErrPermissionDenied
		}
	}
	if !q.AllowMultiple {
		prev, err := svc.repo.QueryResponses(ctx, q.OrganizationID, q.ID, actor.ID)
		if err != nil {
			return Response{}, errors.Wrap(err, "querying responses")
		}
		if len(prev) > 0 {
			return Response{}, core.NewValidationError(ErrAlreadySubmitted)
		}
	}

	answers, err := CheckAnswers(q, sr.Answers)
	if err != nil {
		return Response{}, err
	}
	r, err := svc.repo.CreateResponse(ctx, Response{
		OrganizationID:  q.OrganizationID,
		QuestionnaireID: q.ID,
		RespondentID:    actor.ID,
		Answers:         answers,
		Score:           Score(q, answers),
		SubmittedAt:     time.Now().UTC(),
	})
	if err != nil {
		return Response{}, errors.Wrap(err, "creating response")
	}

	data := map[string]interface{}{
		"questionnaire": map[string]interface{}{
			"id":    q.ID,
			"title": q.Title,
		},
		"response_id":   r.ID,
		"respondent_id": actor.ID,
	}
	if r.Score != nil {
		data["score"] = *r.Score
	}
	core.PublishEvent(ctx, svc.events, svc.logger, core.Event{
		Key:            core.EventQuestionnaireResponseAdded + ":" + r.ID,
		OrganizationID: q.OrganizationID,
		Type:           core.EventQuestionnaireResponseAdded,
		ActorID:        actor.ID,
		CourseID:       q.CourseID,
		RecipientIDs:   []string{q.CreatedBy},
		Data:           data,
	})
	return r, nil
}

// ListResponses lists the responses to a questionnaire. Admins and the course's trainers only.
func (svc *Service) ListResponses(ctx context.Context, actor user.User, id string) ([]Response, error) {
	q, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return svc.repo.QueryResponses(ctx, q.OrganizationID, q.ID, "")
}

// Summarize aggregates the responses to a questionnaire. Admins and the course's trainers only.
func (svc *Service) Summarize(ctx context.Context, actor user.User, id string) (Summary, error) {
	q, err := svc.getManaged(ctx, actor, id)
	if err != nil {
		return Summary{}, err
	}
	responses, err := svc.repo.QueryResponses(ctx, q.OrganizationID, q.ID, "")
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying responses")
	}
	return Summarize(q, responses), nil
}

// CheckAnswers validates answers against q's questions and returns them in question order.
// Empty answers to optional questions are dropped.
func CheckAnswers(q Questionnaire, answers []Answer) ([]Answer, error) {
	byQuestion := make(map[string]Answer, len(answers))
	var flds []core.FieldError
	for i, a := range answers {
		if _, dup := byQuestion[a.QuestionID]; dup {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("answers[%d].question_id", i), Error: "duplicate answer"})
			continue
		}
		byQuestion[a.QuestionID] = a
	}

	known := make(map[string]bool, len(q.Questions))
	out := make([]Answer, 0, len(answers))
	for _, qu := range q.Questions {
		known[qu.ID] = true
		field := "answers." + qu.ID
		a, ok := byQuestion[qu.ID]
		if !ok || a.isEmpty() {
			if qu.Required {
				flds = append(flds, core.FieldError{Field: field, Error: "this question is required"})
			}
			continue
		}

		switch qu.Kind {
		case KindText:
			if len(a.Choices) > 0 || a.Rating != 0 {
				flds = append(flds, core.FieldError{Field: field, Error: "a text answer is expected"})
				continue
			}
		case KindRating:
			if a.Rating < MinRating || a.Rating > MaxRating {
				flds = append(flds, core.FieldError{Field: field, Error: fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating)})
				continue
			}
		case KindSingleChoice, KindMultipleChoice:
			if a.Text != "" || a.Rating != 0 {
				flds = append(flds, core.FieldError{Field: field, Error: "choices are expected"})
				continue
			}
			if qu.Kind == KindSingleChoice && len(a.Choices) != 1 {
				flds = append(flds, core.FieldError{Field: field, Error: "exactly one choice is expected"})
				continue
			}
			if msg := checkChoices(a.Choices, len(qu.Options)); msg != "" {
				flds = append(flds, core.FieldError{Field: field, Error: msg})
				continue
			}
			a.Choices = sortedInts(a.Choices)
		}
		out = append(out, a)
	}

	for qid := range byQuestion {
		if !known[qid] {
			flds = append(flds, core.FieldError{Field: "answers." + qid, Error: "unknown question"})
		}
	}
	if len(flds) > 0 {
		sort.SliceStable(flds, func(i, j int) bool { return flds[i].Field < flds[j].Field })
		return nil, core.NewValidationError(errors.New("invalid answers"), flds...)
	}
	return out, nil
}

func checkChoices(choices []int, nOptions int) string {
	seen := make(map[int]bool, len(choices))
	for _, c := range choices {
		if c < 0 || c >= nOptions {
			return "choice out of range"
		}
		if seen[c] {
			return "duplicate choice"
		}
		seen[c] = true
	}
	return ""
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

func sameInts(a, b []int) bool {
	a, b = sortedInts(a), sortedInts(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Score returns the share of q's gradable questions answered exactly right, rounded to two decimals.
// It returns nil when q has no gradable question.
func Score(q Questionnaire, answers []Answer) *float64 {
	byQuestion := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	var gradable, correct int
	for _, qu := range q.Questions {
		if !qu.IsGradable() {
			continue
		}
		gradable++
		if a, ok := byQuestion[qu.ID]; ok && sameInts(a.Choices, qu.CorrectOptions) {
			correct++
		}
	}
	if gradable == 0 {
		return nil
	}
	score := round2(float64(correct) / float64(gradable))
	return &score
}

// Summarize aggregates responses per question.
func Summarize(q Questionnaire, responses []Response) Summary {
	sum := Summary{
		QuestionnaireID: q.ID,
		Responses:       len(responses),
		Questions:       make([]QuestionSummary, len(q.Questions)),
	}
	index := make(map[string]int, len(q.Questions))
	ratings := make([]int, len(q.Questions))
	for i, qu := range q.Questions {
		index[qu.ID] = i
		qs := QuestionSummary{QuestionID: qu.ID, Prompt: qu.Prompt, Kind: qu.Kind}
		if qu.isChoice() {
			qs.OptionCounts = make([]int, len(qu.Options))
		}
		if qu.IsGradable() {
			qs.Correct = new(int)
		}
		sum.Questions[i] = qs
	}

	var (
		scored   int
		scoreSum float64
	)
	for _, r := range responses {
		if r.Score != nil {
			scored++
			scoreSum += *r.Score
		}
		for _, a := range r.Answers {
			i, ok := index[a.QuestionID]
			if !ok {
				continue
			}
			qu, qs := q.Questions[i], &sum.Questions[i]
			qs.Answered++
			switch qu.Kind {
			case KindRating:
				ratings[i] += a.Rating
			case KindSingleChoice, KindMultipleChoice:
				for _, c := range a.Choices {
					if c >= 0 && c < len(qs.OptionCounts) {
						qs.OptionCounts[c]++
					}
				}
				if qs.Correct != nil && sameInts(a.Choices, qu.CorrectOptions) {
					*qs.Correct++
				}
			}
		}
	}

	for i, qu := range q.Questions {
		if qu.Kind == KindRating && sum.Questions[i].Answered > 0 {
			avg := round2(float64(ratings[i]) / float64(sum.Questions[i].Answered))
			sum.Questions[i].AverageRating = &avg
		}
	}
	if scored > 0 {
		avg := round2(scoreSum / float64(scored))
		sum.AverageScore = &avg
	}
	return sum
}
