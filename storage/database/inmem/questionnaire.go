package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/questionnaire"
)

type questionnaireRepository struct {
	db *DB
}

var _ questionnaire.Repository = (*questionnaireRepository)(nil) // interface compliance check

func NewQuestionnaireRepository(db *DB) *questionnaireRepository {
	return &questionnaireRepository{db: db}
}

func cloneQuestionnaire(q *questionnaire.Questionnaire) questionnaire.Questionnaire {
	c := *q
	c.Questions = make([]questionnaire.Question, len(q.Questions))
	for i, qn := range q.Questions {
		qn.Options = cloneStrings(qn.Options)
		qn.CorrectOptions = append([]int(nil), qn.CorrectOptions...)
		c.Questions[i] = qn
	}
	return c
}

func cloneResponse(r *questionnaire.Response) questionnaire.Response {
	c := *r
	c.Answers = make([]questionnaire.Answer, len(r.Answers))
	for i, a := range r.Answers {
		a.Choices = append([]int(nil), a.Choices...)
		c.Answers[i] = a
	}
	if r.Score != nil {
		s := *r.Score
		c.Score = &s
	}
	return c
}

func (repo *questionnaireRepository) CreateQuestionnaire(_ context.Context, q questionnaire.Questionnaire, _ ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	q.ID = newID()
	stored := cloneQuestionnaire(&q)
	repo.db.questionnaires[q.ID] = &stored
	return cloneQuestionnaire(&stored), nil
}

func (repo *questionnaireRepository) GetQuestionnaire(_ context.Context, orgID, id string, _ ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	q, ok := repo.db.questionnaires[id]
	if !ok || q.OrganizationID != orgID {
		return questionnaire.Questionnaire{}, questionnaire.ErrNotFound
	}
	return cloneQuestionnaire(q), nil
}

func (repo *questionnaireRepository) QueryQuestionnaires(_ context.Context, orgID string, filter questionnaire.QueryFilter, _ ...core.DBExecutor) ([]questionnaire.Questionnaire, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	qs := make([]questionnaire.Questionnaire, 0)
	for _, q := range repo.db.questionnaires {
		switch {
		case q.OrganizationID != orgID:
		case filter.CourseID != "" && q.CourseID != filter.CourseID:
		case filter.IsPublished != nil && q.IsPublished != *filter.IsPublished:
		default:
			qs = append(qs, cloneQuestionnaire(q))
		}
	}
	orderBy(qs, nil, core.DBOrdering{Field: "created_at"}, func(a, b questionnaire.Questionnaire, _ string) int {
		if c := compareTimes(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return qs, nil
}

func (repo *questionnaireRepository) UpdateQuestionnaire(_ context.Context, q questionnaire.Questionnaire, _ ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.questionnaires[q.ID]
	if !ok || old.OrganizationID != q.OrganizationID {
		return questionnaire.Questionnaire{}, questionnaire.ErrNotFound
	}
	stored := cloneQuestionnaire(&q)
	repo.db.questionnaires[q.ID] = &stored
	return cloneQuestionnaire(&stored), nil
}

func (repo *questionnaireRepository) DeleteQuestionnaire(_ context.Context, orgID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	q, ok := repo.db.questionnaires[id]
	if !ok || q.OrganizationID != orgID {
		return questionnaire.ErrNotFound
	}
	repo.db.deleteQuestionnaire(id)
	return nil
}

// deleteQuestionnaire removes a questionnaire and its responses. The caller holds the lock.
func (db *DB) deleteQuestionnaire(id string) {
	delete(db.questionnaires, id)
	for rid, r := range db.responses {
		if r.QuestionnaireID == id {
			delete(db.responses, rid)
		}
	}
}

func (repo *questionnaireRepository) CreateResponse(_ context.Context, r questionnaire.Response, _ ...core.DBExecutor) (questionnaire.Response, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.questionnaires[r.QuestionnaireID]; !ok {
		return questionnaire.Response{}, questionnaire.ErrNotFound
	}
	r.ID = newID()
	stored := cloneResponse(&r)
	repo.db.responses[r.ID] = &stored
	return cloneResponse(&stored), nil
}

func (repo *questionnaireRepository) QueryResponses(_ context.Context, orgID, questionnaireID, respondentID string, _ ...core.DBExecutor) ([]questionnaire.Response, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	responses := make([]questionnaire.Response, 0)
	for _, r := range repo.db.responses {
		switch {
		case r.OrganizationID != orgID || r.QuestionnaireID != questionnaireID:
		case respondentID != "" && r.RespondentID != respondentID:
		default:
			responses = append(responses, cloneResponse(r))
		}
	}
	orderBy(responses, nil, core.DBOrdering{Field: "submitted_at", Ascending: true}, func(a, b questionnaire.Response, _ string) int {
		if c := compareTimes(a.SubmittedAt, b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return responses, nil
}

func (repo *questionnaireRepository) CountResponses(_ context.Context, orgID, questionnaireID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var cnt int
	for _, r := range repo.db.responses {
		if r.OrganizationID == orgID && r.QuestionnaireID == questionnaireID {
			cnt++
		}
	}
	return cnt, nil
}
