package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/questionnaire"
)

const (
	questionnaireColumns = `id, organization_id, course_id, title, description, is_published, allow_multiple, questions,
	created_by, created_at, updated_at`
	responseColumns = `id, organization_id, questionnaire_id, respondent_id, answers, score, submitted_at`
)

type questionnaireRow struct {
	ID             string      `boil:"id"`
	OrganizationID string      `boil:"organization_id"`
	CourseID       null.String `boil:"course_id"`
	Title          string      `boil:"title"`
	Description    string      `boil:"description"`
	IsPublished    bool        `boil:"is_published"`
	AllowMultiple  bool        `boil:"allow_multiple"`
	Questions      types.JSON  `boil:"questions"`
	CreatedBy      null.String `boil:"created_by"`
	CreatedAt      time.Time   `boil:"created_at"`
	UpdatedAt      time.Time   `boil:"updated_at"`
}

func (r questionnaireRow) unboil() (questionnaire.Questionnaire, error) {
	q := questionnaire.Questionnaire{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		CourseID:       r.CourseID.String,
		Title:          r.Title,
		Description:    r.Description,
		IsPublished:    r.IsPublished,
		AllowMultiple:  r.AllowMultiple,
		CreatedBy:      r.CreatedBy.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if err := r.Questions.Unmarshal(&q.Questions); err != nil {
		return questionnaire.Questionnaire{}, errors.Wrap(err, "decoding questions")
	}
	return q, nil
}

type responseRow struct {
	ID              string       `boil:"id"`
	OrganizationID  string       `boil:"organization_id"`
	QuestionnaireID string       `boil:"questionnaire_id"`
	RespondentID    string       `boil:"respondent_id"`
	Answers         types.JSON   `boil:"answers"`
	Score           null.Float64 `boil:"score"`
	SubmittedAt     time.Time    `boil:"submitted_at"`
}

func (r responseRow) unboil() (questionnaire.Response, error) {
	resp := questionnaire.Response{
		ID:              r.ID,
		OrganizationID:  r.OrganizationID,
		QuestionnaireID: r.QuestionnaireID,
		RespondentID:    r.RespondentID,
		Score:           r.Score.Ptr(),
		SubmittedAt:     r.SubmittedAt.UTC(),
	}
	if err := r.Answers.Unmarshal(&resp.Answers); err != nil {
		return questionnaire.Response{}, errors.Wrap(err, "decoding answers")
	}
	return resp, nil
}

type questionnaireRepository struct {
	repository
}

var _ questionnaire.Repository = (*questionnaireRepository)(nil) // interface compliance check

func NewQuestionnaireRepository(exec core.DBExecutor) *questionnaireRepository {
	return &questionnaireRepository{repository{exec: exec}}
}

func (repo questionnaireRepository) CreateQuestionnaire(ctx context.Context, q questionnaire.Questionnaire, exec ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	questions, err := toJSON(q.Questions)
	if err != nil {
		return questionnaire.Questionnaire{}, err
	}
	q.ID = newID()
	_, err = queries.Raw(
		`INSERT INTO questionnaires (`+questionnaireColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.OrganizationID, nullString(q.CourseID), q.Title, q.Description, q.IsPublished, q.AllowMultiple,
		questions, nullString(q.CreatedBy), q.CreatedAt.UTC(), q.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return questionnaire.Questionnaire{}, errors.Wrap(err, "inserting questionnaire")
	}
	return q, nil
}

func (repo questionnaireRepository) GetQuestionnaire(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	if !isUUID(id) {
		return questionnaire.Questionnaire{}, questionnaire.ErrNotFound
	}
	var row questionnaireRow
	err := queries.Raw(`SELECT `+questionnaireColumns+` FROM questionnaires WHERE organization_id = $1 AND id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return questionnaire.Questionnaire{}, trapNoRowsErr(err, questionnaire.ErrNotFound, "getting questionnaire")
	}
	return row.unboil()
}

func (repo questionnaireRepository) QueryQuestionnaires(ctx context.Context, orgID string, filter questionnaire.QueryFilter, exec ...core.DBExecutor) ([]questionnaire.Questionnaire, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	if filter.CourseID != "" {
		where.add("course_id::text = ?", filter.CourseID)
	}
	if filter.IsPublished != nil {
		where.add("is_published = ?", *filter.IsPublished)
	}

	q, args, err := in(`SELECT `+questionnaireColumns+` FROM questionnaires`+where.String()+` ORDER BY created_at DESC, id DESC`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []questionnaireRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying questionnaires")
	}
	qs := make([]questionnaire.Questionnaire, 0, len(rows))
	for _, r := range rows {
		qn, err := r.unboil()
		if err != nil {
			return nil, err
		}
		qs = append(qs, qn)
	}
	return qs, nil
}

func (repo questionnaireRepository) UpdateQuestionnaire(ctx context.Context, q questionnaire.Questionnaire, exec ...core.DBExecutor) (questionnaire.Questionnaire, error) {
	questions, err := toJSON(q.Questions)
	if err != nil {
		return questionnaire.Questionnaire{}, err
	}
	res, err := queries.Raw(
		`UPDATE questionnaires SET title = $3, description = $4, is_published = $5, allow_multiple = $6, questions = $7,
			updated_at = $8
		WHERE organization_id = $1 AND id = $2`,
		q.OrganizationID, q.ID, q.Title, q.Description, q.IsPublished, q.AllowMultiple, questions, q.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return questionnaire.Questionnaire{}, errors.Wrap(err, "updating questionnaire")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return questionnaire.Questionnaire{}, questionnaire.ErrNotFound
	}
	return q, nil
}

func (repo questionnaireRepository) DeleteQuestionnaire(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error {
	if !isUUID(id) {
		return questionnaire.ErrNotFound
	}
	res, err := queries.Raw(`DELETE FROM questionnaires WHERE organization_id = $1 AND id = $2`, orgID, id).
		ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return errors.Wrap(err, "deleting questionnaire")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return questionnaire.ErrNotFound
	}
	return nil
}

func (repo questionnaireRepository) CreateResponse(ctx context.Context, r questionnaire.Response, exec ...core.DBExecutor) (questionnaire.Response, error) {
	answers, err := toJSON(r.Answers)
	if err != nil {
		return questionnaire.Response{}, err
	}
	r.ID = newID()
	_, err = queries.Raw(
		`INSERT INTO questionnaire_responses (`+responseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.OrganizationID, r.QuestionnaireID, r.RespondentID, answers, null.Float64FromPtr(r.Score), r.SubmittedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return questionnaire.Response{}, errors.Wrap(err, "inserting response")
	}
	return r, nil
}

func (repo questionnaireRepository) QueryResponses(ctx context.Context, orgID, questionnaireID, respondentID string, exec ...core.DBExecutor) ([]questionnaire.Response, error) {
	if !isUUID(questionnaireID) {
		return []questionnaire.Response{}, nil
	}
	var where whereClause
	where.add("organization_id = ?", orgID)
	where.add("questionnaire_id = ?", questionnaireID)
	if respondentID != "" {
		where.add("respondent_id::text = ?", respondentID)
	}

	q, args, err := in(`SELECT `+responseColumns+` FROM questionnaire_responses`+where.String()+` ORDER BY submitted_at, id`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []responseRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying responses")
	}
	responses := make([]questionnaire.Response, 0, len(rows))
	for _, r := range rows {
		resp, err := r.unboil()
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func (repo questionnaireRepository) CountResponses(ctx context.Context, orgID, questionnaireID string, exec ...core.DBExecutor) (int, error) {
	if !isUUID(questionnaireID) {
		return 0, nil
	}
	var cnt int
	err := queries.Raw(
		`SELECT count(*) FROM questionnaire_responses WHERE organization_id = $1 AND questionnaire_id = $2`,
		orgID, questionnaireID,
	).QueryRowContext(ctx, repo.getExec(exec)).Scan(&cnt)
	return cnt, errors.Wrap(err, "counting responses")
}
