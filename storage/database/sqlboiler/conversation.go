package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/conversation"
)

const (
	conversationColumns = `c.id, c.organization_id, c.subject, c.course_id, c.created_by, c.last_message_at, c.created_at,
	ARRAY(SELECT cp.user_id::text FROM conversation_participants cp WHERE cp.conversation_id = c.id ORDER BY cp.user_id) AS participant_ids`
	messageColumns = `id, organization_id, conversation_id, sender_id, body, created_at`
)

type conversationRow struct {
	ID             string            `boil:"id"`
	OrganizationID string            `boil:"organization_id"`
	Subject        string            `boil:"subject"`
	CourseID       null.String       `boil:"course_id"`
	CreatedBy      null.String       `boil:"created_by"`
	LastMessageAt  time.Time         `boil:"last_message_at"`
	CreatedAt      time.Time         `boil:"created_at"`
	ParticipantIDs types.StringArray `boil:"participant_ids"`
}

func (r conversationRow) unboil() conversation.Conversation {
	ids := []string(r.ParticipantIDs)
	if ids == nil {
		ids = []string{}
	}
	return conversation.Conversation{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Subject:        r.Subject,
		CourseID:       r.CourseID.String,
		CreatedBy:      r.CreatedBy.String,
		ParticipantIDs: ids,
		LastMessageAt:  r.LastMessageAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type summaryRow struct {
	conversationRow `boil:",bind"`
	Unread          int `boil:"unread"`
}

type messageRow struct {
	ID             string      `boil:"id"`
	OrganizationID string      `boil:"organization_id"`
	ConversationID string      `boil:"conversation_id"`
	SenderID       null.String `boil:"sender_id"`
	Body           string      `boil:"body"`
	CreatedAt      time.Time   `boil:"created_at"`
}

func (r messageRow) unboil() conversation.Message {
	return conversation.Message{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID.String,
		Body:           r.Body,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type conversationRepository struct {
	repository
}

var _ conversation.Repository = (*conversationRepository)(nil) // interface compliance check

func NewConversationRepository(exec core.DBExecutor) *conversationRepository {
	return &conversationRepository{repository{exec: exec}}
}

func (repo conversationRepository) CreateConversation(ctx context.Context, c conversation.Conversation, exec ...core.DBExecutor) (conversation.Conversation, error) {
	c.ID = newID()
	c.ParticipantIDs = core.UniqueStrings(c.ParticipantIDs)
	exe := repo.getExec(exec)

	_, err := queries.Raw(
		`INSERT INTO conversations (id, organization_id, subject, course_id, created_by, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OrganizationID, c.Subject, nullString(c.CourseID), nullString(c.CreatedBy), c.LastMessageAt.UTC(), c.CreatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return conversation.Conversation{}, errors.Wrap(err, "inserting conversation")
	}

	if len(c.ParticipantIDs) > 0 {
		args := make([]interface{}, 0, 2*len(c.ParticipantIDs))
		for _, id := range c.ParticipantIDs {
			args = append(args, c.ID, id)
		}
		q := `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ` +
			strmangle.Placeholders(true, len(args), 1, 2)
		if _, err = queries.Raw(q, args...).ExecContext(ctx, exe); err != nil {
			return conversation.Conversation{}, errors.Wrap(err, "inserting participants")
		}
	}
	return c, nil
}

func (repo conversationRepository) GetConversation(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (conversation.Conversation, error) {
	if !isUUID(id) {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	var row conversationRow
	err := queries.Raw(`SELECT `+conversationColumns+` FROM conversations c WHERE c.organization_id = $1 AND c.id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return conversation.Conversation{}, trapNoRowsErr(err, conversation.ErrNotFound, "getting conversation")
	}
	return row.unboil(), nil
}

func (repo conversationRepository) ListForUser(ctx context.Context, orgID, userID string, exec ...core.DBExecutor) ([]conversation.Summary, error) {
	var rows []summaryRow
	err := queries.Raw(
		`SELECT `+conversationColumns+`,
			(SELECT count(*) FROM messages m
			WHERE m.conversation_id = c.id AND m.sender_id IS DISTINCT FROM me.user_id
				AND (me.last_read_at IS NULL OR m.created_at > me.last_read_at)) AS unread
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $2
		WHERE c.organization_id = $1
		ORDER BY c.last_message_at DESC, c.id DESC`,
		orgID, userID,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	summaries := make([]conversation.Summary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, conversation.Summary{Conversation: r.unboil(), Unread: r.Unread})
	}
	return summaries, nil
}

func (repo conversationRepository) AddParticipant(ctx context.Context, orgID, conversationID, userID string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := repo.GetConversation(ctx, orgID, conversationID, exe); err != nil {
		return err
	}
	_, err := queries.Raw(
		`INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		conversationID, userID,
	).ExecContext(ctx, exe)
	return errors.Wrap(err, "adding participant")
}

func (repo conversationRepository) CreateMessage(ctx context.Context, m conversation.Message, exec ...core.DBExecutor) (conversation.Message, error) {
	m.ID = newID()
	exe := repo.getExec(exec)

	res, err := queries.Raw(
		`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $3) WHERE organization_id = $1 AND id = $2`,
		m.OrganizationID, m.ConversationID, m.CreatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "touching conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.Message{}, conversation.ErrNotFound
	}

	_, err = queries.Raw(
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.OrganizationID, m.ConversationID, nullString(m.SenderID), m.Body, m.CreatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return conversation.Message{}, errors.Wrap(err, "inserting message")
	}
	return m, nil
}

func (repo conversationRepository) GetMessage(ctx context.Context, orgID, conversationID, id string, exec ...core.DBExecutor) (conversation.Message, error) {
	if !isUUID(id) || !isUUID(conversationID) {
		return conversation.Message{}, conversation.ErrMessageNotFound
	}
	var row messageRow
	err := queries.Raw(
		`SELECT `+messageColumns+` FROM messages WHERE organization_id = $1 AND conversation_id = $2 AND id = $3`,
		orgID, conversationID, id,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return conversation.Message{}, trapNoRowsErr(err, conversation.ErrMessageNotFound, "getting message")
	}
	return row.unboil(), nil
}

func (repo conversationRepository) QueryMessages(ctx context.Context, orgID, conversationID string, page conversation.MessagePage, exec ...core.DBExecutor) ([]conversation.Message, error) {
	exe := repo.getExec(exec)
	var where whereClause
	where.add("organization_id = ?", orgID)
	where.add("conversation_id = ?", conversationID)
	if page.Before != "" {
		before, err := repo.GetMessage(ctx, orgID, conversationID, page.Before, exe)
		if err != nil {
			return nil, err
		}
		where.add("(created_at, id) < (?, ?)", before.CreatedAt, before.ID)
	}
	limit := page.Limit
	if limit <= 0 {
		limit = conversation.DefaultPageSize
	}

	q, args, err := in(`SELECT `+messageColumns+` FROM messages`+where.String()+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		append(where.args, limit)...)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	if err = queries.Raw(q, args...).Bind(ctx, exe, &rows); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	msgs := make([]conversation.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.unboil())
	}
	return msgs, nil
}

func (repo conversationRepository) MarkRead(ctx context.Context, orgID, conversationID, userID string, at time.Time, exec ...core.DBExecutor) error {
	if !isUUID(conversationID) {
		return conversation.ErrNotFound
	}
	_, err := queries.Raw(
		`UPDATE conversation_participants cp SET last_read_at = GREATEST(COALESCE(cp.last_read_at, $4), $4)
		FROM conversations c
		WHERE c.id = cp.conversation_id AND c.organization_id = $1 AND cp.conversation_id = $2 AND cp.user_id = $3`,
		orgID, conversationID, userID, at.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	return errors.Wrap(err, "marking conversation read")
}
