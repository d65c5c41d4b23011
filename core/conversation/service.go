package conversation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	ErrNotFound        = core.NewNotFoundError("conversation")
	ErrMessageNotFound = core.NewNotFoundError("message")
)

type (
	Repository interface {
		// CreateConversation creates the conversation along with its participants.
		CreateConversation(ctx context.Context, c Conversation, exec ...core.DBExecutor) (Conversation, error)
		GetConversation(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Conversation, error)
		// ListForUser lists the conversations userID participates in, most recently active first.
		// Unread counts the messages of other participants posted after userID last read the conversation.
		ListForUser(ctx context.Context, orgID, userID string, exec ...core.DBExecutor) ([]Summary, error)
		AddParticipant(ctx context.Context, orgID, conversationID, userID string, exec ...core.DBExecutor) error
		// CreateMessage creates the message and sets the conversation's LastMessageAt.
		CreateMessage(ctx context.Context, m Message, exec ...core.DBExecutor) (Message, error)
		GetMessage(ctx context.Context, orgID, conversationID, id string, exec ...core.DBExecutor) (Message, error)
		// QueryMessages lists messages newest first.
		QueryMessages(ctx context.Context, orgID, conversationID string, page MessagePage, exec ...core.DBExecutor) ([]Message, error)
		MarkRead(ctx context.Context, orgID, conversationID, userID string, at time.Time, exec ...core.DBExecutor) error
	}

	Users interface {
		ListByIDs(ctx context.Context, orgID string, ids []string) ([]user.User, error)
	}

	Service struct {
		repo   Repository
		tx     core.Transactor
		users  Users
		events core.EventPublisher
		logger core.Logger
	}
)

func NewService(tx core.Transactor, repo Repository, users Users, logger core.Logger) *Service {
	return &Service{repo: repo, tx: tx, users: users, logger: logger}
}

// SetPublisher sets where domain events are published.
func (svc *Service) SetPublisher(pub core.EventPublisher) { svc.events = pub }

func (svc *Service) checkParticipants(ctx context.Context, orgID string, ids []string, field string) error {
	users, err := svc.users.ListByIDs(ctx, orgID, ids)
	if err != nil {
		return errors.Wrap(err, "listing users")
	}
	active := make(map[string]bool, len(users))
	for _, u := range users {
		active[u.ID] = u.IsActive
	}
	for _, id := range ids {
		if !active[id] {
			return core.NewFieldError(field, id+" is not an active member of this organization")
		}
	}
	return nil
}

// Create starts a validated NewConversation. The creator is always a participant.
func (svc *Service) Create(ctx context.Context, actor user.User, nc NewConversation) (Conversation, error) {
	ids := make([]string, 0, len(nc.ParticipantIDs))
	for _, id := range nc.ParticipantIDs {
		if id != actor.ID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Conversation{}, core.NewFieldError("participant_ids", "a conversation needs another participant")
	}
	if err := svc.checkParticipants(ctx, actor.OrganizationID, ids, "participant_ids"); err != nil {
		return Conversation{}, err
	}

	now := time.Now().UTC()
	c := Conversation{
		OrganizationID: actor.OrganizationID,
		Subject:        nc.Subject,
		CourseID:       nc.CourseID,
		CreatedBy:      actor.ID,
		ParticipantIDs: append([]string{actor.ID}, ids...),
		LastMessageAt:  now,
		CreatedAt:      now,
	}

	var first *Message
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if c, err = svc.repo.CreateConversation(ctx, c, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "creating conversation")
		}
		if nc.Message == "" {
			return nil
		}
		m, err := svc.post(ctx, exec, c, actor, nc.Message, now)
		if err != nil {
			return err
		}
		first = &m
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	if first != nil {
		c.LastMessageAt = first.CreatedAt
		svc.publishPosted(ctx, c, *first)
	}
	return c, nil
}

// ListMine lists actor's conversations with their unread counts.
func (svc *Service) ListMine(ctx context.Context, actor user.User) ([]Summary, error) {
	return svc.repo.ListForUser(ctx, actor.OrganizationID, actor.ID)
}

// Get returns the conversation if actor participates in it, ErrNotFound otherwise.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Conversation, error) {
	c, err := svc.repo.GetConversation(ctx, actor.OrganizationID, id)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(actor.ID) {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

// Post adds a validated message to a conversation actor participates in.
func (svc *Service) Post(ctx context.Context, actor user.User, id string, nm NewMessage) (Message, error) {
	c, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Message{}, err
	}

	var m Message
	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		m, err = svc.post(ctx, exec, c, actor, nm.Body, time.Now().UTC())
		return err
	})
	if err != nil {
		return Message{}, err
	}
	svc.publishPosted(ctx, c, m)
	return m, nil
}

func (svc *Service) post(ctx context.Context, exec core.DBExecutor, c Conversation, sender user.User, body string, at time.Time) (Message, error) {
	m, err := svc.repo.CreateMessage(ctx, Message{
		OrganizationID: c.OrganizationID,
		ConversationID: c.ID,
		SenderID:       sender.ID,
		Body:           body,
		CreatedAt:      at,
	}, core.Execs(exec)...)
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}
	if err = svc.repo.MarkRead(ctx, c.OrganizationID, c.ID, sender.ID, at, core.Execs(exec)...); err != nil {
		return Message{}, errors.Wrap(err, "marking conversation read")
	}
	return m, nil
}

func (svc *Service) publishPosted(ctx context.Context, c Conversation, m Message) {
	recipients := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != m.SenderID {
			recipients = append(recipients, id)
		}
	}
	core.PublishEvent(ctx, svc.events, svc.logger, core.Event{
		Key:            core.EventMessagePosted + ":" + m.ID,
		OrganizationID: c.OrganizationID,
		Type:           core.EventMessagePosted,
		ActorID:        m.SenderID,
		CourseID:       c.CourseID,
		RecipientIDs:   recipients,
		Data: map[string]interface{}{
			"conversation": map[string]interface{}{
				"id":      c.ID,
				"subject": c.Subject,
			},
			"message": map[string]interface{}{
				"id":   m.ID,
				"body": m.Body,
			},
		},
	})
}

// Messages pages through a conversation's messages, newest first.
func (svc *Service) Messages(ctx context.Context, actor user.User, id string, page MessagePage) ([]Message, error) {
	c, err := svc.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	page.Clean()
	if page.Before != "" {
		if _, err = svc.repo.GetMessage(ctx, c.OrganizationID, c.ID, page.Before); err != nil {
			if core.IsNotFound(err) {
				return nil, core.NewFieldError("before", "unknown message")
			}
			return nil, err
		}
	}
	return svc.repo.QueryMessages(ctx, c.OrganizationID, c.ID, page)
}

func (svc *Service) MarkRead(ctx context.Context, actor user.User, id string) error {
	c, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	return errors.Wrap(
		svc.repo.MarkRead(ctx, c.OrganizationID, c.ID, actor.ID, time.Now().UTC()),
		"marking conversation read",
	)
}

// AddParticipant adds a member to a conversation. The conversation's creator and admins only.
func (svc *Service) AddParticipant(ctx context.Context, actor user.User, id string, ap AddParticipant) (Conversation, error) {
	c, err := svc.repo.GetConversation(ctx, actor.OrganizationID, id)
	if err != nil {
		return Conversation{}, err
	}
	if !c.HasParticipant(actor.ID) && !actor.IsAdmin() {
		return Conversation{}, ErrNotFound
	}
	if c.CreatedBy != actor.ID && !actor.IsAdmin() {
		return Conversation{}, core.ErrPermissionDenied
	}
	if c.HasParticipant(ap.UserID) {
		return c, nil
	}
	if err = svc.checkParticipants(ctx, c.OrganizationID, []string{ap.UserID}, "user_id"); err != nil {
		return Conversation{}, err
	}
	if err = svc.repo.AddParticipant(ctx, c.OrganizationID, c.ID, ap.UserID); err != nil {
		return Conversation{}, errors.Wrap(err, "adding participant")
	}
	c.ParticipantIDs = append(c.ParticipantIDs, ap.UserID)
	return c, nil
}
