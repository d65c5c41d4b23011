package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/conversation"
)

type conversationRepository struct {
	db *DB
}

var _ conversation.Repository = (*conversationRepository)(nil) // interface compliance check

func NewConversationRepository(db *DB) *conversationRepository {
	return &conversationRepository{db: db}
}

func cloneConversation(c *conversation.Conversation) conversation.Conversation {
	cc := *c
	cc.ParticipantIDs = cloneStrings(c.ParticipantIDs)
	return cc
}

func (repo *conversationRepository) CreateConversation(_ context.Context, c conversation.Conversation, _ ...core.DBExecutor) (conversation.Conversation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c.ID = newID()
	c.ParticipantIDs = core.UniqueStrings(c.ParticipantIDs)
	stored := cloneConversation(&c)
	repo.db.conversations[c.ID] = &stored
	repo.db.lastRead[c.ID] = make(map[string]time.Time)
	return cloneConversation(&stored), nil
}

func (repo *conversationRepository) GetConversation(_ context.Context, orgID, id string, _ ...core.DBExecutor) (conversation.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	c, ok := repo.db.conversations[id]
	if !ok || c.OrganizationID != orgID {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (repo *conversationRepository) ListForUser(_ context.Context, orgID, userID string, _ ...core.DBExecutor) ([]conversation.Summary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	summaries := make([]conversation.Summary, 0)
	for _, c := range repo.db.conversations {
		if c.OrganizationID != orgID || !c.HasParticipant(userID) {
			continue
		}
		readAt := repo.db.lastRead[c.ID][userID]
		var unread int
		for _, m := range repo.db.messages {
			if m.ConversationID == c.ID && m.SenderID != userID && m.CreatedAt.After(readAt) {
				unread++
			}
		}
		summaries = append(summaries, conversation.Summary{Conversation: cloneConversation(c), Unread: unread})
	}
	orderBy(summaries, nil, core.DBOrdering{Field: "last_message_at"}, func(a, b conversation.Summary, _ string) int {
		if c := compareTimes(a.LastMessageAt, b.LastMessageAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return summaries, nil
}

func (repo *conversationRepository) AddParticipant(_ context.Context, orgID, conversationID, userID string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.conversations[conversationID]
	if !ok || c.OrganizationID != orgID {
		return conversation.ErrNotFound
	}
	if !c.HasParticipant(userID) {
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
	}
	return nil
}

func (repo *conversationRepository) CreateMessage(_ context.Context, m conversation.Message, _ ...core.DBExecutor) (conversation.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.conversations[m.ConversationID]
	if !ok || c.OrganizationID != m.OrganizationID {
		return conversation.Message{}, conversation.ErrNotFound
	}
	m.ID = newID()
	stored := m
	repo.db.messages[m.ID] = &stored
	if m.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = m.CreatedAt
	}
	return m, nil
}

func (repo *conversationRepository) GetMessage(_ context.Context, orgID, conversationID, id string, _ ...core.DBExecutor) (conversation.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	m, ok := repo.db.messages[id]
	if !ok || m.OrganizationID != orgID || m.ConversationID != conversationID {
		return conversation.Message{}, conversation.ErrMessageNotFound
	}
	return *m, nil
}

// newerMessage orders messages newest first.
func newerMessage(a, b conversation.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (repo *conversationRepository) QueryMessages(_ context.Context, orgID, conversationID string, page conversation.MessagePage, _ ...core.DBExecutor) ([]conversation.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var before *conversation.Message
	if page.Before != "" {
		m, ok := repo.db.messages[page.Before]
		if !ok || m.ConversationID != conversationID {
			return nil, conversation.ErrMessageNotFound
		}
		before = m
	}

	msgs := make([]conversation.Message, 0)
	for _, m := range repo.db.messages {
		if m.OrganizationID != orgID || m.ConversationID != conversationID {
			continue
		}
		if before != nil && !newerMessage(*before, *m) {
			continue
		}
		msgs = append(msgs, *m)
	}
	orderBy(msgs, nil, core.DBOrdering{Ascending: true}, func(a, b conversation.Message, _ string) int {
		switch {
		case newerMessage(a, b):
			return -1
		case newerMessage(b, a):
			return 1
		}
		return 0
	})
	if page.Limit > 0 && len(msgs) > page.Limit {
		msgs = msgs[:page.Limit]
	}
	return msgs, nil
}

func (repo *conversationRepository) MarkRead(_ context.Context, orgID, conversationID, userID string, at time.Time, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.conversations[conversationID]
	if !ok || c.OrganizationID != orgID {
		return conversation.ErrNotFound
	}
	if repo.db.lastRead[c.ID] == nil {
		repo.db.lastRead[c.ID] = make(map[string]time.Time)
	}
	if at.After(repo.db.lastRead[c.ID][userID]) {
		repo.db.lastRead[c.ID][userID] = at
	}
	return nil
}
