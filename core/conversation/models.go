package conversation

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Conversation struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Subject        string    `json:"subject"`
	CourseID       string    `json:"course_id,omitempty"`
	CreatedBy      string    `json:"created_by"`
	ParticipantIDs []string  `json:"participant_ids"`
	LastMessageAt  time.Time `json:"last_message_at"` // UTC
	CreatedAt      time.Time `json:"created_at"`      // UTC
}

func (c Conversation) HasParticipant(userID string) bool {
	return core.StringInSlice(userID, c.ParticipantIDs)
}

type Message struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"` // UTC
}

// Summary is a conversation as listed to one of its participants.
type Summary struct {
	Conversation
	Unread int `json:"unread"`
}

type NewConversation struct {
	Subject        string   `json:"subject" validate:"required,max=200"`
	CourseID       string   `json:"course_id" validate:"omitempty,uuid"`
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=100,dive,uuid"`
	Message        string   `json:"message" validate:"max=10000"`
}

func (nc *NewConversation) Validate(validate *validator.Validate) error {
	nc.Subject = core.CleanString(nc.Subject)
	nc.Message = core.CleanString(nc.Message)
	nc.ParticipantIDs = core.UniqueStrings(nc.ParticipantIDs)
	return validate.Struct(nc)
}

type NewMessage struct {
	Body string `json:"body" validate:"required,notblank,max=10000"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Body = core.CleanString(nm.Body)
	return validate.Struct(nm)
}

type AddParticipant struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (ap *AddParticipant) Validate(validate *validator.Validate) error {
	ap.UserID = core.CleanString(ap.UserID)
	return validate.Struct(ap)
}

// MessagePage selects messages newest first. Before is a message id: only older messages are returned.
type MessagePage struct {
	Before string `query:"before"`
	Limit  int    `query:"limit"`
}

func (mp *MessagePage) Clean() {
	if mp.Limit <= 0 {
		mp.Limit = DefaultPageSize
	}
	if mp.Limit > MaxPageSize {
		mp.Limit = MaxPageSize
	}
}
