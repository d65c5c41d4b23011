// Package telegramsvc sends workflow deliveries through a Telegram bot.
package telegramsvc

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v4"

	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
)

// maxMessageLen is Telegram's limit on the length of a text message.
const maxMessageLen = 4096

var errNoChat = errors.New("recipient has no telegram chat")

// Bot is the part of *tele.Bot the sender uses.
type Bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sender struct {
	bot Bot
}

var _ workflow.Sender = (*Sender)(nil)

// New connects a bot with token. The bot only sends: it never polls for updates.
func New(token string) (*Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, errors.Wrap(err, "creating telegram bot")
	}
	return NewSender(bot), nil
}

func NewSender(bot Bot) *Sender {
	return &Sender{bot: bot}
}

func (s *Sender) Send(ctx context.Context, d workflow.Delivery, to user.User) error {
	if to.TelegramChatID == 0 {
		return workflow.Permanent(errNoChat)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: to.TelegramChatID}, formatMessage(d), &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return classify(err)
	}
	return nil
}

func formatMessage(d workflow.Delivery) string {
	text := d.Body
	if d.Subject != "" {
		text = d.Subject + "\n\n" + d.Body
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen-1]) + "…"
	}
	return text
}

// classify marks the errors retrying cannot fix (blocked bot, unknown chat) as permanent.
func classify(err error) error {
	var terr *tele.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case 400, 403:
			return workflow.Permanent(err)
		}
	}
	return errors.Wrap(err, "sending telegram message")
}
