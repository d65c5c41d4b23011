package telegramsvc

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
)

type botMock struct {
	to   tele.Recipient
	text string
	err  error
}

func (b *botMock) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	b.to = to
	b.text, _ = what.(string)
	if b.err != nil {
		return nil, b.err
	}
	return &tele.Message{}, nil
}

func TestSender_Send(t *testing.T) {
	d := workflow.Delivery{Subject: "Reminder", Body: "Class at 9"}

	t.Run("no chat id", func(t *testing.T) {
		bot := new(botMock)
		err := NewSender(bot).Send(context.Background(), d, user.User{ID: "u1"})
		require.Error(t, err)
		assert.True(t, workflow.IsPermanent(err))
		assert.Nil(t, bot.to)
	})

	t.Run("sent", func(t *testing.T) {
		bot := new(botMock)
		err := NewSender(bot).Send(context.Background(), d, user.User{ID: "u1", TelegramChatID: 42})
		require.NoError(t, err)
		assert.Equal(t, "42", bot.to.Recipient())
		assert.Equal(t, "Reminder\n\nClass at 9", bot.text)
	})

	t.Run("blocked by user", func(t *testing.T) {
		bot := &botMock{err: tele.ErrBlockedByUser}
		err := NewSender(bot).Send(context.Background(), d, user.User{TelegramChatID: 42})
		assert.True(t, workflow.IsPermanent(err))
	})

	t.Run("network error is retryable", func(t *testing.T) {
		bot := &botMock{err: errors.New("connection reset")}
		err := NewSender(bot).Send(context.Background(), d, user.User{TelegramChatID: 42})
		require.Error(t, err)
		assert.False(t, workflow.IsPermanent(err))
	})
}

func Test_formatMessage(t *testing.T) {
	assert.Equal(t, "body", formatMessage(workflow.Delivery{Body: "body"}))

	long := formatMessage(workflow.Delivery{Body: strings.Repeat("a", maxMessageLen+10)})
	assert.Len(t, []rune(long), maxMessageLen)
	assert.True(t, strings.HasSuffix(long, "…"))
}
