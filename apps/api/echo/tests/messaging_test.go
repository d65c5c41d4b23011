package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/conversation"
	"github.com/trezcool/campus/core/notification"
	"github.com/trezcool/campus/core/workflow"
	emailsvc "github.com/trezcool/campus/services/email"
)

var messageWorkflow = []byte(`{
	"name": "New messages",
	"trigger": {"event": "message.posted"},
	"actions": [
		{"channel": "in_app", "recipients": ["participants"], "subject": "{{.data.conversation.subject}}", "body": "{{.recipient.name}}: {{.data.message.body}}"},
		{"channel": "email", "recipients": ["participants"], "subject": "New message", "body": "{{.data.message.body}}"},
		{"channel": "telegram", "recipients": ["participants"], "subject": "New message", "body": "{{.data.message.body}}"}
	]
}`)

func Test_workflowApi(t *testing.T) {
	f := setup(t)
	adminToken := f.token(t, f.admin)

	f.runAll(t, []httpTest{
		{
			name: "Admin required", method: http.MethodPost, path: "/api/workflows", token: f.token(t, f.trainer),
			body: messageWorkflow, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Missing fields", method: http.MethodPost, path: "/api/workflows", token: adminToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"name":"this field is required","event":"this field is required","actions":"this field is required"}`),
		},
		{
			name: "Offset on a non time-based event", method: http.MethodPost, path: "/api/workflows", token: adminToken,
			body: []byte(`{"name":"x","trigger":{"event":"message.posted","offset":"-1h"},"actions":[{"channel":"in_app","recipients":["actor"],"body":"x"}]}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"trigger.offset":"only allowed for session.instance.starts"}`),
		},
		{
			name: "Broken template", method: http.MethodPost, path: "/api/workflows", token: adminToken,
			body:     []byte(`{"name":"x","trigger":{"event":"message.posted"},"actions":[{"channel":"in_app","recipients":["actor"],"body":"{{.data"}]}`),
			wantCode: http.StatusBadRequest,
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/api/workflows", adminToken, messageWorkflow)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var wf workflow.Workflow
	unmarshal(t, rec, &wf)
	assert.Equal(t, "New messages", wf.Name)
	assert.True(t, wf.IsActive)
	assert.False(t, wf.IsTimeBased())
	require.Len(t, wf.Actions, 3)

	f.runAll(t, []httpTest{
		{
			name: "Duplicate name", method: http.MethodPost, path: "/api/workflows", token: adminToken, body: messageWorkflow,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"name":"a workflow with this name already exists"}`),
		},
		{name: "List", method: http.MethodGet, path: "/api/workflows?event=message.posted", token: adminToken, wantData: marchallList(t, wf)},
		{name: "List (other event)", method: http.MethodGet, path: "/api/workflows?event=enrollment.created", token: adminToken, wantData: marchallList(t)},
	})

	yml := []byte(`
workflows:
  - name: New messages
    is_active: false
    trigger: {event: message.posted}
    actions:
      - channel: in_app
        recipients: [participants]
        body: "{{.data.message.body}}"
  - name: Welcome
    trigger: {event: enrollment.created}
    actions:
      - channel: email
        recipients: [students]
        subject: Welcome
        body: "Welcome to {{.data.course.title}}"
`)
	req, rec = newAuthRequest(http.MethodPost, "/api/workflows/import", adminToken, yml)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var imported []workflow.Workflow
	unmarshal(t, rec, &imported)
	require.Len(t, imported, 2)
	assert.Equal(t, wf.ID, imported[0].ID)
	assert.False(t, imported[0].IsActive)
	require.Len(t, imported[0].Actions, 1)
	assert.Equal(t, "Welcome", imported[1].Name)

	f.runAll(t, []httpTest{
		{
			name: "Import unknown keys", method: http.MethodPost, path: "/api/workflows/import", token: adminToken,
			body: []byte("workflows:\n  - name: x\n    colour: red\n"), wantCode: http.StatusBadRequest,
		},
		{
			name: "Import nothing", method: http.MethodPost, path: "/api/workflows/import", token: adminToken,
			body: []byte("workflows: []\n"), wantCode: http.StatusBadRequest, wantData: []byte(`{"workflows":"no workflow defined"}`),
		},
		{name: "Delete", method: http.MethodDelete, path: "/api/workflows/" + wf.ID, token: adminToken, wantCode: http.StatusNoContent},
		{
			name: "Deleted", method: http.MethodGet, path: "/api/workflows/" + wf.ID, token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "workflow not found"}),
		},
	})
}

func Test_messagingApi(t *testing.T) {
	f := setup(t)
	adminToken := f.token(t, f.admin)
	trainerToken := f.token(t, f.trainer)
	studentToken := f.token(t, f.student)

	req, rec := newAuthRequest(http.MethodPost, "/api/workflows", adminToken, messageWorkflow)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wf workflow.Workflow
	unmarshal(t, rec, &wf)

	f.runAll(t, []httpTest{
		{
			name: "Only me", method: http.MethodPost, path: "/api/conversations", token: trainerToken,
			body:     marchallObj(t, conversation.NewConversation{Subject: "X", ParticipantIDs: []string{f.trainer.ID}}),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"participant_ids":"a conversation needs another participant"}`),
		},
		{
			name: "Inactive participant", method: http.MethodPost, path: "/api/conversations", token: trainerToken,
			body:     marchallObj(t, conversation.NewConversation{Subject: "X", ParticipantIDs: []string{f.naughty.ID}}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"participant_ids": f.naughty.ID + " is not an active member of this organization"}),
		},
	})

	req, rec = newAuthRequest(http.MethodPost, "/api/conversations", trainerToken, marchallObj(t, conversation.NewConversation{
		Subject:        " Intro ",
		ParticipantIDs: []string{f.student.ID, f.student.ID},
		Message:        "Hello",
	}))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conv conversation.Conversation
	unmarshal(t, rec, &conv)
	assert.Equal(t, "Intro", conv.Subject)
	assert.Equal(t, []string{f.trainer.ID, f.student.ID}, conv.ParticipantIDs)
	path := "/api/conversations/" + conv.ID

	t.Run("Deliveries", func(t *testing.T) {
		var notifs []notification.Notification
		rec := f.run(t, httpTest{method: http.MethodGet, path: "/api/notifications", token: studentToken})
		unmarshal(t, rec, &notifs)
		require.Len(t, notifs, 1)
		assert.Equal(t, core.EventMessagePosted, notifs[0].Kind)
		assert.Equal(t, "Intro", notifs[0].Title)
		assert.Equal(t, "Hero: Hello", notifs[0].Body)
		assert.False(t, notifs[0].IsRead())

		sent := emailsvc.SentMessages()
		require.Len(t, sent, 1)
		require.Len(t, sent[0].To, 1)
		assert.Equal(t, f.student.Email, sent[0].To[0].Address)

		var dead []workflow.Delivery
		rec = f.run(t, httpTest{method: http.MethodGet, path: "/api/deliveries?status=dead", token: adminToken})
		unmarshal(t, rec, &dead)
		require.Len(t, dead, 1)
		assert.Equal(t, workflow.ChannelTelegram, dead[0].Channel)
		assert.Equal(t, f.student.ID, dead[0].RecipientID)
		assert.Equal(t, `no sender for channel "telegram"`, dead[0].LastError)
		assert.Equal(t, 1, dead[0].Attempts)

		var delivered []workflow.Delivery
		rec = f.run(t, httpTest{method: http.MethodGet, path: "/api/deliveries?status=sent&workflow_id=" + wf.ID, token: adminToken})
		unmarshal(t, rec, &delivered)
		require.Len(t, delivered, 2)
		for _, d := range delivered {
			assert.NotNil(t, d.SentAt)
			assert.Equal(t, workflow.IdempotencyKey(wf.ID, d.EventKey, indexOfChannel(wf, d.Channel), f.student.ID), d.IdempotencyKey)
		}

		// retrying fails again: still no telegram sender
		rec = f.run(t, httpTest{method: http.MethodPost, path: "/api/deliveries/" + dead[0].ID + "/retry", token: adminToken})
		var retried workflow.Delivery
		unmarshal(t, rec, &retried)
		assert.Equal(t, workflow.StatusDead, retried.Status)
		assert.Equal(t, 1, retried.Attempts)

		f.runAll(t, []httpTest{
			{
				name: "Only dead deliveries", method: http.MethodPost, path: "/api/deliveries/" + delivered[0].ID + "/retry", token: adminToken,
				wantCode: http.StatusBadRequest, wantData: []byte(`{"status":"only dead deliveries can be retried"}`),
			},
			{name: "Admin required", method: http.MethodGet, path: "/api/deliveries", token: trainerToken, wantCode: http.StatusForbidden},
		})
	})

	t.Run("Conversation", func(t *testing.T) {
		var summaries []conversation.Summary
		rec := f.run(t, httpTest{method: http.MethodGet, path: "/api/conversations", token: studentToken})
		unmarshal(t, rec, &summaries)
		require.Len(t, summaries, 1)
		assert.Equal(t, conv.ID, summaries[0].ID)
		assert.Equal(t, 1, summaries[0].Unread)

		f.runAll(t, []httpTest{
			{
				name: "Outsiders cannot read", method: http.MethodGet, path: path, token: f.token(t, f.owner),
				wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "conversation not found"}),
			},
			{
				name: "Blank message", method: http.MethodPost, path: path + "/messages", token: studentToken,
				body: []byte(`{"body":"   "}`), wantCode: http.StatusBadRequest,
			},
			{
				name: "Unknown cursor", method: http.MethodGet, path: path + "/messages?before=" + conv.ID, token: studentToken,
				wantCode: http.StatusBadRequest, wantData: []byte(`{"before":"unknown message"}`),
			},
		})

		req, rec := newAuthRequest(http.MethodPost, path+"/messages", studentToken, []byte(`{"body":" Hi! "}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var reply conversation.Message
		unmarshal(t, rec, &reply)
		assert.Equal(t, "Hi!", reply.Body)
		assert.Equal(t, f.student.ID, reply.SenderID)

		var msgs []conversation.Message
		rec = f.run(t, httpTest{method: http.MethodGet, path: path + "/messages", token: trainerToken})
		unmarshal(t, rec, &msgs)
		require.Len(t, msgs, 2)
		assert.Equal(t, reply, msgs[0])
		assert.Equal(t, "Hello", msgs[1].Body)

		f.run(t, httpTest{method: http.MethodGet, path: path + "/messages?before=" + reply.ID, token: trainerToken, wantData: marchallList(t, msgs[1])})
		f.run(t, httpTest{method: http.MethodGet, path: path + "/messages?limit=1", token: trainerToken, wantData: marchallList(t, reply)})

		// the reply reached the trainer
		f.run(t, httpTest{method: http.MethodGet, path: "/api/notifications/unread-count", token: trainerToken, wantData: marchallObj(t, echoapi.CountResponse{Count: 1})})

		f.run(t, httpTest{method: http.MethodPost, path: path + "/read", token: trainerToken, wantCode: http.StatusNoContent})
		rec = f.run(t, httpTest{method: http.MethodGet, path: "/api/conversations", token: trainerToken})
		unmarshal(t, rec, &summaries)
		require.Len(t, summaries, 1)
		assert.Equal(t, 0, summaries[0].Unread)
	})

	t.Run("Participants", func(t *testing.T) {
		f.runAll(t, []httpTest{
			{
				name: "Creator only", method: http.MethodPost, path: path + "/participants", token: studentToken,
				body:     marchallObj(t, conversation.AddParticipant{UserID: f.admin.ID}),
				wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
			},
			{
				name: "Inactive user", method: http.MethodPost, path: path + "/participants", token: trainerToken,
				body:     marchallObj(t, conversation.AddParticipant{UserID: f.naughty.ID}),
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"user_id": f.naughty.ID + " is not an active member of this organization"}),
			},
		})

		req, rec := newAuthRequest(http.MethodPost, path+"/participants", trainerToken, marchallObj(t, conversation.AddParticipant{UserID: f.admin.ID}))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var c conversation.Conversation
		unmarshal(t, rec, &c)
		assert.Equal(t, []string{f.trainer.ID, f.student.ID, f.admin.ID}, c.ParticipantIDs)

		f.run(t, httpTest{method: http.MethodGet, path: path, token: adminToken, wantData: marchallObj(t, c)})
	})

	t.Run("Notifications", func(t *testing.T) {
		var notifs []notification.Notification
		rec := f.run(t, httpTest{method: http.MethodGet, path: "/api/notifications", token: studentToken})
		unmarshal(t, rec, &notifs)
		require.Len(t, notifs, 1)
		id := notifs[0].ID

		f.run(t, httpTest{
			method: http.MethodPost, path: "/api/notifications/" + id + "/read", token: trainerToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "notification not found"}),
		})

		rec = f.run(t, httpTest{method: http.MethodPost, path: "/api/notifications/" + id + "/read", token: studentToken})
		var n notification.Notification
		unmarshal(t, rec, &n)
		assert.True(t, n.IsRead())

		f.run(t, httpTest{method: http.MethodGet, path: "/api/notifications?unread=true", token: studentToken, wantData: marchallList(t)})
		f.run(t, httpTest{method: http.MethodGet, path: "/api/notifications/unread-count", token: studentToken, wantData: marchallObj(t, echoapi.CountResponse{Count: 0})})
		f.run(t, httpTest{method: http.MethodPost, path: "/api/notifications/read-all", token: trainerToken, wantData: marchallObj(t, echoapi.CountResponse{Count: 1})})
		f.run(t, httpTest{method: http.MethodPost, path: "/api/notifications/read-all", token: trainerToken, wantData: marchallObj(t, echoapi.CountResponse{Count: 0})})
	})
}

func indexOfChannel(wf workflow.Workflow, channel string) int {
	for i, a := range wf.Actions {
		if a.Channel == channel {
			return i
		}
	}
	return -1
}
