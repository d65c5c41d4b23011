// Package channels holds the workflow senders backed by the application's own services.
package channels

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/notification"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
)

// EmailTemplate is the e-mail template deliveries are rendered in.
const EmailTemplate = "notification"

// Email sends deliveries as e-mails.
type Email struct {
	mailSvc core.EmailService
}

func NewEmail(mailSvc core.EmailService) *Email {
	return &Email{mailSvc: mailSvc}
}

func (s *Email) Send(ctx context.Context, d workflow.Delivery, to user.User) error {
	if to.Email == "" {
		return workflow.Permanent(errors.New("recipient has no email address"))
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: to.Name, Address: to.Email}},
		Subject:      d.Subject,
		TemplateName: EmailTemplate,
		TemplateData: map[string]interface{}{
			"Name":    to.Name,
			"Subject": d.Subject,
			"Body":    d.Body,
		},
	}
	err := s.mailSvc.Send(ctx, msg)
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && !tmp.Temporary() {
		return workflow.Permanent(err)
	}
	return err
}

// InApp sends deliveries as in-app notifications.
type InApp struct {
	notifSvc *notification.Service
}

func NewInApp(notifSvc *notification.Service) *InApp {
	return &InApp{notifSvc: notifSvc}
}

func (s *InApp) Send(ctx context.Context, d workflow.Delivery, to user.User) error {
	_, err := s.notifSvc.Create(ctx, notification.Notification{
		OrganizationID: d.OrganizationID,
		UserID:         to.ID,
		Kind:           d.EventType,
		Title:          d.Subject,
		Body:           d.Body,
		Data: map[string]interface{}{
			"delivery_id": d.ID,
			"workflow_id": d.WorkflowID,
			"event_key":   d.EventKey,
		},
	})
	return err
}
