// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/models"
)

// Message types sent to participants.
const (
	MessageTokenIssued     = "token_issued"
	MessageDeliverySlots   = "delivery_slots"
	MessageDisputeOpened   = "dispute_opened"
	MessageDisputeResolved = "dispute_resolved"
)

// Message is one notification to one participant. Secret holds values that
// go into the delivered body only and are never persisted.
type Message struct {
	UserID  uuid.UUID
	Type    string
	Title   string
	Body    string
	OrderID *uuid.UUID
	Data    map[string]interface{}
	Secret  map[string]interface{}
}

// NotificationSender delivers messages to participants.
type NotificationSender interface {
	Send(ctx context.Context, msg Message) error
}

// LoggingSender writes messages to the log. Used when SMTP is not configured.
type LoggingSender struct {
	Logger *logrus.Logger
}

func (s LoggingSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"user_id": msg.UserID,
		"type":    msg.Type,
		"title":   msg.Title,
	}).Info("Notification not emailed, SMTP not configured")
	return nil
}

// NotificationService stores an in-app copy of each message and emails it to
// the participant's address from the contact directory.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
	logger *logrus.Logger
	mail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewNotificationService(db *gorm.DB, config *config.Config, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NotificationService{
		db:     db,
		config: config,
		logger: logger,
		mail:   smtp.SendMail,
	}
}

func (s *NotificationService) Send(ctx context.Context, msg Message) error {
	notification := &models.Notification{
		UserID:  msg.UserID,
		Type:    msg.Type,
		Title:   msg.Title,
		Message: msg.Body,
		Data:    models.JSONB(msg.Data),
		Status:  models.NotificationStatusUnread,
		OrderID: msg.OrderID,
	}

	if err := database.Conn(ctx, s.db).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	var user models.User
	if err := database.Conn(ctx, s.db).Where("id = ?", msg.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithField("user_id", msg.UserID).Warn("No contact entry for user, in-app notification only")
			return nil
		}
		return fmt.Errorf("failed to load contact: %w", err)
	}

	data := map[string]interface{}{
		"Username": user.Username,
		"Title":    msg.Title,
		"Body":     msg.Body,
	}
	for k, v := range msg.Data {
		data[k] = v
	}
	for k, v := range msg.Secret {
		data[k] = v
	}
	if msg.OrderID != nil {
		data["OrderURL"] = fmt.Sprintf("%s/orders/%s", s.config.Frontend.BaseURL, msg.OrderID)
	}

	body, err := s.renderTemplate(s.getEmailTemplate(msg.Type), data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(user.Email, msg.Title, body)
}

// Helper methods
func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		s.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email not configured, skipping send")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return s.mail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(messageType string) string {
	switch messageType {
	case MessageTokenIssued, MessageDeliverySlots:
		return `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>Hello {{.Username}},</p>
	<p>{{.Body}}</p>
	{{if .VerificationCode}}<p>Your {{.Kind}} code: <strong>{{.VerificationCode}}</strong></p>{{end}}
	{{if .Payload}}<p>Scan payload:</p><pre>{{.Payload}}</pre>{{end}}
	{{if .Slots}}<p>Choose a time slot:</p>
	<ul>{{range .Slots}}<li>{{.Label}}</li>{{end}}</ul>{{end}}
	{{if .OrderURL}}<a href="{{.OrderURL}}">View order</a>{{end}}
</body>
</html>`
	default:
		return `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>Hello {{.Username}},</p>
	<p>{{.Body}}</p>
	{{if .OrderURL}}<a href="{{.OrderURL}}">View order</a>{{end}}
</body>
</html>`
	}
}
