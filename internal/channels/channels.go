package channels

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hostalerts/internal/logger"
	"hostalerts/internal/rules"
	"hostalerts/internal/storage"
)

// Notification is what a channel delivers for one outbox entry.
type Notification struct {
	EntryID   string         `json:"entryId"`
	TenantID  string         `json:"tenantId"`
	RuleID    string         `json:"ruleId"`
	AlertType string         `json:"alertType"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Priority  rules.Priority `json:"priority"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Channel delivers a notification. A nil error means the channel accepted it.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// NotificationWriter persists tenant-facing notifications.
type NotificationWriter interface {
	InsertNotification(ctx context.Context, n storage.NotificationRecord) error
}

// InApp stores a notification row the tenant sees in the product.
type InApp struct {
	Writer NotificationWriter
	now    func() time.Time
}

func NewInApp(w NotificationWriter) *InApp {
	return &InApp{Writer: w, now: time.Now}
}

func (c *InApp) Name() string { return "in_app" }

func (c *InApp) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	return c.Writer.InsertNotification(ctx, storage.NotificationRecord{
		ID:        uuid.NewString(),
		TenantID:  n.TenantID,
		EntryID:   n.EntryID,
		AlertType: n.AlertType,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		Priority:  int16(n.Priority),
		CreatedAt: c.now().UTC(),
	})
}

// LogChannel writes notifications to the structured log. Used when no
// notification store is configured.
type LogChannel struct {
	name string
	log  zerolog.Logger
}

func NewLogChannel(name string) *LogChannel {
	return &LogChannel{name: name, log: logger.WithComponent("channel").With().Str("channel", name).Logger()}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Send(ctx context.Context, n Notification) error {
	c.log.Info().
		Str("entry_id", n.EntryID).
		Str("tenant_id", n.TenantID).
		Str("alert_type", n.AlertType).
		Int("priority", int(n.Priority)).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}
