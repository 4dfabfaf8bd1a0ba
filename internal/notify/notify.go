// Package notify delivers fire-and-forget Telegram alerts for terminal
// account states. Delivery failures are logged and dropped; an alert must
// never stall a sweep.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/models"
)

// Sender posts a message to a chat; satisfied by the real bot API client.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts account alerts to a Telegram chat.
type Notifier struct {
	sender Sender
	chatID int64
	log    *logging.Logger
}

// New creates a notifier from a bot token. Returns nil (a valid no-op
// receiver for the alert methods) when alerting is not configured.
func New(token string, chatID int64, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Component("notify").Warn("telegram bot unavailable", "error", err.Error())
		return nil
	}
	return NewWithSender(bot, chatID, logger)
}

// NewWithSender creates a notifier over an existing sender.
func NewWithSender(sender Sender, chatID int64, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Notifier{sender: sender, chatID: chatID, log: logger.Component("notify")}
}

// AccountBanned reports a backend suspension.
func (n *Notifier) AccountBanned(acc *models.Account) {
	if n == nil {
		return
	}
	n.send(fmt.Sprintf("🚫 *Account suspended*\n%s\nThe backend reported this account as suspended; it will not be refreshed again.", accountLine(acc)))
}

// AccountNeedsReauth reports a credential that can no longer be refreshed.
func (n *Notifier) AccountNeedsReauth(acc *models.Account) {
	if n == nil {
		return
	}
	n.send(fmt.Sprintf("🔑 *Re-authentication required*\n%s\nThe stored tokens expired and could not be refreshed. Sign the account in again.", accountLine(acc)))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Warn("telegram alert failed", "error", err.Error())
	}
}

func accountLine(acc *models.Account) string {
	label := acc.Label
	if label == "" {
		label = acc.ID
	}
	if acc.Snapshot != nil && acc.Snapshot.Email != "" {
		return fmt.Sprintf("`%s` (%s, %s)", label, acc.Snapshot.Email, acc.Credentials.IdP())
	}
	return fmt.Sprintf("`%s` (%s)", label, acc.Credentials.IdP())
}
