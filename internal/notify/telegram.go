// Package notify implements the out-of-scope notification layer domain.
// Publisher documents: a Telegram bot, grounded directly on
// notification_service.go's NotificationService (bot init, persisted chat
// ID, fire-and-forget Notify), generalized from one hardcoded alert format
// to the full §6 "Events published" list.
package notify

import (
	"fmt"
	"log"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"whalecopy/internal/domain"
)

const chatIDFile = "chat_id.txt"

// Telegram publishes domain.Event to one Telegram chat. A nil *Telegram is
// valid and silently drops every event, matching the teacher's ns == nil
// pattern for "notifications disabled".
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram reads TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID from the
// environment, per §6. Returns nil (not an error) when no token is
// configured, since notifications are an optional ambient concern.
func NewTelegram() *Telegram {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("⚠️ TELEGRAM_BOT_TOKEN not found. Notifications disabled.")
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Failed to init Telegram Bot: %v", err)
		return nil
	}
	log.Printf("✅ Authorized on account %s", bot.Self.UserName)

	t := &Telegram{bot: bot}

	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		if id, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			t.chatID = id
		}
	}
	if t.chatID == 0 {
		t.chatID = t.loadChatID()
	}
	if t.chatID != 0 {
		log.Printf("✅ Loaded Persistent Chat ID: %d", t.chatID)
	}
	return t
}

func (t *Telegram) loadChatID() int64 {
	data, err := os.ReadFile(chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (t *Telegram) saveChatID(id int64) {
	if err := os.WriteFile(chatIDFile, []byte(fmt.Sprintf("%d", id)), 0644); err != nil {
		log.Printf("⚠️ Failed to save Chat ID: %v", err)
	}
}

// ListenForChatID blocks draining Telegram updates, the same auto-configure
// path as notification_service.go's StartEventListener's branch B, trimmed
// to just chat-id capture since the rest of that listener's command surface
// (/status, /stop, /report, approval buttons) has no equivalent in an
// engine that trades autonomously rather than on manual approval.
func (t *Telegram) ListenForChatID() {
	if t == nil || t.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	for update := range updates {
		if update.Message == nil {
			continue
		}
		if t.chatID == 0 || t.chatID != update.Message.Chat.ID {
			t.chatID = update.Message.Chat.ID
			t.saveChatID(t.chatID)
			log.Printf("✅ TELEGRAM CHAT ID CAPTURED & SAVED: %d", t.chatID)
			t.send("🔔 Bot connected. Monitoring whale signals.")
		}
	}
}

// Publish implements domain.Publisher. Every event kind maps to one
// human-readable line; kinds without a dedicated format are still sent, as
// a generic "<kind>: aggregate <id>" line, matching the teacher's
// Notify(report) fallback for anything the formatter doesn't special-case.
func (t *Telegram) Publish(e domain.Event) {
	t.send(format(e))
}

func format(e domain.Event) string {
	switch e.Kind {
	case domain.EventTradeExecuted:
		return fmt.Sprintf("✅ *Trade executed* — %v %v filled %v", e.Payload["symbol"], e.Payload["user_id"], e.Payload["filled_quantity"])
	case domain.EventTradeFailed:
		return fmt.Sprintf("⚠️ *Trade failed*: %v", e.Payload["reason"])
	case domain.EventTradeNeedsReconciliation:
		return fmt.Sprintf("🚨 *Trade needs reconciliation* — trade %d: %v", e.AggregateID, e.Payload["reason"])
	case domain.EventPositionOpened:
		return fmt.Sprintf("📈 *Position opened* — user %v %v", e.Payload["user_id"], e.Payload["symbol"])
	case domain.EventPositionClosed:
		return fmt.Sprintf("📉 *Position closed* (%v)", e.Payload["reason"])
	case domain.EventPositionLiquidated:
		return fmt.Sprintf("💥 *Position liquidated* (%v)", e.Payload["reason"])
	case domain.EventStopLossTriggered:
		return "🛑 *Stop loss triggered*"
	case domain.EventTakeProfitTriggered:
		return "🎯 *Take profit triggered*"
	default:
		return fmt.Sprintf("%s: aggregate %d", e.Kind, e.AggregateID)
	}
}

// send is fire-and-forget, matching notification_service.go's Notify: a
// delivery failure never unwinds caller state.
func (t *Telegram) send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(t.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := t.bot.Send(cfg); err != nil {
			log.Printf("⚠️ Failed to send Telegram: %v", err)
		}
	}()
}
