package telegram

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/clock"
	"github.com/fmarino/despierto/internal/conversation"
	"github.com/fmarino/despierto/internal/events"
)

// handleTimeout bounds how long a single inbound update may be
// processed (generation round trip + response send included).
const handleTimeout = 45 * time.Second

// pollRetryDelay is how long the update loop backs off after a failed
// getUpdates call before retrying.
const pollRetryDelay = 3 * time.Second

// Argument-usage replies for commands that need a time.
const (
	usageAlarma = "❌ Por favor especifica la hora.\n\nUso: `/alarma HH:MM`\nEjemplo: `/alarma 07:30`"
	usageRemove = "❌ Por favor especifica la hora de la alarma a eliminar.\n\nUso: `/remove HH:MM`\nEjemplo: `/remove 07:30`"
)

// API is the slice of the Bot API the dispatcher needs. Satisfied by
// *Client; tests substitute a fake.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
}

// AlarmRegistry is the registry surface the dispatcher drives. Every
// mutation returns a display message ready to forward verbatim.
type AlarmRegistry interface {
	Add(userID, chatID int64, timeStr string) (string, error)
	Remove(userID int64, timeStr string) (string, error)
	RemoveAll(userID int64) (string, error)
	List(userID int64) []string
}

// Engine is the conversation surface the dispatcher drives. Satisfied
// by *conversation.Engine.
type Engine interface {
	OnAlarmFired(ctx context.Context, userID, chatID int64, timeStr string) conversation.Outbound
	Continue(ctx context.Context, userID int64, text string) (conversation.Outbound, bool)
	Close(userID int64) bool
}

// BotConfig holds the dependencies for a Bot.
type BotConfig struct {
	API            API
	Registry       AlarmRegistry
	Engine         Engine
	Msgs           *catalog.Catalog
	Bus            *events.Bus
	Logger         *slog.Logger
	PollTimeoutSec int
}

// Bot routes inbound chat updates: commands go to the alarm registry,
// free text continues an open wake-up session, and alarm firings flow
// back out through FireAlarm.
type Bot struct {
	api         API
	registry    AlarmRegistry
	engine      Engine
	msgs        *catalog.Catalog
	bus         *events.Bus
	logger      *slog.Logger
	pollTimeout int
}

// NewBot creates a dispatcher.
func NewBot(cfg BotConfig) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := cfg.PollTimeoutSec
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Bot{
		api:         cfg.API,
		registry:    cfg.Registry,
		engine:      cfg.Engine,
		msgs:        cfg.Msgs,
		bus:         cfg.Bus,
		logger:      logger,
		pollTimeout: pollTimeout,
	}
}

// Run long-polls for updates until ctx is cancelled. Updates are
// processed sequentially in arrival order, each under its own timeout.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram dispatcher started")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram dispatcher shutting down")
			return
		default:
		}

		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("telegram dispatcher shutting down")
				return
			}
			b.logger.Warn("getUpdates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
	}
}

// FireAlarm is the registry's fire callback: it opens the wake-up
// session and delivers the opener and instruction messages, in that
// order. Delivery is per-message best-effort — a failed send is logged
// and the session stays open for the user's reply.
func (b *Bot) FireAlarm(jc clock.JobContext) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	out := b.engine.OnAlarmFired(ctx, jc.UserID, jc.ChatID, jc.TimeStr)
	b.send(ctx, out)
}

// handleUpdate processes one inbound update.
func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.From.IsBot {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	userID := msg.From.ID
	chatID := msg.Chat.ID
	reqID := uuid.NewString()[:8]
	logger := b.logger.With("request_id", reqID, "user_id", userID)

	command, arg := parseCommand(msg.Text)
	logger.Debug("update received", "command", command, "message_len", len(msg.Text))
	b.bus.Publish(events.Event{
		Source: events.SourceTelegram,
		Kind:   events.KindMessageReceived,
		Data:   map[string]any{"user_id": userID, "command": command, "message_len": len(msg.Text)},
	})

	switch command {
	case "/start":
		b.reply(ctx, logger, chatID, b.msgs.Welcome, "")

	case "/help":
		b.reply(ctx, logger, chatID, b.msgs.Help, "Markdown")

	case "/alarma":
		if arg == "" {
			b.reply(ctx, logger, chatID, usageAlarma, "Markdown")
			return
		}
		display, err := b.registry.Add(userID, chatID, arg)
		if err != nil {
			logger.Warn("alarm add rejected", "time", arg, "error", err)
		}
		b.reply(ctx, logger, chatID, display, "")

	case "/list":
		alarms := b.registry.List(userID)
		if len(alarms) == 0 {
			b.reply(ctx, logger, chatID, b.msgs.Errors.NoAlarms, "")
			return
		}
		b.reply(ctx, logger, chatID, catalog.FormatAlarmList(alarms), "Markdown")

	case "/remove":
		if arg == "" {
			b.reply(ctx, logger, chatID, usageRemove, "Markdown")
			return
		}
		display, err := b.registry.Remove(userID, arg)
		if err != nil {
			logger.Warn("alarm remove rejected", "time", arg, "error", err)
		}
		b.reply(ctx, logger, chatID, display, "")

	case "/removeall":
		display, err := b.registry.RemoveAll(userID)
		if err != nil {
			logger.Warn("remove-all rejected", "error", err)
		}
		b.reply(ctx, logger, chatID, display, "")

	case "/despierto":
		if b.engine.Close(userID) {
			b.reply(ctx, logger, chatID, b.msgs.Success.AwakeConfirmed, "")
		} else {
			b.reply(ctx, logger, chatID, b.msgs.Errors.NoConversation, "")
		}

	case "":
		// Free text is only meaningful inside an open wake-up session.
		out, ok := b.engine.Continue(ctx, userID, msg.Text)
		if !ok {
			logger.Debug("free text outside session ignored")
			return
		}
		b.send(ctx, out)

	default:
		logger.Debug("unknown command ignored", "command", command)
	}
}

// reply sends a single message, logging failures.
func (b *Bot) reply(ctx context.Context, logger *slog.Logger, chatID int64, text, parseMode string) {
	if err := b.api.SendMessage(ctx, chatID, text, parseMode); err != nil {
		logger.Error("send failed", "chat_id", chatID, "error", err)
	}
}

// send delivers an Outbound's messages in order as plain text. A failed
// send does not stop later messages; each failure is logged on its own.
func (b *Bot) send(ctx context.Context, out conversation.Outbound) {
	for _, text := range out.Messages {
		if err := b.api.SendMessage(ctx, out.ChatID, text, ""); err != nil {
			b.logger.Error("send failed",
				"chat_id", out.ChatID,
				"message_len", len(text),
				"error", err,
			)
		}
	}
}

// parseCommand splits a message into its command and first argument.
// Free text returns ("", ""). A "/cmd@BotName" mention is stripped to
// "/cmd" so commands work in group chats.
func parseCommand(text string) (command, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	fields := strings.Fields(text)
	command = fields[0]
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return command, arg
}
