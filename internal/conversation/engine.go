// Package conversation drives the wake-up session state machine: an
// alarm firing opens a session, free-text messages continue it, and the
// wake confirmation (or an optional turn cap) closes it.
package conversation

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/events"
	"github.com/fmarino/despierto/internal/llm"
)

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of session history.
type Entry struct {
	Role Role
	Text string
}

// Outbound describes the chat message(s) a state transition produced.
// Messages are sent in order; for an alarm firing that order is part of
// the contract (opener first, instructions second).
type Outbound struct {
	ChatID   int64
	Messages []string
}

// session is one user's open wake-up conversation. The session mutex
// serializes that user's exchanges: a message arriving while generation
// is in flight blocks on it and is processed next, in arrival order.
type session struct {
	userID  int64
	chatID  int64
	timeStr string

	mu      sync.Mutex
	history []Entry
	turns   int // user messages consumed
}

// EngineConfig holds the dependencies for an Engine.
type EngineConfig struct {
	// Gen is the generation backend. Nil means generation is disabled
	// and every reply comes from the fallback catalog.
	Gen     llm.Client
	Msgs    *catalog.Catalog
	Persona string
	// HistoryWindow bounds how many recent entries feed the
	// continuation prompt (default 6).
	HistoryWindow int
	// MaxTurns closes the session with a farewell after this many user
	// exchanges. 0 disables the cap.
	MaxTurns int
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Engine owns the user → session table and every transition on it.
type Engine struct {
	gen      llm.Client
	msgs     *catalog.Catalog
	persona  string
	window   int
	maxTurns int
	bus      *events.Bus
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewEngine creates a conversation engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 6
	}
	return &Engine{
		gen:      cfg.Gen,
		msgs:     cfg.Msgs,
		persona:  cfg.Persona,
		window:   window,
		maxTurns: cfg.MaxTurns,
		bus:      cfg.Bus,
		logger:   logger,
		sessions: make(map[int64]*session),
	}
}

// OnAlarmFired opens (or replaces) the session for userID and returns
// the opener followed by the instruction message. A session that was
// already open is discarded: the new alarm wins, histories never merge.
func (e *Engine) OnAlarmFired(ctx context.Context, userID, chatID int64, timeStr string) Outbound {
	opener := e.generateOrFallback(ctx, userID, openerPrompt(e.persona, timeStr), e.msgs.WakeUpMessages, "opener")

	s := &session{
		userID:  userID,
		chatID:  chatID,
		timeStr: timeStr,
		history: []Entry{{Role: RoleAssistant, Text: opener}},
	}

	e.mu.Lock()
	_, replaced := e.sessions[userID]
	e.sessions[userID] = s
	e.mu.Unlock()

	kind := events.KindSessionOpened
	if replaced {
		kind = events.KindSessionReplaced
	}
	e.logger.Info("wake-up session opened",
		"user_id", userID,
		"time", timeStr,
		"replaced", replaced,
	)
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   kind,
		Data:   map[string]any{"user_id": userID, "time": timeStr},
	})

	return Outbound{
		ChatID: chatID,
		Messages: []string{
			opener,
			catalog.FormatTime(e.msgs.Instruction, timeStr),
		},
	}
}

// Continue feeds a user message into userID's open session and returns
// the reply. The second return is false when no session is open — the
// message is simply not ours to handle.
func (e *Engine) Continue(ctx context.Context, userID int64, text string) (Outbound, bool) {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return Outbound{}, false
	}

	// Serialize this user's exchanges. A second message during an
	// in-flight generation parks here and runs next.
	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have been closed or replaced while we waited.
	if !e.isLive(s) {
		return Outbound{}, false
	}

	s.history = append(s.history, Entry{Role: RoleUser, Text: text})
	s.turns++

	if e.maxTurns > 0 && s.turns >= e.maxTurns {
		farewell := pick(e.msgs.Farewells)
		s.history = append(s.history, Entry{Role: RoleAssistant, Text: farewell})
		e.close(userID, s, "turn_cap")
		return Outbound{ChatID: s.chatID, Messages: []string{farewell}}, true
	}

	reply := e.generateOrFallback(ctx, userID,
		continuationPrompt(e.persona, s.history, e.window), e.msgs.FollowUps, "reply")
	s.history = append(s.history, Entry{Role: RoleAssistant, Text: reply})

	// Generation suspends without the table lock, so the session can
	// have been displaced meanwhile. A reply for a dead session is
	// dropped, not delivered into the new conversation.
	if !e.isLive(s) {
		return Outbound{}, false
	}

	return Outbound{ChatID: s.chatID, Messages: []string{reply}}, true
}

// Close ends userID's session if one is open and reports whether it was.
// Idempotent.
func (e *Engine) Close(userID int64) bool {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	if ok {
		delete(e.sessions, userID)
	}
	e.mu.Unlock()

	if ok {
		e.logger.Info("wake-up session closed", "user_id", userID, "turns", s.turns)
		e.bus.Publish(events.Event{
			Source: events.SourceConversation,
			Kind:   events.KindSessionClosed,
			Data:   map[string]any{"user_id": userID, "reason": "confirmed"},
		})
	}
	return ok
}

// HasSession reports whether userID has an open session.
func (e *Engine) HasSession(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[userID]
	return ok
}

// History returns a copy of userID's session history, or nil when no
// session is open.
func (e *Engine) History(userID int64) []Entry {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Stats returns engine counters for the ops surface.
func (e *Engine) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"open_sessions": len(e.sessions),
	}
}

// isLive reports whether s is still the table entry for its user.
func (e *Engine) isLive(s *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[s.userID] == s
}

// close removes s from the table, attributing the closure to reason.
// Only called with s.mu held and s live.
func (e *Engine) close(userID int64, s *session, reason string) {
	e.mu.Lock()
	if e.sessions[userID] == s {
		delete(e.sessions, userID)
	}
	e.mu.Unlock()

	e.logger.Info("wake-up session closed", "user_id", userID, "turns", s.turns, "reason", reason)
	e.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindSessionClosed,
		Data:   map[string]any{"user_id": userID, "reason": reason},
	})
}

// generateOrFallback asks the backend for text and falls back to a
// uniformly-chosen catalog message on any failure or empty result. The
// fallback path is deterministic recovery, never an error the user sees.
func (e *Engine) generateOrFallback(ctx context.Context, userID int64, prompt string, fallback []string, stage string) string {
	if e.gen != nil {
		text, err := e.gen.Generate(ctx, prompt)
		if err == nil && text != "" {
			return text
		}
		e.logger.Warn("generation failed, using fallback",
			"user_id", userID,
			"stage", stage,
			"error", err,
		)
		e.bus.Publish(events.Event{
			Source: events.SourceConversation,
			Kind:   events.KindGenerationFallback,
			Data:   map[string]any{"user_id": userID, "stage": stage},
		})
	}
	return pick(fallback)
}

// pick returns a uniformly-chosen element.
func pick(options []string) string {
	return options[rand.Intn(len(options))]
}
