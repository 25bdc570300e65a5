// Package session orchestrates one prompt exchange at a time: placeholder
// messages, frame routing into the renderer, and finalize/error handling.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kimnauryz/ai-sarbaz/pkg/api"
	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
	"github.com/kimnauryz/ai-sarbaz/pkg/render"
	"github.com/kimnauryz/ai-sarbaz/pkg/sse"
)

// State is the exchange lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateErrored    State = "errored"
)

// ErrBusy is returned when a send is attempted while an exchange is already
// in flight. The attempt is a no-op: no messages are created or mutated.
var ErrBusy = errors.New("an exchange is already in progress")

const (
	interruptedNotice = "\n\n⚠️ *Response was interrupted due to an error.*"
	failedNotice      = "⚠️ *Unable to generate a response. Please try again.*"
)

// Client is the server boundary the session depends on
type Client interface {
	CreateChat(ctx context.Context, model string) (api.Chat, error)
	GetChats(ctx context.Context, page, size int, activeOnly bool) (api.Page[api.Chat], error)
	GetChatHistory(ctx context.Context, chatID string, page, size int) (api.Page[api.Message], error)
	SendStreamingPrompt(ctx context.Context, req api.PromptRequest) (io.ReadCloser, error)
}

// Liveness is the heartbeat channel controlled by the session. It runs only
// while an exchange is streaming.
type Liveness interface {
	Start()
	Stop()
}

// Sink receives the session's user-visible effects. Implementations must not
// call back into the session from within a callback.
type Sink interface {
	// MessageAppended reports a new message in the transcript
	MessageAppended(msg api.Message)
	// StreamUpdate reports refreshed placeholder content; html carries the
	// incremental render with the newest chunk marked
	StreamUpdate(messageID, content, html string)
	// ExchangeFinalized reports the post-exchange reload; history supersedes
	// any temporary messages
	ExchangeFinalized(chatID string, history []api.Message, chats []api.Chat)
	// Notify surfaces a transient user-facing notification
	Notify(title, message string)
	// StateChanged reports lifecycle transitions
	StateChanged(state State)
}

// Config holds the session's policy knobs
type Config struct {
	Model           string
	SystemRole      string
	FinalizeDelay   time.Duration
	HistoryPageSize int
	ChatPageSize    int
}

// DefaultConfig returns the stock session policy
func DefaultConfig() Config {
	return Config{
		FinalizeDelay:   500 * time.Millisecond,
		HistoryPageSize: 50,
		ChatPageSize:    20,
	}
}

// Session owns one chat's exchange lifecycle. At most one exchange is active
// at a time; concurrent sends are rejected with ErrBusy.
type Session struct {
	client   Client
	liveness Liveness
	renderer *render.Renderer
	sink     Sink
	cfg      Config
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	chatID   string
	messages []api.Message

	streaming atomic.Bool
}

// NewSession creates an idle session. The liveness channel may be nil when
// staleness detection is not wanted.
func NewSession(client Client, liveness Liveness, renderer *render.Renderer, sink Sink, cfg Config) *Session {
	if cfg.FinalizeDelay <= 0 {
		cfg.FinalizeDelay = DefaultConfig().FinalizeDelay
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = DefaultConfig().HistoryPageSize
	}
	if cfg.ChatPageSize <= 0 {
		cfg.ChatPageSize = DefaultConfig().ChatPageSize
	}

	return &Session{
		client:   client,
		liveness: liveness,
		renderer: renderer,
		sink:     sink,
		cfg:      cfg,
		log:      logger.WithComponent("session"),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChatID returns the currently selected chat, empty when none is selected
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// SelectChat switches the session to an existing chat. Rejected while an
// exchange is in flight.
func (s *Session) SelectChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrBusy
	}
	s.chatID = chatID
	s.messages = nil
	return nil
}

// Messages returns a copy of the local transcript
func (s *Session) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Streaming reports whether an exchange is actively streaming; used as the
// heartbeat monitor's staleness predicate.
func (s *Session) Streaming() bool {
	return s.streaming.Load()
}

// Send runs one full prompt exchange: dispatch, placeholder creation, frame
// consumption, and finalization. It blocks until the exchange reaches idle
// again and returns the terminal stream error, if any.
func (s *Session) Send(ctx context.Context, prompt string, attachments []api.PromptAttachment) error {
	if err := s.begin(); err != nil {
		return err
	}

	chatID, err := s.ensureChat(ctx)
	if err != nil {
		s.abort()
		s.sink.Notify("Chat Error", err.Error())
		return err
	}

	body, err := s.client.SendStreamingPrompt(ctx, api.PromptRequest{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Role:        s.cfg.SystemRole,
		ChatID:      chatID,
		Attachments: attachments,
	})
	if err != nil {
		s.abort()
		s.sink.Notify("Send Error", err.Error())
		return fmt.Errorf("failed to dispatch prompt: %w", err)
	}
	defer body.Close()

	placeholderID := s.beginStreaming(chatID, prompt, attachments)
	streamErr := s.consume(body, placeholderID)
	s.finalize(ctx, chatID, placeholderID)
	return streamErr
}

// begin moves idle → sending, rejecting concurrent sends
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrBusy
	}
	s.setStateLocked(StateSending)
	return nil
}

// abort reverts a failed dispatch to idle with no transcript changes
func (s *Session) abort() {
	s.mu.Lock()
	s.setStateLocked(StateErrored)
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
}

// ensureChat returns the selected chat, creating one first when none is
// selected. A creation failure aborts the exchange before any placeholder
// messages exist.
func (s *Session) ensureChat(ctx context.Context) (string, error) {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()

	if chatID != "" {
		return chatID, nil
	}

	chat, err := s.client.CreateChat(ctx, s.cfg.Model)
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}
	s.log.Info("Created chat", "chatId", chat.ID, "model", chat.ModelName)

	s.mu.Lock()
	s.chatID = chat.ID
	s.mu.Unlock()
	return chat.ID, nil
}

// beginStreaming appends the temporary user message and the assistant
// placeholder, in that order, and starts the liveness channel
func (s *Session) beginStreaming(chatID, prompt string, attachments []api.PromptAttachment) string {
	now := time.Now()
	userMsg := api.Message{
		ID:        "temp-" + uuid.NewString(),
		ChatID:    chatID,
		Type:      api.MessageTypeUser,
		Content:   prompt,
		Timestamp: now,
	}
	for _, att := range attachments {
		userMsg.Attachments = append(userMsg.Attachments, api.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	placeholder := api.Message{
		ID:        "temp-assistant-" + uuid.NewString(),
		ChatID:    chatID,
		Type:      api.MessageTypeAssistant,
		Timestamp: now,
	}

	s.mu.Lock()
	s.messages = append(s.messages, userMsg, placeholder)
	s.setStateLocked(StateStreaming)
	s.mu.Unlock()
	s.streaming.Store(true)

	s.sink.MessageAppended(userMsg)
	s.sink.MessageAppended(placeholder)

	if s.liveness != nil {
		s.liveness.Start()
	}
	return placeholder.ID
}

// consume drains the response stream, routing message frames into the
// renderer. Returns nil on clean closure, or the terminal stream error.
func (s *Session) consume(body io.Reader, placeholderID string) error {
	parser := sse.NewParser(body)
	var content string

	for {
		frame, err := parser.Next()
		if err == io.EOF {
			s.log.Debug("Stream complete", "messageId", placeholderID, "chars", len(content))
			return nil
		}
		if err != nil {
			s.failPlaceholder(placeholderID, content, err)
			return err
		}

		if frame.Kind != sse.KindMessage {
			s.log.Debug("Ignoring non-message frame", "event", frame.Name)
			continue
		}

		content += frame.Data
		s.updatePlaceholder(placeholderID, content)
		html := s.renderer.Render(content, true, placeholderID)
		s.sink.StreamUpdate(placeholderID, content, html)
	}
}

// updatePlaceholder stores the accumulated content on the placeholder message
func (s *Session) updatePlaceholder(placeholderID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == placeholderID {
			s.messages[i].Content = content
			return
		}
	}
}

// failPlaceholder annotates the placeholder after a terminal failure,
// preserving any partial content already streamed
func (s *Session) failPlaceholder(placeholderID, content string, err error) {
	var streamErr *sse.StreamError
	title := "Connection Error"
	detail := err.Error()
	if errors.As(err, &streamErr) {
		title = "Stream Error"
		detail = streamErr.Message
	}
	s.log.Error("Streaming exchange failed", "messageId", placeholderID, "error", err)

	annotated := failedNotice
	if content != "" {
		annotated = content + interruptedNotice
	}

	s.mu.Lock()
	s.setStateLocked(StateErrored)
	s.mu.Unlock()

	s.updatePlaceholder(placeholderID, annotated)
	s.sink.StreamUpdate(placeholderID, annotated, s.renderer.Render(annotated, false, placeholderID))
	s.sink.Notify(title, detail)
}

// finalize stops the liveness channel, waits for server-side persistence to
// settle, then reloads history and the chat list so persisted messages
// supersede the temporaries. Runs on both success and error paths.
func (s *Session) finalize(ctx context.Context, chatID, placeholderID string) {
	s.streaming.Store(false)
	if s.liveness != nil {
		s.liveness.Stop()
	}
	s.renderer.ResetCursor(placeholderID)

	s.mu.Lock()
	s.setStateLocked(StateFinalizing)
	s.mu.Unlock()

	select {
	case <-time.After(s.cfg.FinalizeDelay):
	case <-ctx.Done():
	}

	history, err := s.client.GetChatHistory(ctx, chatID, 0, s.cfg.HistoryPageSize)
	if err != nil {
		// Temporaries stay visible until the next successful reload
		s.log.Warn("Failed to reload history after exchange", "chatId", chatID, "error", err)
	} else {
		s.mu.Lock()
		s.messages = history.Content
		s.mu.Unlock()
	}

	chats, err := s.client.GetChats(ctx, 0, s.cfg.ChatPageSize, true)
	if err != nil {
		s.log.Warn("Failed to reload chat list after exchange", "error", err)
	}

	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	s.sink.ExchangeFinalized(chatID, s.Messages(), chats.Content)
}

// setStateLocked records a transition and notifies the sink
func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.sink != nil {
		s.sink.StateChanged(state)
	}
}
