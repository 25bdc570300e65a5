package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kimnauryz/ai-sarbaz/pkg/api"
	"github.com/kimnauryz/ai-sarbaz/pkg/render"
	"github.com/kimnauryz/ai-sarbaz/pkg/session"
	"github.com/kimnauryz/ai-sarbaz/pkg/sse"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

type streamUpdate struct {
	messageID string
	content   string
	html      string
}

type notification struct {
	title   string
	message string
}

type finalized struct {
	chatID  string
	history []api.Message
	chats   []api.Chat
}

// recordingSink captures every session effect for later assertions
type recordingSink struct {
	mu            sync.Mutex
	appended      []api.Message
	updates       []streamUpdate
	notifications []notification
	states        []session.State
	finalizations []finalized
}

func (r *recordingSink) MessageAppended(msg api.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, msg)
}

func (r *recordingSink) StreamUpdate(messageID, content, html string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, streamUpdate{messageID, content, html})
}

func (r *recordingSink) ExchangeFinalized(chatID string, history []api.Message, chats []api.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizations = append(r.finalizations, finalized{chatID, history, chats})
}

func (r *recordingSink) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification{title, message})
}

func (r *recordingSink) StateChanged(state session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingSink) appendedMessages() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.Message, len(r.appended))
	copy(out, r.appended)
	return out
}

func (r *recordingSink) allUpdates() []streamUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]streamUpdate, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recordingSink) allNotifications() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

func (r *recordingSink) allStates() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *recordingSink) allFinalizations() []finalized {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]finalized, len(r.finalizations))
	copy(out, r.finalizations)
	return out
}

// stubLiveness counts heartbeat start/stop calls
type stubLiveness struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (l *stubLiveness) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
}

func (l *stubLiveness) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *stubLiveness) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts, l.stops
}

// chatServer is an httptest fixture for the session's server boundary
type chatServer struct {
	stream           string
	holdStream       chan struct{}
	createChatStatus int
	promptStatus     int
	history          []api.Message
	chats            []api.Chat

	mu            sync.Mutex
	createdChats  int
	promptChatIDs []string
}

func (s *chatServer) created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdChats
}

func (s *chatServer) promptedChatIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.promptChatIDs))
	copy(out, s.promptChatIDs)
	return out
}

func (s *chatServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chats", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.createdChats++
		s.mu.Unlock()

		if s.createChatStatus != 0 {
			w.WriteHeader(s.createChatStatus)
			fmt.Fprint(w, `{"error": "model unavailable"}`)
			return
		}
		json.NewEncoder(w).Encode(api.Chat{ID: "chat-1", ModelName: "llama3.2:3b", Active: true})
	})

	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Page[api.Chat]{Content: s.chats, TotalPages: 1})
	})

	mux.HandleFunc("GET /chats/{chatId}/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Page[api.Message]{Content: s.history, TotalPages: 1})
	})

	mux.HandleFunc("POST /chats/streaming/prompt", func(w http.ResponseWriter, r *http.Request) {
		Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
		s.mu.Lock()
		s.promptChatIDs = append(s.promptChatIDs, r.FormValue("chatId"))
		s.mu.Unlock()

		if s.promptStatus != 0 {
			w.WriteHeader(s.promptStatus)
			fmt.Fprint(w, `{"error": "backend down"}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, s.stream)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if s.holdStream != nil {
			<-s.holdStream
		}
	})

	return mux
}

var _ = Describe("Session", func() {
	var (
		backend  *chatServer
		server   *httptest.Server
		sink     *recordingSink
		liveness *stubLiveness
		sess     *session.Session
		ctx      context.Context
	)

	newSession := func() *session.Session {
		client := api.NewClient(server.URL)
		return session.NewSession(client, liveness, render.NewRenderer(), sink, session.Config{
			Model:           "llama3.2:3b",
			FinalizeDelay:   10 * time.Millisecond,
			HistoryPageSize: 50,
			ChatPageSize:    20,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		sink = &recordingSink{}
		liveness = &stubLiveness{}
		backend = &chatServer{
			history: []api.Message{
				{ID: "m1", ChatID: "chat-1", Type: api.MessageTypeUser, Content: "hi"},
				{ID: "m2", ChatID: "chat-1", Type: api.MessageTypeAssistant, Content: "Hello world"},
			},
			chats: []api.Chat{{ID: "chat-1", Title: "First", Active: true}},
		}
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("a successful exchange", func() {
		BeforeEach(func() {
			backend.stream = "event: message\ndata: Hel\n\nevent: message\ndata: lo world\n\n"
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should append the user message and placeholder in order", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			appended := sink.appendedMessages()
			Expect(appended).To(HaveLen(2))
			Expect(appended[0].Type).To(Equal(api.MessageTypeUser))
			Expect(appended[0].ID).To(HavePrefix("temp-"))
			Expect(appended[0].Content).To(Equal("hi"))
			Expect(appended[1].Type).To(Equal(api.MessageTypeAssistant))
			Expect(appended[1].ID).To(HavePrefix("temp-assistant-"))
			Expect(appended[1].Content).To(BeEmpty())
		})

		It("should stream incremental updates with the newest chunk marked", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			updates := sink.allUpdates()
			Expect(updates).To(HaveLen(2))
			Expect(updates[0].content).To(Equal("Hel"))
			Expect(updates[0].html).To(Equal(`<span class="newest-chunk">Hel</span>`))
			Expect(updates[1].content).To(Equal("Hello world"))
			Expect(updates[1].html).To(Equal(`Hel<span class="newest-chunk">lo world</span>`))
		})

		It("should walk the full lifecycle back to idle", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			Expect(sink.allStates()).To(Equal([]session.State{
				session.StateSending,
				session.StateStreaming,
				session.StateFinalizing,
				session.StateIdle,
			}))
			Expect(sess.State()).To(Equal(session.StateIdle))
		})

		It("should supersede temporary messages with reloaded history", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			finals := sink.allFinalizations()
			Expect(finals).To(HaveLen(1))
			Expect(finals[0].chatID).To(Equal("chat-1"))
			for _, msg := range finals[0].history {
				Expect(msg.ID).NotTo(HavePrefix("temp-"))
			}
			Expect(finals[0].chats).To(HaveLen(1))
			Expect(sess.Messages()).To(Equal(finals[0].history))
		})

		It("should run the heartbeat only for the duration of the exchange", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			starts, stops := liveness.counts()
			Expect(starts).To(Equal(1))
			Expect(stops).To(Equal(1))
		})

		It("should create a chat when none is selected", func() {
			Expect(sess.ChatID()).To(BeEmpty())
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			Expect(backend.created()).To(Equal(1))
			Expect(backend.promptedChatIDs()).To(Equal([]string{"chat-1"}))
			Expect(sess.ChatID()).To(Equal("chat-1"))
		})

		It("should reuse the selected chat", func() {
			Expect(sess.SelectChat("chat-1")).To(Succeed())
			Expect(sess.Send(ctx, "hi", nil)).To(Succeed())

			Expect(backend.created()).To(BeZero())
			Expect(backend.promptedChatIDs()).To(Equal([]string{"chat-1"}))
		})
	})

	Describe("a stream interrupted by an error frame", func() {
		BeforeEach(func() {
			backend.stream = "event: message\ndata: Hi\n\nevent: error\ndata: error: boom\n\n"
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should surface the stream error and preserve partial content", func() {
			err := sess.Send(ctx, "hi", nil)

			var streamErr *sse.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Message).To(Equal("boom"))

			updates := sink.allUpdates()
			last := updates[len(updates)-1]
			Expect(last.content).To(HavePrefix("Hi"))
			Expect(last.content).To(ContainSubstring("Response was interrupted due to an error."))

			notes := sink.allNotifications()
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].title).To(Equal("Stream Error"))
			Expect(notes[0].message).To(Equal("boom"))
		})

		It("should still finalize and return to idle", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(HaveOccurred())

			Expect(sess.State()).To(Equal(session.StateIdle))
			Expect(sink.allFinalizations()).To(HaveLen(1))
			_, stops := liveness.counts()
			Expect(stops).To(Equal(1))
		})
	})

	Describe("a stream that fails before any content arrives", func() {
		BeforeEach(func() {
			backend.stream = "event: error\ndata: error: model crashed\n\n"
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should substitute a standalone failure notice", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(HaveOccurred())

			updates := sink.allUpdates()
			Expect(updates).To(HaveLen(1))
			Expect(updates[0].content).To(Equal("⚠️ *Unable to generate a response. Please try again.*"))
		})
	})

	Describe("a failed dispatch", func() {
		BeforeEach(func() {
			backend.promptStatus = http.StatusInternalServerError
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should abort without creating placeholder messages", func() {
			err := sess.Send(ctx, "hi", nil)

			Expect(err).To(HaveOccurred())
			Expect(err).NotTo(MatchError(session.ErrBusy))
			Expect(sink.appendedMessages()).To(BeEmpty())
			Expect(sess.Messages()).To(BeEmpty())
			Expect(sess.State()).To(Equal(session.StateIdle))

			notes := sink.allNotifications()
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].title).To(Equal("Send Error"))
			Expect(notes[0].message).To(ContainSubstring("backend down"))
		})

		It("should never start the heartbeat", func() {
			Expect(sess.Send(ctx, "hi", nil)).To(HaveOccurred())

			starts, _ := liveness.counts()
			Expect(starts).To(BeZero())
		})
	})

	Describe("a failed chat creation", func() {
		BeforeEach(func() {
			backend.createChatStatus = http.StatusInternalServerError
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should abort before any transcript changes", func() {
			err := sess.Send(ctx, "hi", nil)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model unavailable"))
			Expect(sink.appendedMessages()).To(BeEmpty())
			Expect(sess.State()).To(Equal(session.StateIdle))

			notes := sink.allNotifications()
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].title).To(Equal("Chat Error"))
		})
	})

	Describe("double submission", func() {
		BeforeEach(func() {
			backend.stream = "event: message\ndata: slow\n\n"
			backend.holdStream = make(chan struct{})
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should reject a send while an exchange is streaming", func() {
			done := make(chan error, 1)
			go func() {
				done <- sess.Send(ctx, "first", nil)
			}()

			Eventually(sess.State).Should(Equal(session.StateStreaming))
			before := len(sess.Messages())

			Expect(sess.Send(ctx, "second", nil)).To(MatchError(session.ErrBusy))
			Expect(sess.Messages()).To(HaveLen(before))

			close(backend.holdStream)
			Eventually(done).Should(Receive(Succeed()))
		})

		It("should reject selecting another chat mid-exchange", func() {
			done := make(chan error, 1)
			go func() {
				done <- sess.Send(ctx, "first", nil)
			}()

			Eventually(sess.State).Should(Equal(session.StateStreaming))
			Expect(sess.SelectChat("chat-2")).To(MatchError(session.ErrBusy))

			close(backend.holdStream)
			Eventually(done).Should(Receive(Succeed()))
		})
	})

	Describe("streaming activity flag", func() {
		BeforeEach(func() {
			backend.stream = "event: message\ndata: x\n\n"
			backend.holdStream = make(chan struct{})
			server = httptest.NewServer(backend.handler())
			sess = newSession()
		})

		It("should report streaming only while the exchange is live", func() {
			Expect(sess.Streaming()).To(BeFalse())

			done := make(chan error, 1)
			go func() {
				done <- sess.Send(ctx, "hi", nil)
			}()

			Eventually(sess.Streaming).Should(BeTrue())
			close(backend.holdStream)
			Eventually(done).Should(Receive())
			Expect(sess.Streaming()).To(BeFalse())
		})
	})
})

var _ = Describe("Attachments", func() {
	It("should forward attachment metadata onto the user message", func() {
		backend := &chatServer{stream: "event: message\ndata: ok\n\n"}
		server := httptest.NewServer(backend.handler())
		defer server.Close()

		sink := &recordingSink{}
		client := api.NewClient(server.URL)
		sess := session.NewSession(client, nil, render.NewRenderer(), sink, session.Config{
			Model:         "llama3.2:3b",
			FinalizeDelay: 10 * time.Millisecond,
		})

		atts := []api.PromptAttachment{
			{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("content")},
		}
		Expect(sess.Send(context.Background(), "summarize", atts)).To(Succeed())

		appended := sink.appendedMessages()
		Expect(appended[0].Attachments).To(HaveLen(1))
		Expect(appended[0].Attachments[0].Filename).To(Equal("notes.txt"))
		Expect(strings.HasPrefix(appended[0].ID, "temp-")).To(BeTrue())
	})
})
