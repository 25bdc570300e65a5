package cmd

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kimnauryz/ai-sarbaz/pkg/api"
	"github.com/kimnauryz/ai-sarbaz/pkg/chat"
	"github.com/kimnauryz/ai-sarbaz/pkg/config"
	"github.com/kimnauryz/ai-sarbaz/pkg/heartbeat"
	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
	"github.com/kimnauryz/ai-sarbaz/pkg/render"
	"github.com/kimnauryz/ai-sarbaz/pkg/session"
)

// App wires the client, chat list, heartbeat monitor, and streaming session
// into an interactive console loop
type App struct {
	cfg         *config.Config
	client      *api.Client
	chats       *chat.Manager
	monitor     *heartbeat.Monitor
	sess        *session.Session
	styles      *Styles
	highlighter *render.CodeHighlighter
	log         *logger.Logger

	model       string
	attachments []api.PromptAttachment
}

// NewApp builds the application from loaded configuration
func NewApp(cfg *config.Config) (*App, error) {
	client := api.NewClientWithTimeout(cfg.Server.URL, cfg.Server.Timeout)

	monitor := heartbeat.NewMonitor(client, heartbeat.Config{
		CheckInterval:    cfg.Heartbeat.CheckInterval,
		StaleAfter:       cfg.Heartbeat.StaleAfter,
		ReconnectBackoff: cfg.Heartbeat.ReconnectBackoff,
		MaxReconnects:    cfg.Heartbeat.MaxReconnects,
	})

	styles := DefaultStyles()
	app := &App{
		cfg:         cfg,
		client:      client,
		chats:       chat.NewManager(client, cfg.Chat.PageSize),
		monitor:     monitor,
		styles:      styles,
		highlighter: render.NewCodeHighlighter(),
		log:         logger.WithComponent("app"),
		model:       cfg.Chat.Model,
	}

	sink := &consoleSink{styles: styles, printed: make(map[string]int)}
	app.sess = session.NewSession(client, monitor, render.NewRenderer(), sink, session.Config{
		Model:           cfg.Chat.Model,
		SystemRole:      cfg.Chat.SystemRole,
		FinalizeDelay:   cfg.Session.FinalizeDelay,
		HistoryPageSize: cfg.Chat.HistoryPageSize,
		ChatPageSize:    cfg.Chat.PageSize,
	})

	monitor.SetExchangeActive(app.sess.Streaming)
	monitor.OnStateChange(func(state heartbeat.ConnectionState) {
		switch state {
		case heartbeat.StateReconnecting:
			fmt.Println(styles.Status.Render("· connection lost, reconnecting"))
		case heartbeat.StateConnected:
			fmt.Println(styles.SuccessMessage.Render("· connection restored"))
		case heartbeat.StateDisconnected:
			fmt.Println(styles.ErrorMessage.Render("· connection lost"))
		}
	})

	return app, nil
}

// Run drives the interactive loop until EOF or /quit
func (a *App) Run(ctx context.Context) error {
	defer a.monitor.Stop()

	if !a.client.CheckHealth(ctx) {
		fmt.Println(a.styles.ErrorMessage.Render("Server is unreachable: " + a.cfg.Server.URL))
	} else {
		fmt.Println(a.styles.SuccessMessage.Render("Connected to " + a.cfg.Server.URL))
	}

	if err := a.chats.Load(ctx, 0); err != nil {
		a.log.Warn("Initial chat list load failed", "error", err)
	}

	fmt.Println(a.styles.Muted.Render("Type a message to chat, /help for commands."))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(a.styles.Prompt.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.runCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		a.send(ctx, line)
	}
}

// send runs one prompt exchange, consuming any queued attachments
func (a *App) send(ctx context.Context, prompt string) {
	atts := a.attachments
	a.attachments = nil

	if err := a.sess.Send(ctx, prompt, atts); err != nil {
		if err == session.ErrBusy {
			fmt.Println(a.styles.ErrorMessage.Render("An exchange is already in progress."))
		}
		// Stream and dispatch failures are already surfaced by the sink
		a.log.Debug("Exchange ended with error", "error", err)
	}
}

func (a *App) runCommand(ctx context.Context, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		a.printHelp()
	case "/chats":
		a.printChats()
	case "/page":
		a.changePage(ctx, arg)
	case "/search":
		a.chats.SetSearchQuery(arg)
		a.printChats()
	case "/select":
		a.selectChat(arg)
	case "/new":
		a.newChat(ctx)
	case "/rename":
		a.renameChat(ctx, arg)
	case "/archive":
		a.archiveChat(ctx)
	case "/delete":
		a.deleteChat(ctx)
	case "/models":
		for _, m := range a.cfg.Chat.Models {
			marker := "  "
			if m == a.model {
				marker = "* "
			}
			fmt.Println(a.styles.InfoMessage.Render(marker + m))
		}
	case "/model":
		a.setModel(arg)
	case "/attach":
		a.attach(arg)
	case "/export":
		a.export(arg)
	default:
		fmt.Println(a.styles.ErrorMessage.Render("Unknown command: " + cmd))
	}
	return false
}

func (a *App) printHelp() {
	help := []string{
		"/chats            list chats on the current page",
		"/page <n>         load chat page n",
		"/search <text>    filter the chat list by title",
		"/select <n>       switch to the nth listed chat",
		"/new              start a new chat",
		"/rename <title>   rename the current chat",
		"/archive          archive the current chat",
		"/delete           delete the current chat",
		"/models           list configured models",
		"/model <name>     switch model for new chats",
		"/attach <path>    attach a file to the next message",
		"/export <path>    write the transcript as HTML",
		"/quit             exit",
	}
	for _, line := range help {
		fmt.Println(a.styles.Muted.Render(line))
	}
}

func (a *App) printChats() {
	chats := a.chats.Chats()
	if len(chats) == 0 {
		fmt.Println(a.styles.Muted.Render("No chats."))
		return
	}

	current, _ := a.chats.Current()
	for i, c := range chats {
		marker := "  "
		if c.ID == current.ID {
			marker = "* "
		}
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s%2d. %s %s\n", marker, i+1, title,
			a.styles.Muted.Render(fmt.Sprintf("[%s, %d messages]", c.ModelName, c.MessageCount)))
	}

	page, total := a.chats.Page()
	if total > 1 {
		fmt.Println(a.styles.Muted.Render("pages: " + renderPager(page, total)))
	}
}

// renderPager formats the pagination items as "1 … 4 [5] 6 … 9"
func renderPager(current, total int) string {
	var parts []string
	for _, item := range chat.PaginationItems(current, total) {
		switch {
		case item.Ellipsis:
			parts = append(parts, "…")
		case item.Page == current:
			parts = append(parts, fmt.Sprintf("[%d]", item.Page+1))
		default:
			parts = append(parts, strconv.Itoa(item.Page+1))
		}
	}
	return strings.Join(parts, " ")
}

func (a *App) changePage(ctx context.Context, arg string) {
	page, err := strconv.Atoi(arg)
	if err != nil || page < 1 {
		fmt.Println(a.styles.ErrorMessage.Render("Usage: /page <number>"))
		return
	}
	if err := a.chats.Load(ctx, page-1); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	a.printChats()
}

func (a *App) selectChat(arg string) {
	idx, err := strconv.Atoi(arg)
	chats := a.chats.Chats()
	if err != nil || idx < 1 || idx > len(chats) {
		fmt.Println(a.styles.ErrorMessage.Render("Usage: /select <number from /chats>"))
		return
	}

	target := chats[idx-1]
	if err := a.chats.Select(target.ID); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	if err := a.sess.SelectChat(target.ID); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	fmt.Println(a.styles.InfoMessage.Render("Switched to: " + target.Title))
}

func (a *App) newChat(ctx context.Context) {
	created, err := a.chats.Create(ctx, a.model)
	if err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	if err := a.sess.SelectChat(created.ID); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	fmt.Println(a.styles.SuccessMessage.Render("Started chat " + created.ID))
}

func (a *App) renameChat(ctx context.Context, title string) {
	current, ok := a.chats.Current()
	if !ok || title == "" {
		fmt.Println(a.styles.ErrorMessage.Render("Select a chat first: /rename <title>"))
		return
	}
	if err := a.chats.Rename(ctx, current.ID, title); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	fmt.Println(a.styles.SuccessMessage.Render("Renamed to: " + title))
}

func (a *App) archiveChat(ctx context.Context) {
	current, ok := a.chats.Current()
	if !ok {
		fmt.Println(a.styles.ErrorMessage.Render("No chat selected."))
		return
	}
	if err := a.chats.Archive(ctx, current.ID); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	a.sess.SelectChat("")
	fmt.Println(a.styles.SuccessMessage.Render("Archived."))
}

func (a *App) deleteChat(ctx context.Context) {
	current, ok := a.chats.Current()
	if !ok {
		fmt.Println(a.styles.ErrorMessage.Render("No chat selected."))
		return
	}
	if err := a.chats.Delete(ctx, current.ID); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render(err.Error()))
		return
	}
	a.sess.SelectChat("")
	fmt.Println(a.styles.SuccessMessage.Render("Deleted."))
}

func (a *App) setModel(name string) {
	if name == "" {
		fmt.Println(a.styles.InfoMessage.Render("Current model: " + a.model))
		return
	}
	a.model = name
	fmt.Println(a.styles.SuccessMessage.Render("Model set to " + name + " (applies to new chats)"))
}

func (a *App) attach(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(a.styles.ErrorMessage.Render("Cannot read attachment: " + err.Error()))
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	a.attachments = append(a.attachments, api.PromptAttachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	})
	fmt.Println(a.styles.InfoMessage.Render(fmt.Sprintf("Attached %s (%d bytes)", filepath.Base(path), len(data))))
}

// export writes the current transcript as a standalone HTML document with
// code blocks syntax-highlighted
func (a *App) export(path string) {
	if path == "" {
		fmt.Println(a.styles.ErrorMessage.Render("Usage: /export <path>"))
		return
	}

	messages := a.sess.Messages()
	if len(messages) == 0 {
		fmt.Println(a.styles.Muted.Render("Nothing to export."))
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><body>\n")
	for _, msg := range messages {
		b.WriteString(fmt.Sprintf("<div class=\"message %s\">\n", strings.ToLower(string(msg.Type))))
		b.WriteString(a.highlighter.RenderMessage(msg.Content))
		b.WriteString("\n</div>\n")
	}
	b.WriteString("</body></html>\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		fmt.Println(a.styles.ErrorMessage.Render("Export failed: " + err.Error()))
		return
	}
	fmt.Println(a.styles.SuccessMessage.Render("Transcript written to " + path))
}

// consoleSink prints session effects to stdout. Streamed updates print only
// the suffix that arrived since the previous update.
type consoleSink struct {
	styles  *Styles
	printed map[string]int
}

func (s *consoleSink) MessageAppended(msg api.Message) {
	if msg.Type == api.MessageTypeAssistant {
		fmt.Print(s.styles.AssistantMessage.Render("assistant: "))
	}
}

func (s *consoleSink) StreamUpdate(messageID, content, html string) {
	runes := []rune(content)
	from := s.printed[messageID]
	if from > len(runes) {
		from = len(runes)
	}
	fmt.Print(s.styles.AssistantMessage.Render(string(runes[from:])))
	s.printed[messageID] = utf8.RuneCountInString(content)
}

func (s *consoleSink) ExchangeFinalized(chatID string, history []api.Message, chats []api.Chat) {
	fmt.Println()
}

func (s *consoleSink) Notify(title, message string) {
	fmt.Println()
	fmt.Println(s.styles.ErrorMessage.Render(title + ": " + message))
}

func (s *consoleSink) StateChanged(state session.State) {
	logger.Debug("Session state changed", "state", state)
}
