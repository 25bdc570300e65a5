// Package chat manages the chat list: loading pages from the server,
// selection, and the simple CRUD operations around it.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kimnauryz/ai-sarbaz/pkg/api"
	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
)

// Client is the server boundary the manager depends on
type Client interface {
	GetChats(ctx context.Context, page, size int, activeOnly bool) (api.Page[api.Chat], error)
	CreateChat(ctx context.Context, model string) (api.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) (api.Chat, error)
	ArchiveChat(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// Manager holds the loaded page of chats and the current selection
type Manager struct {
	client   Client
	pageSize int
	log      *logger.Logger

	mu          sync.RWMutex
	chats       []api.Chat
	page        int
	totalPages  int
	searchQuery string
	currentID   string
}

// NewManager creates a manager loading pageSize chats at a time
func NewManager(client Client, pageSize int) *Manager {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Manager{
		client:   client,
		pageSize: pageSize,
		log:      logger.WithComponent("chat"),
	}
}

// Load fetches one page of active chats and replaces the loaded list
func (m *Manager) Load(ctx context.Context, page int) error {
	result, err := m.client.GetChats(ctx, page, m.pageSize, true)
	if err != nil {
		return fmt.Errorf("failed to load chats: %w", err)
	}

	m.mu.Lock()
	m.chats = result.Content
	m.page = result.Page
	m.totalPages = result.TotalPages
	m.mu.Unlock()

	m.log.Debug("Loaded chat page", "page", result.Page, "count", len(result.Content))
	return nil
}

// Reload refreshes the currently loaded page
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.RLock()
	page := m.page
	m.mu.RUnlock()
	return m.Load(ctx, page)
}

// Chats returns the loaded chats, filtered by the search query when one is
// set. Matching is a case-insensitive substring test on the title.
func (m *Manager) Chats() []api.Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.searchQuery == "" {
		out := make([]api.Chat, len(m.chats))
		copy(out, m.chats)
		return out
	}

	query := strings.ToLower(m.searchQuery)
	var out []api.Chat
	for _, c := range m.chats {
		if strings.Contains(strings.ToLower(c.Title), query) {
			out = append(out, c)
		}
	}
	return out
}

// SetSearchQuery updates the title filter applied by Chats
func (m *Manager) SetSearchQuery(query string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchQuery = query
}

// Page returns the loaded page index and total page count
func (m *Manager) Page() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.page, m.totalPages
}

// Select marks a loaded chat as current
func (m *Manager) Select(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.chats {
		if c.ID == chatID {
			m.currentID = chatID
			return nil
		}
	}
	return fmt.Errorf("chat %s is not in the loaded list", chatID)
}

// Deselect clears the current selection
func (m *Manager) Deselect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentID = ""
}

// Current returns the selected chat, if any
func (m *Manager) Current() (api.Chat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.chats {
		if c.ID == m.currentID {
			return c, true
		}
	}
	return api.Chat{}, false
}

// Create creates a chat on the server, prepends it to the loaded list, and
// selects it
func (m *Manager) Create(ctx context.Context, model string) (api.Chat, error) {
	created, err := m.client.CreateChat(ctx, model)
	if err != nil {
		return api.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	m.log.Info("Created chat", "chatId", created.ID, "model", created.ModelName)

	m.mu.Lock()
	m.chats = append([]api.Chat{created}, m.chats...)
	m.currentID = created.ID
	m.mu.Unlock()
	return created, nil
}

// Rename updates a chat's title on the server and in the loaded list
func (m *Manager) Rename(ctx context.Context, chatID, title string) error {
	updated, err := m.client.UpdateChatTitle(ctx, chatID, title)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}

	m.mu.Lock()
	for i := range m.chats {
		if m.chats[i].ID == chatID {
			m.chats[i] = updated
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// Archive archives a chat and drops it from the active list
func (m *Manager) Archive(ctx context.Context, chatID string) error {
	if err := m.client.ArchiveChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to archive chat: %w", err)
	}
	m.remove(chatID)
	return nil
}

// Delete removes a chat on the server and from the loaded list
func (m *Manager) Delete(ctx context.Context, chatID string) error {
	if err := m.client.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	m.remove(chatID)
	return nil
}

// remove drops a chat from the loaded list, clearing the selection when it
// was current
func (m *Manager) remove(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.chats[:0]
	for _, c := range m.chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	m.chats = kept
	if m.currentID == chatID {
		m.currentID = ""
	}
}
