package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/kimnauryz/ai-sarbaz/pkg/logger"
)

// Client talks to the ai-sarbaz chat server
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient carries no timeout: streaming responses and the
	// heartbeat channel stay open indefinitely
	streamClient *http.Client
}

// NewClient creates a client with the default request timeout
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

// NewClientWithTimeout creates a client with a custom request timeout for
// plain (non-streaming) calls
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{},
	}
}

// GetChats returns a page of chats
func (c *Client) GetChats(ctx context.Context, page, size int, activeOnly bool) (Page[Chat], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("activeOnly", strconv.FormatBool(activeOnly))

	var result Page[Chat]
	if err := c.getJSON(ctx, "/chats?"+q.Encode(), &result); err != nil {
		return Page[Chat]{}, fmt.Errorf("failed to fetch chats: %w", err)
	}
	return result, nil
}

// CreateChat creates a new chat for the given model
func (c *Client) CreateChat(ctx context.Context, model string) (Chat, error) {
	body, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return Chat{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var chat Chat
	if err := c.doJSON(ctx, "POST", "/chats", body, &chat); err != nil {
		return Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// GetChatHistory returns a page of messages for a chat
func (c *Client) GetChatHistory(ctx context.Context, chatID string, page, size int) (Page[Message], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result Page[Message]
	path := fmt.Sprintf("/chats/%s/history?%s", url.PathEscape(chatID), q.Encode())
	if err := c.getJSON(ctx, path, &result); err != nil {
		return Page[Message]{}, fmt.Errorf("failed to fetch chat history: %w", err)
	}
	return result, nil
}

// UpdateChatTitle renames a chat
func (c *Client) UpdateChatTitle(ctx context.Context, chatID, title string) (Chat, error) {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return Chat{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var chat Chat
	path := "/chats/" + url.PathEscape(chatID) + "/title"
	if err := c.doJSON(ctx, "PUT", path, body, &chat); err != nil {
		return Chat{}, fmt.Errorf("failed to update chat title: %w", err)
	}
	return chat, nil
}

// ArchiveChat archives a chat
func (c *Client) ArchiveChat(ctx context.Context, chatID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/archive"
	if err := c.doJSON(ctx, "PUT", path, nil, nil); err != nil {
		return fmt.Errorf("failed to archive chat: %w", err)
	}
	return nil
}

// DeleteChat deletes a chat
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	path := "/chats/" + url.PathEscape(chatID)
	if err := c.doJSON(ctx, "DELETE", path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// CheckHealth reports whether the server is reachable and healthy
func (c *Client) CheckHealth(ctx context.Context) bool {
	log := logger.WithComponent("api")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/chats/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("Health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// SendStreamingPrompt posts a prompt as multipart form data and returns the
// raw SSE response body. The caller owns the body and must close it.
func (c *Client) SendStreamingPrompt(ctx context.Context, req PromptRequest) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":  req.Model,
		"prompt": req.Prompt,
		"role":   req.Role,
		"chatId": req.ChatID,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	for _, att := range req.Attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="attachments"; filename=%q`, att.Filename))
		if att.ContentType != "" {
			header.Set("Content-Type", att.ContentType)
		}
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chats/streaming/prompt", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	return resp.Body, nil
}

// OpenHeartbeat opens the server-push liveness channel and returns its SSE
// body. The caller owns the body and must close it.
func (c *Client) OpenHeartbeat(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/chats/streaming/heartbeat", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("heartbeat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, "GET", path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError reads the error response body for detailed error information
func (c *Client) statusError(resp *http.Response) error {
	errorBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d (failed to read error response: %w)", resp.StatusCode, err)
	}

	var errorResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(errorBody, &errorResp) == nil && errorResp.Error != "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Error)
	}

	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(errorBody))
}
