package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// ErrSendFailed is returned when the chat transport rejects a reply
var ErrSendFailed = errors.New("transport send failed")

// Sender delivers outbound reply actions to the chat transport over HTTP
// and downloads user-submitted files. It is the only component that talks
// to the chat API; the core deals in Reply values.
type Sender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewSender creates a transport sender
func NewSender(baseURL, token string, timeout time.Duration) *Sender {
	return &Sender{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendText sends a plain text message to a user
func (s *Sender) SendText(ctx context.Context, userID int64, text string) error {
	return s.post(ctx, "/sendMessage", map[string]interface{}{
		"user_id": userID,
		"text":    text,
	})
}

// SendPhoto sends a photo by stored reference to a user
func (s *Sender) SendPhoto(ctx context.Context, userID int64, photoRef string) error {
	return s.post(ctx, "/sendPhoto", map[string]interface{}{
		"user_id": userID,
		"photo":   photoRef,
	})
}

// SendKeyboard sends a text message with an inline keyboard
func (s *Sender) SendKeyboard(ctx context.Context, userID int64, text string, options []models.ReplyOption) error {
	return s.post(ctx, "/sendKeyboard", map[string]interface{}{
		"user_id": userID,
		"text":    text,
		"options": options,
	})
}

// SendReply dispatches one reply action by kind
func (s *Sender) SendReply(ctx context.Context, userID int64, reply models.Reply) error {
	switch reply.Kind {
	case models.ReplyText:
		return s.SendText(ctx, userID, reply.Text)
	case models.ReplyPhoto:
		return s.SendPhoto(ctx, userID, reply.PhotoRef)
	case models.ReplyKeyboard:
		return s.SendKeyboard(ctx, userID, reply.Text, reply.Options)
	default:
		return fmt.Errorf("unknown reply kind %q", reply.Kind)
	}
}

// SendReplies dispatches a list of reply actions in order, stopping at the
// first failure
func (s *Sender) SendReplies(ctx context.Context, userID int64, replies []models.Reply) error {
	for _, reply := range replies {
		if err := s.SendReply(ctx, userID, reply); err != nil {
			return err
		}
	}

	return nil
}

// DownloadFile fetches the bytes of a user-submitted file by its transport
// reference
func (s *Sender) DownloadFile(ctx context.Context, fileRef string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/%s", s.baseURL, fileRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file body: %w", err)
	}

	return data, nil
}

func (s *Sender) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, string(respBody))
	}

	return nil
}

func (s *Sender) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
