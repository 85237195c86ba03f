package uplink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bit2swaz/loramesh/internal/store"
)

// Service posts messages received over the radio to a chat webhook, so a
// node with internet access can bridge the mesh to the outside.
type Service struct {
	WebhookURL string
	// Prefix selects which messages leave the mesh; it is stripped before
	// posting. An empty prefix relays everything.
	Prefix string
	client *http.Client
}

func NewService(url, prefix string) *Service {
	return &Service{
		WebhookURL: url,
		Prefix:     prefix,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *Service) Start(msgChan <-chan store.Message) {
	go func() {
		for msg := range msgChan {
			if err := s.Relay(msg); err != nil {
				slog.Error("Uplink failed", "id", msg.ID, "error", err)
			}
		}
	}()
}

// Relay posts one message if it matches the prefix.
func (s *Service) Relay(msg store.Message) error {
	content, ok := s.filter(msg.Payload)
	if !ok {
		return nil
	}

	text := fmt.Sprintf("📡 **[LORA RELAY]**\n**From:** %s\n**Sent:** %s\n**Message:** %s",
		msg.Sender,
		time.Unix(msg.SentAt, 0).UTC().Format(time.RFC3339),
		content,
	)
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("failed to marshal uplink payload: %w", err)
	}

	resp, err := s.client.Post(s.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send uplink request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uplink returned %s", resp.Status)
	}
	slog.Info("Relayed message to uplink", "id", msg.ID)
	return nil
}

func (s *Service) filter(payload string) (string, bool) {
	if s.Prefix == "" {
		return payload, true
	}
	if !strings.HasPrefix(payload, s.Prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(payload, s.Prefix)), true
}
