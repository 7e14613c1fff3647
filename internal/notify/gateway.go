package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway posts rendered messages to the mail gateway service.
type Gateway struct {
	BaseURL  string
	HTTP     *http.Client
	Renderer *Renderer
}

// NewGateway creates a gateway client with a per-request timeout.
func NewGateway(baseURL string, renderer *Renderer, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		BaseURL:  baseURL,
		Renderer: renderer,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Send renders the template and delivers it. It implements Notifier so the gateway can be
// used directly when no queue sits in between.
func (g *Gateway) Send(ctx context.Context, to, template string, data Data) error {
	msg, err := g.Renderer.Render(to, template, data)
	if err != nil {
		return err
	}
	return g.Deliver(ctx, msg)
}

// Deliver posts one rendered message.
func (g *Gateway) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail gateway error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// Health checks if the mail gateway is available.
func (g *Gateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail gateway unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail gateway unhealthy: %s", resp.Status)
	}
	return nil
}
