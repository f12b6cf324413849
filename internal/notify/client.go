// Package notify предоставляет клиент для внешнего сервиса доставки подарочных карт.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом доставки.
// Само письмо получателю отправляет внешний сервис; ядро лишь сообщает
// о факте выпуска карты.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CardCreatedEvent описывает событие выпуска подарочной карты.
type CardCreatedEvent struct {
	EventID  string  `json:"event_id"`
	CardID   int64   `json:"card_id"`
	OrderRef *string `json:"order_ref"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису доставки по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// CardCreated отправляет событие о выпуске карты. Каждое событие получает
// собственный идентификатор, чтобы получатель мог отбрасывать дубли.
func (c *Client) CardCreated(ctx context.Context, cardID int64, orderRef *string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	event := CardCreatedEvent{
		EventID:  uuid.NewString(),
		CardID:   cardID,
		OrderRef: orderRef,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	url := base + "/api/notifications/gift-card"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
