package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Заголовки исходящего запроса
const (
	HeaderEvent    = "X-Webhook-Event"
	HeaderDelivery = "X-Webhook-Delivery"
	HeaderAttempt  = "X-Webhook-Attempt"
)

// maxResponseBody ограничение сохраняемого тела ответа
const maxResponseBody = 4096

// Request исходящая доставка
type Request struct {
	URL        string
	Payload    []byte
	Secret     string
	EventType  string
	DeliveryID string
	Attempt    int
}

// Response ответ получателя
type Response struct {
	StatusCode int
	Body       string
}

// Success ответ со статусом 2xx
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender отправляет payload получателю. Ошибка означает, что ответа нет;
// не-2xx ответ возвращается без ошибки. Подпись секретом остается на стороне реализации.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// SenderFunc адаптер функции к Sender
type SenderFunc func(ctx context.Context, req Request) (Response, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// HTTPSenderConfig конфигурация HTTP отправителя
type HTTPSenderConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// DefaultHTTPSenderConfig возвращает конфигурацию по умолчанию
func DefaultHTTPSenderConfig() HTTPSenderConfig {
	return HTTPSenderConfig{
		Timeout:   30 * time.Second,
		UserAgent: "psp-core-webhooks/1.0",
	}
}

// HTTPSender отправляет JSON POST запросом
type HTTPSender struct {
	client *http.Client
	config HTTPSenderConfig
}

// NewHTTPSender создает HTTP отправителя
func NewHTTPSender(config HTTPSenderConfig) *HTTPSender {
	return &HTTPSender{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderEvent, req.EventType)
	if req.DeliveryID != "" {
		httpReq.Header.Set(HeaderDelivery, req.DeliveryID)
	}
	if req.Attempt > 0 {
		httpReq.Header.Set(HeaderAttempt, strconv.Itoa(req.Attempt))
	}
	if s.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, nil
	}
	return Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
