package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Sender delivers a one-time code to a phone number. Delivery is an opaque
// collaborator: the service only gets a best-effort acknowledgment and never
// blocks a login flow on it.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// HTTPSender posts delivery requests to an SMS gateway webhook.
type HTTPSender struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewHTTPSender(endpoint, apiKey string) *HTTPSender {
	return &HTTPSender{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (s *HTTPSender) Send(ctx context.Context, phone, code string) error {
	payload, err := json.Marshal(map[string]string{
		"phone_number": phone,
		"message":      fmt.Sprintf("Your verification code is %s", code),
	})
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway responded %d", resp.StatusCode)
	}
	return nil
}

// LogSender logs instead of delivering; the default in development.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	s.logger.Infow("sms_code_logged", "phone", phone, "code", code)
	return nil
}

// BreakerSender wraps a Sender in a circuit breaker so a struggling gateway
// sheds load fast instead of tying up dispatch goroutines.
type BreakerSender struct {
	inner   Sender
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerSender(inner Sender) *BreakerSender {
	return &BreakerSender{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sms-gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (s *BreakerSender) Send(ctx context.Context, phone, code string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.Send(ctx, phone, code)
	})
	return err
}
