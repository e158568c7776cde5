package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultAttempts       = 3
	defaultInitialBackoff = time.Second
)

// Payload is the JSON body posted to a session's callback URL after a
// successful commit.
type Payload struct {
	SessionID   string `json:"session_id"`
	FileID      string `json:"file_id"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	CompletedAt string `json:"completed_at"`
}

// Transport performs a single HTTP round trip. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// NotifierConfig carries the collaborators and tuning for a Notifier.
type NotifierConfig struct {
	Transport      Transport
	Clock          clockwork.Clock
	Logger         *zap.Logger
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Notifier posts commit notifications with bounded per-attempt timeouts
// and exponential backoff between attempts. Delivery outcome never feeds
// back into commit success; the caller only records it.
type Notifier struct {
	transport      Transport
	clock          clockwork.Clock
	logger         *zap.Logger
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
}

// NewNotifier applies defaults for any zero-valued configuration field.
func NewNotifier(cfg NotifierConfig) *Notifier {
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Client{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = defaultAttempts
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	return &Notifier{
		transport:      transport,
		clock:          clock,
		logger:         logger,
		timeout:        timeout,
		maxAttempts:    attempts,
		initialBackoff: backoff,
	}
}

// Notify posts the payload once. Success is any 2xx response within the
// configured timeout.
func (n *Notifier) Notify(ctx context.Context, callbackURL string, payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook payload marshal failed", zap.Error(err))
		return false
	}

	attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", zap.String("url", callbackURL), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.transport.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("url", callbackURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Retry delivers with up to MaxAttempts tries, doubling the backoff after
// each failure (1s, 2s, 4s, ...). It returns true on the first success
// and false once attempts are exhausted or the context is cancelled.
func (n *Notifier) Retry(ctx context.Context, callbackURL string, payload Payload) bool {
	backoff := n.initialBackoff

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if n.Notify(ctx, callbackURL, payload) {
			if attempt > 1 {
				n.logger.Info("webhook delivered after retry",
					zap.String("url", callbackURL),
					zap.Int("attempt", attempt))
			}
			return true
		}
		if attempt == n.maxAttempts {
			break
		}

		select {
		case <-n.clock.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			n.logger.Warn("webhook retry cancelled", zap.String("url", callbackURL), zap.Error(ctx.Err()))
			return false
		}
	}

	n.logger.Warn("webhook delivery exhausted",
		zap.String("url", callbackURL),
		zap.Int("attempts", n.maxAttempts))
	return false
}
