package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	pairux "github.com/pairux/pairux-go"
)

// newClient creates a client from the stored configuration and
// credentials. Every emitted event is printed to out as one JSON line.
func newClient(out io.Writer) (*pairux.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.AccessToken == "" {
		return nil, fmt.Errorf("no access token, run 'pairux login <access-token>' first")
	}
	cc, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	client := pairux.NewClientWithConfig(cc,
		pairux.WithEmitter(newLinePrinter(out)),
		pairux.WithCredentials(pairux.Credentials{
			UserID:   cfg.Auth.UserID,
			Username: cfg.Auth.Username,
		}),
	)
	client.SetToken(cfg.Auth.AccessToken)
	return client, nil
}

// linePrinter is an Emitter writing {"event":...,"payload":...} lines.
type linePrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLinePrinter(out io.Writer) *linePrinter {
	return &linePrinter{enc: json.NewEncoder(out)}
}

func (p *linePrinter) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload"`
	}{event, payload})
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// maskKey shows the first 12 and last 4 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
