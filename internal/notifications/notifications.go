package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/env"
)

var (
	mu          sync.RWMutex
	client      *http.Client
	server      string
	topic       string
	initialized bool
	pending     sync.WaitGroup
)

// Init initializes the notification client from env.Cfg.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	if env.Cfg == nil || env.Cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	server = strings.TrimRight(env.Cfg.NtfyServer, "/")
	topic = env.Cfg.NtfyTopic
	initialized = true

	log.Info().
		Str("server", server).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Send posts a notification and waits for ntfy to accept it.
func Send(title, message string) error {
	mu.RLock()
	ok, c, url, t := initialized, client, server, topic
	mu.RUnlock()
	if !ok {
		return fmt.Errorf("notifications not initialized")
	}

	payload := map[string]interface{}{
		"topic":   t,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// Notify sends in the background, for callers that must not block. It is a
// no-op when notifications are disabled.
func Notify(title, message string) {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if !ok {
		return
	}
	pending.Add(1)
	go func() {
		defer pending.Done()
		if err := Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}

// Wait blocks until background notifications have finished.
func Wait() {
	pending.Wait()
}
