package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

const maxAttempts = 3

// GenerateWithRetry calls the client up to three times with doubling
// backoff. Rejections the service would only repeat (bad request, bad
// auth) fail immediately.
func GenerateWithRetry(ctx context.Context, c Client, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Second << (attempt - 1)
			log.Printf("⚠️ model call failed (attempt %d/%d), retrying in %s: %v", attempt, maxAttempts, delay, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.Generate(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		if !retryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("model call failed after %d attempts: %w", maxAttempts, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
	}
	return true
}
