package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatReply `json:"message"`
		// Some providers answer with the streaming shape even when not streaming.
		Delta        chatReply `json:"delta"`
		Text         string    `json:"text"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatReply struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func (r chatReply) text() string {
	if s := strings.TrimSpace(r.Content); s != "" {
		return s
	}
	for _, call := range r.ToolCalls {
		if s := strings.TrimSpace(call.Function.Arguments); s != "" {
			return s
		}
	}
	return ""
}

type statusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.Code, e.Body)
}

type emptyReplyError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyReplyError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

func (c *Client) completeWithRetry(ctx context.Context, req chatRequest, op string) (string, error) {
	attempts := max(c.attempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, body, err := c.send(ctx, req)
		if err == nil {
			content, finish, refusal := replyContent(resp)
			if content != "" {
				return content, nil
			}
			err = &emptyReplyError{Op: op, FinishReason: finish, Refusal: refusal, Snippet: snippet(string(body))}
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func replyContent(resp chatResponse) (content, finish, refusal string) {
	for _, choice := range resp.Choices {
		if finish == "" {
			finish = strings.TrimSpace(choice.FinishReason)
		}
		if refusal == "" {
			refusal = strings.TrimSpace(choice.Message.Refusal)
		}
		for _, candidate := range []string{choice.Message.text(), choice.Delta.text(), strings.TrimSpace(choice.Text)} {
			if candidate != "" {
				return candidate, finish, refusal
			}
		}
	}
	return "", finish, refusal
}

func (c *Client) send(ctx context.Context, payload chatRequest) (chatResponse, []byte, error) {
	var out chatResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return out, nil, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return out, body, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body)), RetryAfter: retryAfter}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, fmt.Errorf("llm request: decode response: %w", err)
	}
	if out.Error != nil {
		return out, body, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(out.Error.Message))
	}
	return out, body, nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, attempts int) (time.Duration, bool) {
	if err == nil || attempt >= attempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var empty *emptyReplyError
	if errors.As(err, &empty) {
		return c.backoff(attempt), true
	}
	var status *statusError
	if errors.As(err, &status) {
		if status.Code != http.StatusRequestTimeout && status.Code != http.StatusTooManyRequests && status.Code < http.StatusInternalServerError {
			return 0, false
		}
		if status.RetryAfter > 0 {
			return c.capDelay(status.RetryAfter), true
		}
		return c.backoff(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles the base delay per attempt: base, 2*base, 4*base, ...
func (c *Client) backoff(attempt int) time.Duration {
	if c.baseDelay <= 0 {
		return 0
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.maxDelay > 0 && delay >= c.maxDelay {
			break
		}
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.maxDelay > 0 && delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
