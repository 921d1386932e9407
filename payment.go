package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel results for processor calls that find the hold already in a
// terminal state. Callers treat these as success wherever the operation is
// idempotent (a void retried after "already voided" did its job).
var (
	ErrAlreadyCaptured = errors.New("authorization already captured")
	ErrAlreadyVoided   = errors.New("authorization already voided")
)

// PaymentProcessor is the card-on-file gateway boundary. Authorize places a
// manual-capture hold; Capture charges it; Void releases it.
type PaymentProcessor interface {
	Authorize(ctx context.Context, orderID string, amountCents int64) (string, error)
	Capture(ctx context.Context, authID string) error
	Void(ctx context.Context, authID string) error
}

// HTTPProcessor talks to a payment gateway over HTTPS. Outbound calls share
// a token-bucket throttle so a sweep over many stale orders cannot hammer
// the gateway.
type HTTPProcessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPProcessor(baseURL, apiKey string) *HTTPProcessor {
	return &HTTPProcessor{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (p *HTTPProcessor) Authorize(ctx context.Context, orderID string, amountCents int64) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"order_id":     orderID,
		"amount_cents": amountCents,
		"capture":      "manual",
	})
	var out struct {
		ID string `json:"id"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/authorizations", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("processor returned no authorization id")
	}
	return out.ID, nil
}

func (p *HTTPProcessor) Capture(ctx context.Context, authID string) error {
	return p.call(ctx, http.MethodPost, "/v1/authorizations/"+authID+"/capture", nil, nil)
}

func (p *HTTPProcessor) Void(ctx context.Context, authID string) error {
	return p.call(ctx, http.MethodPost, "/v1/authorizations/"+authID+"/void", nil, nil)
}

func (p *HTTPProcessor) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var apiErr struct {
			Code string `json:"error_code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch apiErr.Code {
		case "already_captured":
			return ErrAlreadyCaptured
		case "already_voided":
			return ErrAlreadyVoided
		}
		return fmt.Errorf("processor conflict: %s", apiErr.Code)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("processor returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FakeProcessor is an in-memory processor used by the memory adapter and by
// tests. Error fields inject failures per operation.
type FakeProcessor struct {
	mu    sync.Mutex
	holds map[string]HoldState
	seq   int

	AuthorizeErr error
	CaptureErr   error
	VoidErr      error
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{holds: map[string]HoldState{}}
}

func (f *FakeProcessor) Authorize(ctx context.Context, orderID string, amountCents int64) (string, error) {
	if f.AuthorizeErr != nil {
		return "", f.AuthorizeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("auth_%06d", f.seq)
	f.holds[id] = HoldAuthorized
	return id, nil
}

func (f *FakeProcessor) Capture(ctx context.Context, authID string) error {
	if f.CaptureErr != nil {
		return f.CaptureErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.holds[authID] {
	case HoldAuthorized:
		f.holds[authID] = HoldCaptured
		return nil
	case HoldCaptured:
		return ErrAlreadyCaptured
	case HoldVoided:
		return ErrAlreadyVoided
	default:
		return fmt.Errorf("unknown authorization %q", authID)
	}
}

func (f *FakeProcessor) Void(ctx context.Context, authID string) error {
	if f.VoidErr != nil {
		return f.VoidErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.holds[authID] {
	case HoldAuthorized:
		f.holds[authID] = HoldVoided
		return nil
	case HoldVoided:
		return ErrAlreadyVoided
	case HoldCaptured:
		return ErrAlreadyCaptured
	default:
		return fmt.Errorf("unknown authorization %q", authID)
	}
}

// HoldState reports the fake's view of a hold, for tests.
func (f *FakeProcessor) HoldState(authID string) HoldState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holds[authID]
}
