// Package backend is the client for the Twin3 verification and SBT API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRatePerSecond = 10
	defaultDialTimeout   = 5 * time.Second
	defaultTLSHandshake  = 5 * time.Second
	defaultIdleTimeout   = 30 * time.Second
	userAgent            = "TwinGate-TelegramBot/1.0"
	platformTelegram     = "telegram"
	maxErrorBodyBytes    = 4 << 10
)

// Verification and mint statuses reported by the backend
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Config configures the API client
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
}

// Client talks to the backend over HTTP+JSON
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
	newKey   func() string
}

// NewClient creates a backend client
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = buildHTTPClient(timeout)
	}

	return &Client{
		baseURL:  base.String(),
		token:    cfg.Token,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		validate: validator.New(),
		newKey:   func() string { return uuid.NewString() },
	}, nil
}

func buildHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     defaultIdleTimeout,
		TLSHandshakeTimeout: defaultTLSHandshake,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// StartRequest asks the backend for a verification link
type StartRequest struct {
	UserID   int64
	Username string
	Level    int
}

// StartResult is a verification link issued by the backend
type StartResult struct {
	VerificationURL string    `json:"verificationUrl" validate:"required,url"`
	Token           string    `json:"token" validate:"required"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// CheckResult is the state of a verification token
type CheckResult struct {
	Status        string `json:"status" validate:"required,oneof=pending completed failed"`
	Passed        *bool  `json:"passed,omitempty"`
	HumanityIndex *int   `json:"humanityIndex,omitempty" validate:"omitempty,min=0,max=255"`
}

// MintRequest asks the backend for an SBT mint
type MintRequest struct {
	UserID         int64
	Username       string
	IdempotencyKey string
}

// MintResult is an accepted SBT mint request
type MintResult struct {
	MintRequestID     string `json:"mintRequestId" validate:"required"`
	WalletAddress     string `json:"walletAddress" validate:"required"`
	EstimatedMintTime string `json:"estimatedMintTime,omitempty"`
}

// MintStatusResult is the state of a mint request
type MintStatusResult struct {
	Status     string `json:"status" validate:"required,oneof=pending completed failed"`
	SBTAddress string `json:"sbtAddress,omitempty"`
	TokenID    string `json:"tokenId,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	Error      string `json:"error,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// StartVerification creates a verification link for a level
func (c *Client) StartVerification(ctx context.Context, req StartRequest) (*StartResult, error) {
	body := map[string]any{
		"platform": platformTelegram,
		"userId":   strconv.FormatInt(req.UserID, 10),
		"username": req.Username,
		"level":    req.Level,
	}
	var out StartResult
	if err := c.do(ctx, http.MethodPost, "/twin3/verification/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckVerificationStatus reports the state of a verification token
func (c *Client) CheckVerificationStatus(ctx context.Context, token string) (*CheckResult, error) {
	var out CheckResult
	path := "/twin3/verification/status/" + url.PathEscape(token)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestSBTMint asks the backend to mint the user's SBT.
// Requests sharing an IdempotencyKey are one mint to the backend.
func (c *Client) RequestSBTMint(ctx context.Context, req MintRequest) (*MintResult, error) {
	body := map[string]any{
		"platform": platformTelegram,
		"userId":   strconv.FormatInt(req.UserID, 10),
		"username": req.Username,
	}
	var out MintResult
	if err := c.send(ctx, http.MethodPost, "/twin3/sbt/mint", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckMintStatus reports the state of a mint request
func (c *Client) CheckMintStatus(ctx context.Context, mintRequestID string) (*MintStatusResult, error) {
	var out MintStatusResult
	path := "/twin3/sbt/mint/" + url.PathEscape(mintRequestID) + "/status"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, "", body, out)
}

// send performs one API call. Mutating calls carry key, or a fresh one when key is empty.
func (c *Client) send(ctx context.Context, method, path, key string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if key == "" {
			key = c.newKey()
		}
		req.Header.Set("Idempotency-Key", key)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var env envelope
		if json.Unmarshal(msg, &env) == nil && env.Message != "" {
			apiErr.Message = env.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(msg))
		}
		return apiErr
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if !env.Success {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s response: %w", path, err)
	}
	return nil
}
