package sbat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const (
	DefaultBaseURL = "https://api.rijbewijs.sbat.be/praktijk/api"

	authPath  = "/user/authenticate"
	checkPath = "/exam/available"

	// examType is the practical exam code; the monitor never queries others.
	examType = "E2"

	tokenExpiredMarker = "The token is expired"
)

var ErrAuthenticationFailed = errors.New("sbat authentication failed")

var standardHeaders = map[string]string{
	"Cache-Control": "no-cache",
	"Content-Type":  "application/json",
	"Accept":        "*/*",
	"Connection":    "keep-alive",
	"User-Agent":    "PostmanRuntime/7.39.1",
}

type requestLog interface {
	Create(ctx context.Context, req *model.SbatRequest) error
	LastAuthentication(ctx context.Context) (*model.SbatRequest, error)
}

// Client talks to the SBAT exam-booking API and audits every call.
type Client struct {
	baseURL    string
	username   string
	password   string
	log        requestLog
	httpClient *http.Client
	now        func() time.Time
}

// NewClient falls back to DefaultBaseURL when baseURL is empty.
func NewClient(baseURL, username, password string, timeout time.Duration, log requestLog) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		log:      log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// CheckResponse is the raw availability response. Interpretation is left
// to the caller.
type CheckResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// TokenExpired reports whether the upstream rejected the bearer token
// because it expired, as opposed to any other authorization failure.
func (r *CheckResponse) TokenExpired() bool {
	return r.StatusCode == http.StatusUnauthorized &&
		strings.Contains(r.Header.Get("WWW-Authenticate"), tokenExpiredMarker)
}

// Slots decodes the availability list of a 200 response.
func (r *CheckResponse) Slots() ([]Slot, error) {
	if r.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability returned status %d", r.StatusCode)
	}
	var slots []Slot
	if err := json.Unmarshal(r.Body, &slots); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}
	return slots, nil
}

// Authenticate returns a bearer token, reusing the one from the latest
// successful authentication record while it has not expired.
func (c *Client) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	last, err := c.log.LastAuthentication(ctx)
	if err != nil {
		slog.Warn("failed to read cached sbat token", "error", err)
	}
	if last != nil && last.ResponseBody != nil {
		if tok, err := decodeToken(*last.ResponseBody); err == nil && c.now().Before(tok.Expiry) {
			return tok, nil
		}
	}
	return c.Reauthenticate(ctx)
}

// Reauthenticate always posts the configured credentials.
func (c *Client) Reauthenticate(ctx context.Context) (*oauth2.Token, error) {
	url := c.baseURL + authPath
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}

	status, _, body, err := c.post(ctx, url, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	text := string(body)
	c.audit(ctx, &model.SbatRequest{
		RequestType:    model.RequestAuthentication,
		URL:            url,
		ResponseStatus: status,
		ResponseBody:   &text,
	})

	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAuthenticationFailed, status)
	}

	tok, err := decodeToken(text)
	if err != nil {
		// The upstream accepted the credentials; an undecodable token is
		// still usable, it just can't be cached.
		slog.Warn("sbat token has no readable expiry", "error", err)
		return &oauth2.Token{AccessToken: cleanToken(text), TokenType: "Bearer"}, nil
	}
	return tok, nil
}

// Check queries availability for one (center, license) scope starting today.
func (c *Client) Check(ctx context.Context, token *oauth2.Token, examCenterID int, licenseType string) (*CheckResponse, error) {
	url := c.baseURL + checkPath
	now := c.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	payload, err := json.Marshal(map[string]any{
		"examCenterId": examCenterID,
		"licenseType":  licenseType,
		"examType":     examType,
		"startDate":    startOfDay.Format("2006-01-02T15:04:05"),
	})
	if err != nil {
		return nil, fmt.Errorf("encode availability request: %w", err)
	}

	status, header, body, err := c.post(ctx, url, payload, token)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	rec := &model.SbatRequest{
		RequestType:    model.RequestCheckTimeSlots,
		URL:            url,
		RequestBody:    payload,
		ResponseStatus: status,
	}
	// Successful bodies are parsed into slot records; storing them too
	// would only bloat the audit log.
	if status != http.StatusOK {
		text := string(body)
		rec.ResponseBody = &text
	}
	c.audit(ctx, rec)

	return &CheckResponse{StatusCode: status, Header: header, Body: body}, nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte, token *oauth2.Token) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range standardHeaders {
		req.Header.Set(k, v)
	}
	if token != nil {
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// audit records the call. The audit log must never break polling, so
// failures are only logged.
func (c *Client) audit(ctx context.Context, rec *model.SbatRequest) {
	rec.Timestamp = c.now()
	rec.EmailUsed = c.username
	if err := c.log.Create(ctx, rec); err != nil {
		slog.Error("failed to audit sbat request", "error", err, "type", rec.RequestType)
	}
}

// decodeToken reads the expiry of a JWT without verifying its signature;
// we only need to know when to ask for a new one.
func decodeToken(raw string) (*oauth2.Token, error) {
	access := cleanToken(raw)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("read exp: %w", err)
	}
	if exp == nil {
		return nil, errors.New("token has no exp claim")
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      exp.Time,
	}, nil
}

// cleanToken strips whitespace and the JSON quotes some responses wrap
// the token in.
func cleanToken(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"`)
}
