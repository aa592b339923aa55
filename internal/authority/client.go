package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticket-verifier/internal/status"
	"ticket-verifier/models"
	"ticket-verifier/monitoring"
	"ticket-verifier/utils"
)

const (
	opLookup = "lookup"
	opVerify = "verify"
)

// Lookup reads authoritative ticket state. It never mutates anything.
type Lookup interface {
	FetchTicket(ctx context.Context, token, ticketID string) (*models.TicketRecord, error)
}

// Verifier asks the authority to mark a ticket as used. The authority performs
// the compare-and-swap; a lost race is reported as *status.AlreadyUsedError.
type Verifier interface {
	MarkUsed(ctx context.Context, token, ticketID string) (*models.TicketRecord, error)
}

type ClientConfig struct {
	BaseURL string `json:"baseUrl"`
	Timeout time.Duration
}

type Client struct {
	// baseURL is the base url of the ticket backend.
	baseURL *url.URL

	// breaker fails calls fast while the backend is down.
	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client
}

// NewClient creates a client for the ticket backend.
func NewClient(c *ClientConfig, breaker *utils.CircuitBreaker) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("authority: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authority: base url %q must be absolute", c.BaseURL)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Client{
		baseURL: base,
		breaker: breaker,
		// set http client with timeout.
		hc: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchTicket gets the ticket detail by identifier.
func (c *Client) FetchTicket(ctx context.Context, token, ticketID string) (*models.TicketRecord, error) {
	return c.call(ctx, opLookup, http.MethodGet, token, ticketID, "")
}

// MarkUsed asks the backend to verify the ticket. The returned record is the
// server-confirmed state.
func (c *Client) MarkUsed(ctx context.Context, token, ticketID string) (*models.TicketRecord, error) {
	record, err := c.call(ctx, opVerify, http.MethodPost, token, ticketID, "/verify")
	if err != nil {
		return nil, err
	}
	if !record.Used {
		return nil, &status.AuthorityError{
			Op:         opVerify,
			StatusCode: http.StatusOK,
			Message:    "backend acknowledged verify without marking the ticket used",
			Err:        status.ErrTransient,
		}
	}
	return record, nil
}

func (c *Client) call(ctx context.Context, op, method, token, ticketID, suffix string) (*models.TicketRecord, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, &status.AuthorityError{Op: op, Message: "empty ticket identifier", Err: status.ErrNotFound}
	}

	start := time.Now()
	var record *models.TicketRecord
	run := func(ctx context.Context) error {
		var err error
		record, err = c.do(ctx, op, method, token, ticketID, suffix)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, run, countsAgainstBreaker)
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			err = &status.AuthorityError{Op: op, Message: err.Error(), Err: status.ErrTransient}
		}
	} else {
		err = run(ctx)
	}

	monitoring.TrackAuthorityCall(op, string(status.KindOf(err)), time.Since(start))
	if err != nil {
		slog.Warn("authority call failed", "op", op, "ticket", utils.Fingerprint(ticketID), "error", err)
		return nil, err
	}
	return record, nil
}

// countsAgainstBreaker is true for failures that say the backend is unhealthy.
func countsAgainstBreaker(err error) bool {
	return errors.Is(err, status.ErrTransient)
}

func (c *Client) do(ctx context.Context, op, method, token, ticketID, suffix string) (*models.TicketRecord, error) {
	endpoint := c.baseURL.JoinPath("tickets").String() + "/" + url.PathEscape(ticketID) + suffix

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, &status.AuthorityError{Op: op, Message: "http.NewRequest: " + err.Error(), Err: status.ErrTransient}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", utils.RequestID())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &status.AuthorityError{Op: op, Message: "http.Do: " + err.Error(), Err: status.ErrTransient}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &status.AuthorityError{Op: op, StatusCode: resp.StatusCode, Message: "read body: " + err.Error(), Err: status.ErrTransient}
	}

	return decodeResponse(op, resp.StatusCode, body)
}

// reply is the backend envelope. Some endpoints answer with the bare ticket
// object instead, which decodeTicket handles.
type reply struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(op string, code int, body []byte) (*models.TicketRecord, error) {
	var env reply
	_ = json.Unmarshal(body, &env)

	fail := func(err error) error {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &status.AuthorityError{Op: op, StatusCode: code, Message: msg, Err: err}
	}

	switch {
	case code == http.StatusNotFound:
		return nil, fail(status.ErrNotFound)

	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return nil, fail(status.ErrUnauthorized)

	case op == opVerify && (code == http.StatusConflict || isAlreadyUsed(env.Status)):
		// The 409 body may carry the ticket as the winning verification left it.
		record, _ := decodeTicket(body, env)
		return nil, &status.AlreadyUsedError{Record: record}

	case code >= 200 && code < 300:
		if env.Status != "" && !isSuccess(env.Status) {
			return nil, fail(status.ErrTransient)
		}
		record, err := decodeTicket(body, env)
		if err != nil {
			return nil, &status.AuthorityError{Op: op, StatusCode: code, Message: err.Error(), Err: status.ErrTransient}
		}
		return record, nil

	default:
		return nil, fail(status.ErrTransient)
	}
}

func decodeTicket(body []byte, env reply) (*models.TicketRecord, error) {
	raw := body
	if len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}

	var record models.TicketRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if record.TicketID == "" {
		return nil, errors.New("decode ticket: missing ticket_id")
	}
	return &record, nil
}

// isSuccess accepts the sentinels the backend has been seen to use.
func isSuccess(s string) bool {
	switch strings.ToLower(s) {
	case "success", "successful", "ok":
		return true
	}
	return false
}

func isAlreadyUsed(s string) bool {
	switch strings.ToLower(s) {
	case "already_used", "already_verified", "used":
		return true
	}
	return false
}
