// Package client talks to the verification API on behalf of the wizard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/domains/verifications/wizard"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
)

const defaultTimeout = 10 * time.Second

// Client implements wizard.Backend over the JSON API mounted at BaseURL
// (for example https://api.example.com/api/v1).
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ wizard.Backend = (*Client)(nil)

// New returns a Client that authenticates with a bearer token. A nil httpClient
// selects a client with a 10s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ProblemError is a non-2xx response decoded from its problem details body.
type ProblemError struct {
	Status  int
	Problem httpapi.ProblemDetails
}

func (e *ProblemError) Error() string {
	msg := e.Problem.Title
	if e.Problem.Detail != nil {
		msg += ": " + *e.Problem.Detail
	}
	return fmt.Sprintf("verification api: %d %s", e.Status, msg)
}

// Unwrap maps the response onto the wizard's error vocabulary.
func (e *ProblemError) Unwrap() error {
	problemType := ""
	if e.Problem.Type != nil {
		problemType = *e.Problem.Type
	}
	switch problemType {
	case httpapi.ProblemTypeIncomplete:
		return wizard.ErrIncomplete
	case httpapi.ProblemTypeInvalidTransition:
		return wizard.ErrClosed
	}
	return nil
}

type attemptPayload struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"ownerId"`
	Version     int64           `json:"version"`
	Sections    model.Sections  `json:"sections"`
	Decision    model.Decision  `json:"decision"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	DraftData   json.RawMessage `json:"draftData,omitempty"`
}

func (p attemptPayload) toAttempt() wizard.Attempt {
	attempt := wizard.Attempt{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Version:     p.Version,
		Sections:    p.Sections,
		Decision:    p.Decision,
		CompletedAt: p.CompletedAt,
	}
	if len(p.DraftData) > 0 && string(p.DraftData) != "null" {
		var draft model.Draft
		if err := json.Unmarshal(p.DraftData, &draft); err == nil {
			attempt.Draft = &draft
		}
	}
	return attempt
}

func (c *Client) CreateVerification(ctx context.Context, ownerID uuid.UUID, draft model.Draft) (wizard.Attempt, error) {
	body := map[string]any{"isDraft": true, "draftData": draft}

	var out attemptPayload
	err := c.do(ctx, http.MethodPost, "/owners/"+ownerID.String()+"/verification", nil, body, &out)
	if err != nil {
		var problem *ProblemError
		if errors.As(err, &problem) && problem.Status == http.StatusConflict {
			return wizard.Attempt{}, fmt.Errorf("%w: %w", wizard.ErrAttemptOpen, err)
		}
		return wizard.Attempt{}, err
	}
	return out.toAttempt(), nil
}

func (c *Client) SaveDraft(ctx context.Context, attemptID uuid.UUID, draft model.Draft, expectedVersion int64) (wizard.Attempt, error) {
	body := map[string]any{"draftData": draft}

	var out attemptPayload
	if err := c.do(ctx, http.MethodPut, "/verifications/"+attemptID.String()+"/draft", &expectedVersion, body, &out); err != nil {
		return wizard.Attempt{}, staleOr(err)
	}
	return out.toAttempt(), nil
}

// GetAttempt reads the current server state of an attempt.
func (c *Client) GetAttempt(ctx context.Context, attemptID uuid.UUID) (wizard.Attempt, error) {
	var out attemptPayload
	if err := c.do(ctx, http.MethodGet, "/verifications/"+attemptID.String(), nil, nil, &out); err != nil {
		return wizard.Attempt{}, err
	}
	return out.toAttempt(), nil
}

func (c *Client) Submit(ctx context.Context, attemptID uuid.UUID, expectedVersion int64) (wizard.Outcome, error) {
	var out struct {
		Attempt     attemptPayload `json:"attempt"`
		OwnerStatus string         `json:"ownerVerificationStatus"`
		Certificate *struct {
			ID uuid.UUID `json:"id"`
		} `json:"certificate,omitempty"`
	}
	if err := c.do(ctx, http.MethodPost, "/verifications/"+attemptID.String()+"/submit", &expectedVersion, nil, &out); err != nil {
		return wizard.Outcome{}, staleOr(err)
	}

	outcome := wizard.Outcome{Attempt: out.Attempt.toAttempt(), OwnerStatus: out.OwnerStatus}
	if out.Certificate != nil {
		id := out.Certificate.ID
		outcome.CertificateID = &id
	}
	return outcome, nil
}

func staleOr(err error) error {
	var problem *ProblemError
	if errors.As(err, &problem) && problem.Status == http.StatusConflict {
		return fmt.Errorf("%w: %w", wizard.ErrStaleVersion, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, ifMatch *int64, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if ifMatch != nil {
		req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(*ifMatch, 10)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		problem := &ProblemError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&problem.Problem); err != nil {
			problem.Problem.Title = http.StatusText(resp.StatusCode)
		}
		return problem
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
