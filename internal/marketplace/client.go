package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/model"
)

const (
	// maxNotifyRecipients is the marketplace API limit per notify call.
	maxNotifyRecipients = 100

	maxAttempts   = 3
	retryBackoff  = 500 * time.Millisecond
	clientTimeout = 15 * time.Second
)

// ErrTooManyRecipients is returned before any call is made when a worker
// notification exceeds the API recipient limit.
var ErrTooManyRecipients = fmt.Errorf("worker notification exceeds the %d recipient API limit", maxNotifyRecipients)

// Client talks to the task-marketplace HTTP API. It is constructed once in
// the process entry point and passed to every component that needs it.
type Client struct {
	endpoint  string
	accessKey string
	secretKey string
	region    string
	http      *http.Client
}

// NewClient builds a marketplace client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		endpoint:  cfg.MarketplaceEndpoint,
		accessKey: cfg.MarketplaceAccessKey,
		secretKey: cfg.MarketplaceSecretKey,
		region:    cfg.MarketplaceRegion,
		http:      &http.Client{Timeout: clientTimeout},
	}
}

// ─────────────────────────────────────────────
// HIT types & HITs
// ─────────────────────────────────────────────

// HITTypeParams mirrors the reusable task template fields.
type HITTypeParams struct {
	Title                string `json:"title"`
	Keywords             string `json:"keywords"`
	Description          string `json:"description"`
	Reward               string `json:"reward"`
	DurationSec          int    `json:"assignment_duration_seconds"`
	AutoApprovalDelaySec int    `json:"auto_approval_delay_seconds"`
}

// CreateHITType registers a task template and returns its id.
func (c *Client) CreateHITType(ctx context.Context, p HITTypeParams) (string, error) {
	var resp struct {
		HITTypeID string `json:"hit_type_id"`
	}
	if err := c.call(ctx, "CreateHITType", p, &resp); err != nil {
		return "", err
	}
	if resp.HITTypeID == "" {
		return "", errors.New("marketplace returned empty HIT type id")
	}
	return resp.HITTypeID, nil
}

// ExternalQuestion wraps the annotation frontend URL the worker is sent to.
// imageURL and comment are passed through to the frontend as query params.
func ExternalQuestion(externalURL, imageURL, comment string) string {
	q := url.Values{}
	q.Set("image", imageURL)
	if comment != "" {
		q.Set("comment", comment)
	}
	full := externalURL + "?" + q.Encode()
	return `<?xml version="1.0" encoding="UTF-8"?>
<ExternalQuestion xmlns="http://mechanicalturk.amazonaws.com/AWSMechanicalTurkDataSchemas/2006-07-14/ExternalQuestion.xsd">
	<ExternalURL>` + full + `</ExternalURL>
	<FrameHeight>0</FrameHeight>
</ExternalQuestion>`
}

type createHITRequest struct {
	HITTypeID                 string                  `json:"hit_type_id"`
	Question                  string                  `json:"question"`
	MaxAssignments            int                     `json:"max_assignments"`
	LifetimeSeconds           int                     `json:"lifetime_seconds"`
	QualificationRequirements []model.QualRequirement `json:"qualification_requirements,omitempty"`
}

// CreateHIT publishes one task for a page image. The returned HTTPStatus is
// surfaced so callers can detect partial-batch failures.
func (c *Client) CreateHIT(ctx context.Context, hitTypeID, question string, maxAssignments, lifetimeSec int, reqs []model.QualRequirement) (*model.CreatedHIT, error) {
	req := createHITRequest{
		HITTypeID:                 hitTypeID,
		Question:                  question,
		MaxAssignments:            maxAssignments,
		LifetimeSeconds:           lifetimeSec,
		QualificationRequirements: reqs,
	}
	var resp model.CreatedHIT
	status, err := c.callStatus(ctx, "CreateHIT", req, &resp)
	if err != nil {
		return nil, err
	}
	resp.HTTPStatus = status
	return &resp, nil
}

// HITStatus polls the current state of a published HIT.
func (c *Client) HITStatus(ctx context.Context, hitID string) (*model.HITStatusInfo, error) {
	var resp model.HITStatusInfo
	err := c.call(ctx, "GetHIT", map[string]string{"hit_id": hitID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// HITResults fetches every submitted assignment for a HIT.
func (c *Client) HITResults(ctx context.Context, hitID string) ([]model.SubmittedAssignment, error) {
	var resp struct {
		NumResults  int                         `json:"num_results"`
		Assignments []model.SubmittedAssignment `json:"assignments"`
	}
	if err := c.call(ctx, "ListAssignmentsForHIT", map[string]string{"hit_id": hitID}, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

// ─────────────────────────────────────────────
// Assignments
// ─────────────────────────────────────────────

// ApproveAssignment explicitly approves a submission before its
// auto-approval deadline.
func (c *Client) ApproveAssignment(ctx context.Context, assignmentID, feedback string) error {
	return c.call(ctx, "ApproveAssignment", map[string]string{
		"assignment_id":      assignmentID,
		"requester_feedback": feedback,
	}, nil)
}

// RejectAssignment explicitly rejects a submission before its
// auto-approval deadline.
func (c *Client) RejectAssignment(ctx context.Context, assignmentID, feedback string) error {
	return c.call(ctx, "RejectAssignment", map[string]string{
		"assignment_id":      assignmentID,
		"requester_feedback": feedback,
	}, nil)
}

// ─────────────────────────────────────────────
// Qualifications & notifications
// ─────────────────────────────────────────────

// CreateQualType provisions a qualification type and returns its id.
func (c *Client) CreateQualType(ctx context.Context, name, description string) (string, error) {
	var resp struct {
		QualificationTypeID string `json:"qualification_type_id"`
	}
	err := c.call(ctx, "CreateQualificationType", map[string]interface{}{
		"name":        name,
		"description": description,
		"status":      "Active",
		"auto_grant":  false,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.QualificationTypeID, nil
}

// AssignQualification grants (or updates) a qualification for a worker.
// A nil value assigns the bare qualification with no integer score.
func (c *Client) AssignQualification(ctx context.Context, qualTypeID, workerID string, value *int) error {
	body := map[string]interface{}{
		"qualification_type_id": qualTypeID,
		"worker_id":             workerID,
		"send_notification":     false,
	}
	if value != nil {
		body["integer_value"] = *value
	}
	return c.call(ctx, "AssociateQualificationWithWorker", body, nil)
}

// NotifyWorkers emails up to maxNotifyRecipients workers. Larger recipient
// lists are rejected before any call is made.
func (c *Client) NotifyWorkers(ctx context.Context, subject, text string, workerIDs []string) error {
	if len(workerIDs) > maxNotifyRecipients {
		return fmt.Errorf("%w: got %d", ErrTooManyRecipients, len(workerIDs))
	}
	return c.call(ctx, "NotifyWorkers", map[string]interface{}{
		"subject":      subject,
		"message_text": text,
		"worker_ids":   workerIDs,
	}, nil)
}

// ─────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────

func (c *Client) call(ctx context.Context, op string, body, out interface{}) error {
	_, err := c.callStatus(ctx, op, body, out)
	return err
}

// callStatus performs one marketplace operation with bounded retries on
// transport errors and 5xx responses.
func (c *Client) callStatus(ctx context.Context, op string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, retryable, err := c.doOnce(ctx, op, payload, out)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}
		log.Printf("[marketplace] %s attempt %d/%d failed: %v", op, attempt, maxAttempts, err)
		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("marketplace %s: %w", op, lastErr)
}

func (c *Client) doOnce(ctx context.Context, op string, payload []byte, out interface{}) (status int, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amz-Target", "MTurkRequesterServiceV20170117."+op)
	req.Header.Set("X-Region", c.region)
	if c.accessKey != "" {
		req.SetBasicAuth(c.accessKey, c.secretKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, true, fmt.Errorf("api status code: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, false, fmt.Errorf("api status code %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, false, fmt.Errorf("decode json failed: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, false, nil
}
