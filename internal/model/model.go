package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────
// Page Status State Machine
// ─────────────────────────────────────────────

type PageStatus string

const (
	PageStatusNotAnnotated PageStatus = "NOT_ANNOTATED"
	PageStatusSubmitted    PageStatus = "SUBMITTED"
	PageStatusExpired      PageStatus = "EXPIRED"
	PageStatusRetrieved    PageStatus = "RETRIEVED"
	// Passed automatic review
	PageStatusReviewed PageStatus = "REVIEWED"
	// Passed manual review
	PageStatusVerified PageStatus = "VERIFIED"
	// Deferred for manual review
	PageStatusDeferred PageStatus = "DEFERRED"
	PageStatusRejected PageStatus = "REJECTED"
)

// ParsePageStatus maps a case-insensitive status name to its enum value.
func ParsePageStatus(s string) (PageStatus, error) {
	for _, st := range []PageStatus{
		PageStatusNotAnnotated, PageStatusSubmitted, PageStatusExpired,
		PageStatusRetrieved, PageStatusReviewed, PageStatusVerified,
		PageStatusDeferred, PageStatusRejected,
	} {
		if string(st) == s || string(st) == normalizeUpper(s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown page status %q", s)
}

func normalizeUpper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

type AssignmentStatus string

const (
	AssignmentManuallyAccepted AssignmentStatus = "MANUALLY_ACCEPTED"
	AssignmentManuallyRejected AssignmentStatus = "MANUALLY_REJECTED"
)

// ─────────────────────────────────────────────
// Annotation answer payload
// ─────────────────────────────────────────────

// Annotation is a single bounding box in the raw answer payload,
// expressed in absolute canvas pixels.
type Annotation struct {
	ID     string  `json:"id,omitempty"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Parent string  `json:"parent,omitempty"` // id of a referenced annotation (e.g. caption → figure)
}

// Answer is the typed annotation payload submitted by a worker.
type Answer struct {
	CanvasWidth  float64      `json:"canvasWidth"`
	CanvasHeight float64      `json:"canvasHeight"`
	Annotations  []Annotation `json:"annotations"`
	Feedback     string       `json:"feedback,omitempty"`
	Comment      string       `json:"comment,omitempty"`
}

// ─────────────────────────────────────────────
// Core Domain Models
// ─────────────────────────────────────────────

// Assignment is one worker submission for a page. Immutable once appended
// except for Status and Reviewed, which later review actions may set.
type Assignment struct {
	ID               string            `json:"assignment_id"`
	WorkerID         string            `json:"worker_id"`
	HITID            string            `json:"hit_id,omitempty"`
	Answer           Answer            `json:"answer"`
	SubmitTime       time.Time         `json:"submit_time"`
	AutoApprovalTime time.Time         `json:"auto_approval_time"`
	Status           *AssignmentStatus `json:"status,omitempty"`
	Reviewed         bool              `json:"reviewed"`
	Environment      string            `json:"environment,omitempty"`
}

// HasTerminalStatus reports whether a manual review decision was already
// recorded for this assignment.
func (a *Assignment) HasTerminalStatus() bool {
	return a.Status != nil
}

// HITRef records one publication of a page as a marketplace task.
type HITRef struct {
	ID        string    `json:"hit_id"`
	Published time.Time `json:"published"`
}

// Page is a rasterized PDF page moving through the annotation lifecycle.
// The composite identity (source document + page number) is flattened into
// ID the same way the rasterizer names output files: "<doc>-<page>".
type Page struct {
	ID                   string         `json:"id" gorm:"primaryKey;column:id"`
	DocID                string         `json:"doc_id" gorm:"index"`
	Status               PageStatus     `json:"status" gorm:"index"`
	Assignments          AssignmentList `json:"assignments" gorm:"type:jsonb"`
	HITs                 HITRefList     `json:"hits" gorm:"type:jsonb;column:hits"`
	AcceptedAssignmentID *string        `json:"accepted_assignment_id,omitempty"`
	QualificationPage    bool           `json:"qualification_page"`
	Group                string         `json:"group,omitempty" gorm:"column:page_group;index"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// LatestHITID returns the most recently published HIT id, or "".
func (p *Page) LatestHITID() string {
	if len(p.HITs) == 0 {
		return ""
	}
	return p.HITs[len(p.HITs)-1].ID
}

// AssignmentByID finds an assignment in the page's list.
func (p *Page) AssignmentByID(id string) *Assignment {
	for i := range p.Assignments {
		if p.Assignments[i].ID == id {
			return &p.Assignments[i]
		}
	}
	return nil
}

// LastAssignments returns up to n trailing assignments in submission order.
func (p *Page) LastAssignments(n int) []Assignment {
	if len(p.Assignments) <= n {
		return p.Assignments
	}
	return p.Assignments[len(p.Assignments)-n:]
}

// Worker is a marketplace worker's local reputation record.
type Worker struct {
	ID                    string     `json:"id" gorm:"primaryKey"`
	VerificationPoints    int        `json:"verification_points"`
	QualPagesCompleted    StringList `json:"qual_pages_completed" gorm:"type:jsonb"`
	DidQualificationTasks bool       `json:"did_qualification_tasks"`
	Environment           string     `json:"environment,omitempty" gorm:"index"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TotalScore is the worker's marketplace qualification integer value.
func (w *Worker) TotalScore() int {
	return w.VerificationPoints + len(w.QualPagesCompleted)
}

// HITType is a reusable marketplace task template. Exactly one is active
// per environment; activating one deactivates all others.
type HITType struct {
	ID                   string    `json:"id" gorm:"primaryKey"`
	Title                string    `json:"title"`
	Keywords             string    `json:"keywords"`
	Description          string    `json:"description"`
	Reward               string    `json:"reward"` // decimal string, e.g. "0.15"
	DurationSec          int       `json:"duration_sec"`
	AutoApprovalDelaySec int       `json:"auto_approval_delay_sec"`
	Environment          string    `json:"environment" gorm:"index"`
	Active               bool      `json:"active" gorm:"index"`
	CreatedAt            time.Time `json:"created_at"`
}

// QualType is a provisioned marketplace qualification type, cached locally
// by name and environment.
type QualType struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"index"`
	Description string    `json:"description"`
	Environment string    `json:"environment" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// ─────────────────────────────────────────────
// Qualification requirements
// ─────────────────────────────────────────────

type Comparator string

const (
	ComparatorGTE          Comparator = "GreaterThanOrEqualTo"
	ComparatorLTE          Comparator = "LessThanOrEqualTo"
	ComparatorExists       Comparator = "Exists"
	ComparatorDoesNotExist Comparator = "DoesNotExist"
)

// QualRequirement gates who may preview and accept a published HIT.
type QualRequirement struct {
	QualificationTypeID string     `json:"qualification_type_id"`
	Comparator          Comparator `json:"comparator"`
	IntegerValues       []int      `json:"integer_values,omitempty"`
	RequiredToPreview   bool       `json:"required_to_preview"`
	ActionsGuarded      string     `json:"actions_guarded"`
}

// ActionsGuardedAll hides gated HITs entirely from unqualified workers.
const ActionsGuardedAll = "DiscoverPreviewAndAccept"

// ─────────────────────────────────────────────
// Marketplace DTOs
// ─────────────────────────────────────────────

// CreatedHIT is the marketplace response to a task creation.
type CreatedHIT struct {
	ID           string    `json:"hit_id"`
	CreationTime time.Time `json:"creation_time"`
	HTTPStatus   int       `json:"-"`
}

// HITStatusInfo is the polled state of a published HIT.
type HITStatusInfo struct {
	Status               string `json:"status"` // e.g. "Assignable", "Reviewable", "Disposed"
	AssignmentsAvailable int    `json:"assignments_available"`
}

// HITStatusReviewable marks a HIT whose results can be collected.
const HITStatusReviewable = "Reviewable"

// SubmittedAssignment is a raw worker submission fetched from the marketplace.
type SubmittedAssignment struct {
	AssignmentID     string    `json:"assignment_id"`
	WorkerID         string    `json:"worker_id"`
	HITID            string    `json:"hit_id"`
	SubmitTime       time.Time `json:"submit_time"`
	AutoApprovalTime time.Time `json:"auto_approval_time"`
	Answer           Answer    `json:"answer"`
}

// ─────────────────────────────────────────────
// Dashboard / reporting
// ─────────────────────────────────────────────

type StatusCount struct {
	Status PageStatus `json:"status"`
	Count  int64      `json:"count"`
}

// WorkerPointsBucket is one histogram bucket of verification points.
type WorkerPointsBucket struct {
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
	Count int     `json:"count"`
}

// ─────────────────────────────────────────────
// WebSocket dashboard feed
// ─────────────────────────────────────────────

type MsgType string

const (
	// Server → dashboard
	MsgTypeStatusSnapshot MsgType = "STATUS_SNAPSHOT"
)

// Envelope is the top-level WebSocket frame.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusSnapshot is pushed to dashboard clients after bulk mutations.
type StatusSnapshot struct {
	Counts     []StatusCount `json:"counts"`
	TotalPages int64         `json:"total_pages"`
	At         time.Time     `json:"at"`
}

// ─────────────────────────────────────────────
// JSONB column wrappers
// ─────────────────────────────────────────────

type AssignmentList []Assignment

func (l AssignmentList) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *AssignmentList) Scan(src interface{}) error  { return jsonbScan(src, l) }

type HITRefList []HITRef

func (l HITRefList) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *HITRefList) Scan(src interface{}) error  { return jsonbScan(src, l) }

type StringList []string

func (l StringList) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *StringList) Scan(src interface{}) error  { return jsonbScan(src, l) }

// Contains reports set membership.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonbScan(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch s := src.(type) {
	case []byte:
		return json.Unmarshal(s, dst)
	case string:
		return json.Unmarshal([]byte(s), dst)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
