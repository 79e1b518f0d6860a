package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "kycops/pkg/domain-errors"
)

// Status is the lifecycle state of an application record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo reports whether s -> target is an allowed transition.
// Only pending -> approved and pending -> rejected exist.
func (s Status) CanTransitionTo(target Status) bool {
	return s == StatusPending && target.IsTerminal()
}

// ParseStatus parses a status string case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown status %q", raw))
	}
	return s, nil
}

// Documents holds references to previously uploaded identity documents.
type Documents struct {
	IDFront        string `json:"id_front"`
	IDBack         string `json:"id_back"`
	ProofOfAddress string `json:"proof_of_address"`
	PassportPhoto  string `json:"passport_photo"`
}

// Applicant carries the identity payload. Email is the rate-limit bucket key.
type Applicant struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	IDNumber string `json:"id_number"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// SourceInfo records where a submission came from.
type SourceInfo struct {
	Channel   string `json:"channel"`
	IPAddress string `json:"ip_address,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Mobile    bool   `json:"mobile,omitempty"`
}

// Decision is stamped exactly once, on the pending -> terminal transition.
type Decision struct {
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
	Reason    string    `json:"decision_reason,omitempty"`
}

// Record is one KYC agent application.
//
// Invariants:
//   - ID is unique and derived from the applicant id number and submission time
//   - Status starts pending and only moves pending -> approved or pending -> rejected
//   - SubmittedAt is immutable after construction
//   - Decision and AgentID are set once, at the decision transition, and never again
type Record struct {
	ID          string     `json:"id"`
	Applicant   Applicant  `json:"applicant"`
	Documents   Documents  `json:"documents"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Source      SourceInfo `json:"source"`
	Decision    *Decision  `json:"decision,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
}

// NewRecordID derives a record id from the applicant id number and submission time.
func NewRecordID(idNumber string, submittedAt time.Time) string {
	return fmt.Sprintf("APP-%s-%d", idNumber, submittedAt.UnixMilli())
}

// AgentIDFor derives the external agent reference assigned on approval.
func AgentIDFor(idNumber string) string {
	return "AGT-" + idNumber
}

// NewRecord constructs a pending record.
func NewRecord(applicant Applicant, docs Documents, source SourceInfo, now time.Time) (*Record, error) {
	if strings.TrimSpace(applicant.IDNumber) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "id number cannot be empty")
	}
	if strings.TrimSpace(applicant.Email) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email cannot be empty")
	}
	return &Record{
		ID:          NewRecordID(applicant.IDNumber, now),
		Applicant:   applicant,
		Documents:   docs,
		Status:      StatusPending,
		SubmittedAt: now,
		Source:      source,
	}, nil
}

// Clone returns a deep copy so stores never hand out their own storage slot.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Decision != nil {
		d := *r.Decision
		c.Decision = &d
	}
	return &c
}

// ContactKey normalizes the applicant email for rate-limit bucketing.
func (r *Record) ContactKey() string {
	return NormalizeContact(r.Applicant.Email)
}

// NormalizeContact lowercases and trims a contact address.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// CanApprove checks the pending -> approved transition.
// Use with ApplyApproval in store Update callbacks.
func (r *Record) CanApprove() error {
	if !r.Status.CanTransitionTo(StatusApproved) {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application is already %s", r.Status))
	}
	return nil
}

// ApplyApproval stamps the approval. Call CanApprove first.
func (r *Record) ApplyApproval(approver string, now time.Time) {
	r.Status = StatusApproved
	r.Decision = &Decision{DecidedBy: approver, DecidedAt: now}
	r.AgentID = AgentIDFor(r.Applicant.IDNumber)
}

// CanReject checks the pending -> rejected transition.
func (r *Record) CanReject() error {
	if !r.Status.CanTransitionTo(StatusRejected) {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application is already %s", r.Status))
	}
	return nil
}

// ApplyRejection stamps the rejection. Call CanReject first.
func (r *Record) ApplyRejection(approver, reason string, now time.Time) {
	r.Status = StatusRejected
	r.Decision = &Decision{DecidedBy: approver, DecidedAt: now, Reason: reason}
}
