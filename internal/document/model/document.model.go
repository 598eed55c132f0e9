package model

import (
	"fmt"
	"time"
)

// Status is the persisted lifecycle state of a document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// AllStatuses is the closed set of statuses in display order.
var AllStatuses = []Status{StatusPending, StatusVerified, StatusRejected}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusVerified, StatusRejected:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected:
		return true
	case StatusPending:
		return false
	default:
		panic(fmt.Sprintf("model: unhandled status %q", string(s)))
	}
}

// Decision is a resolver's verdict on a pending document.
type Decision string

const (
	DecisionVerified Decision = "verified"
	DecisionRejected Decision = "rejected"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionVerified, DecisionRejected:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, s)
	}
}

// Status returns the terminal status the decision leads to.
func (d Decision) Status() Status {
	switch d {
	case DecisionVerified:
		return StatusVerified
	case DecisionRejected:
		return StatusRejected
	default:
		panic(fmt.Sprintf("model: unhandled decision %q", string(d)))
	}
}

// Role is the principal role supplied by the auth provider.
type Role string

const (
	RoleUser     Role = "user"
	RoleVerifier Role = "verifier"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) Role {
	switch Role(s) {
	case RoleVerifier, RoleAdmin:
		return Role(s)
	default:
		return RoleUser
	}
}

// CanResolve reports whether the role may approve or reject documents.
func (r Role) CanResolve() bool {
	switch r {
	case RoleVerifier, RoleAdmin:
		return true
	default:
		return false
	}
}

type Document struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Type                  string     `json:"type"`
	Status                Status     `json:"status"`
	Fingerprint           string     `json:"fingerprint"`
	Size                  int64      `json:"size"`
	Tags                  []string   `json:"tags"`
	OwnerID               string     `json:"owner_id"`
	VerifiedBy            string     `json:"verified_by,omitempty"`
	VerificationTimestamp *time.Time `json:"verification_date,omitempty"`
	RejectionReason       string     `json:"rejection_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d *Document) Clone() *Document {
	c := *d
	c.Tags = append([]string{}, d.Tags...)
	if d.VerificationTimestamp != nil {
		ts := *d.VerificationTimestamp
		c.VerificationTimestamp = &ts
	}
	return &c
}

// CheckResolution verifies that the resolver fields are set iff the
// document has left the pending state.
func (d *Document) CheckResolution() error {
	unset := d.VerifiedBy == "" && d.VerificationTimestamp == nil
	set := d.VerifiedBy != "" && d.VerificationTimestamp != nil
	switch {
	case d.Status == StatusPending && !unset:
		return fmt.Errorf("document %s is pending but carries resolution fields", d.ID)
	case d.Status != StatusPending && !set:
		return fmt.Errorf("document %s is %s but resolution fields are incomplete", d.ID, d.Status)
	case d.RejectionReason != "" && d.Status != StatusRejected:
		return fmt.Errorf("document %s has a rejection reason while %s", d.ID, d.Status)
	}
	return nil
}

// NewDocument carries the creation input for a document store.
type NewDocument struct {
	OwnerID     string
	Title       string
	Type        string
	Size        int64
	Fingerprint string
	Tags        []string
}

// Resolution carries the input of a terminal transition.
type Resolution struct {
	Decision   Decision
	ResolverID string
	Reason     string
}

// StatusCounts is the dashboard aggregate over all documents.
type StatusCounts struct {
	Pending  int `json:"pending"`
	Verified int `json:"verified"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Add counts n documents under status s.
func (c *StatusCounts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusVerified:
		c.Verified += n
	case StatusRejected:
		c.Rejected += n
	default:
		panic(fmt.Sprintf("model: unhandled status %q", string(s)))
	}
	c.Total += n
}

// OwnerCounts is the per-uploader breakdown shown on the admin panel.
type OwnerCounts struct {
	OwnerID string `json:"owner_id"`
	StatusCounts
}

// DocumentDetail is a document together with its audit trail.
type DocumentDetail struct {
	*Document
	Steps []VerificationStep `json:"steps"`
}

// PublicDocument is what the unauthenticated verify-by-fingerprint lookup exposes.
type PublicDocument struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Type             string     `json:"type"`
	Status           Status     `json:"status"`
	Fingerprint      string     `json:"fingerprint"`
	Size             int64      `json:"size"`
	UploadedAt       time.Time  `json:"upload_date"`
	VerificationDate *time.Time `json:"verification_date,omitempty"`
}

func (d *Document) Public() PublicDocument {
	return PublicDocument{
		ID:               d.ID,
		Title:            d.Title,
		Type:             d.Type,
		Status:           d.Status,
		Fingerprint:      d.Fingerprint,
		Size:             d.Size,
		UploadedAt:       d.CreatedAt,
		VerificationDate: d.VerificationTimestamp,
	}
}

type ResolveRequest struct {
	DocID    string `json:"document_id"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	ExistingID string `json:"existing_id,omitempty"`
}

// VisibleTo reports whether the principal may read the document and its ledger.
// Owners see their own documents; resolvers see everything.
func (d *Document) VisibleTo(userID string, role Role) bool {
	return d.OwnerID == userID || role.CanResolve()
}
