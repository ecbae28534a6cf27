package identity

import (
	"encoding/json"
	"strings"
	"time"
)

// PersonStatus is the lifecycle state of a canonical person.
type PersonStatus string

const (
	PersonActive   PersonStatus = "active"
	PersonInactive PersonStatus = "inactive"
)

// Person is the canonical human record identities are reconciled into.
type Person struct {
	ID           string       `json:"id"`
	OrgID        string       `json:"org_id"`
	DisplayName  string       `json:"display_name"`
	PrimaryEmail string       `json:"primary_email,omitempty"`
	Team         string       `json:"team,omitempty"`
	Role         string       `json:"role,omitempty"`
	Status       PersonStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewPerson carries the caller-supplied fields for CreatePerson.
type NewPerson struct {
	DisplayName  string `json:"display_name"`
	PrimaryEmail string `json:"primary_email,omitempty"`
	Team         string `json:"team,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Validate checks the fields a person must carry before it is persisted.
func (p NewPerson) Validate() error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return Validationf("display_name must not be empty")
	}
	return validateEmail(p.PrimaryEmail)
}

// PersonUpdate holds a partial update; nil fields are left untouched.
type PersonUpdate struct {
	DisplayName  *string `json:"display_name,omitempty"`
	PrimaryEmail *string `json:"primary_email,omitempty"`
	Team         *string `json:"team,omitempty"`
	Role         *string `json:"role,omitempty"`
}

// Validate rejects updates that would leave the person without a name or
// with a malformed email.
func (u PersonUpdate) Validate() error {
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) == "" {
		return Validationf("display_name must not be empty")
	}
	if u.PrimaryEmail != nil {
		return validateEmail(*u.PrimaryEmail)
	}
	return nil
}

// Empty reports whether the update changes nothing.
func (u PersonUpdate) Empty() bool {
	return u.DisplayName == nil && u.PrimaryEmail == nil && u.Team == nil && u.Role == nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return Validationf("primary_email %q is not a valid email address", email)
	}
	return nil
}

// Identity is an account observed in one external tool.
type Identity struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"org_id"`
	Source           string          `json:"source"`
	ExternalID       string          `json:"external_id"`
	Username         string          `json:"username,omitempty"`
	Email            string          `json:"email,omitempty"`
	DisplayName      string          `json:"display_name,omitempty"`
	IsServiceAccount bool            `json:"is_service_account"`
	FirstSeenAt      time.Time       `json:"first_seen_at"`
	LastSeenAt       time.Time       `json:"last_seen_at"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
}

// IdentityUpsert is the record a source connector hands over per account.
type IdentityUpsert struct {
	Source           string          `json:"source" yaml:"source"`
	ExternalID       string          `json:"external_id" yaml:"external_id"`
	Username         string          `json:"username,omitempty" yaml:"username"`
	Email            string          `json:"email,omitempty" yaml:"email"`
	DisplayName      string          `json:"display_name,omitempty" yaml:"display_name"`
	IsServiceAccount bool            `json:"is_service_account" yaml:"is_service_account"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty" yaml:"-"`
}

// Validate requires the natural key of an identity.
func (u IdentityUpsert) Validate() error {
	if strings.TrimSpace(u.Source) == "" {
		return Validationf("source must not be empty")
	}
	if strings.TrimSpace(u.ExternalID) == "" {
		return Validationf("external_id must not be empty")
	}
	return nil
}

// Unlinked is an identity awaiting matching. RejectedLinkID is set when the
// identity's only active link was rejected on an earlier pass.
type Unlinked struct {
	Identity       Identity
	RejectedLinkID string
}

// Link associates one identity with one person. A link is active while
// ValidTo is nil.
type Link struct {
	ID         string          `json:"id"`
	OrgID      string          `json:"org_id"`
	PersonID   string          `json:"person_id"`
	IdentityID string          `json:"identity_id"`
	Status     LinkStatus      `json:"status"`
	Confidence float64         `json:"confidence"`
	ValidFrom  time.Time       `json:"valid_from"`
	ValidTo    *time.Time      `json:"valid_to,omitempty"`
	VerifiedBy string          `json:"verified_by,omitempty"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
	Trace      json.RawMessage `json:"rule_trace,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Active reports whether the link is the current one for its identity.
func (l Link) Active() bool {
	return l.ValidTo == nil
}

// NewLink is what the matching driver persists for a freshly evaluated pair.
// SupersedeLinkID, when set, names an active rejected link that is closed in
// the same transaction.
type NewLink struct {
	PersonID        string
	IdentityID      string
	Status          LinkStatus
	Confidence      float64
	Trace           json.RawMessage
	SupersedeLinkID string
}

// Event actions recorded on links.
const (
	ActionConfirm     = "confirm"
	ActionRemap       = "remap"
	ActionSplit       = "split"
	ActionBulkConfirm = "bulk_confirm"
)

// Event is an append-only audit row for a human decision on a link.
type Event struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	LinkID    string          `json:"link_id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// WatermarkStatus is the state of a sync watermark.
type WatermarkStatus string

const (
	WatermarkIdle    WatermarkStatus = "idle"
	WatermarkRunning WatermarkStatus = "running"
	WatermarkFailed  WatermarkStatus = "failed"
)

// Watermark tracks sync progress and the run lock for one (org, source).
type Watermark struct {
	ID           string          `json:"id"`
	OrgID        string          `json:"org_id"`
	Source       string          `json:"source"`
	Status       WatermarkStatus `json:"status"`
	LastSyncedAt *time.Time      `json:"last_synced_at,omitempty"`
	Cursor       string          `json:"cursor_value,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BulkConfirmResult reports how a bulk confirmation went.
type BulkConfirmResult struct {
	ConfirmedCount int      `json:"confirmed_count"`
	FailedIDs      []string `json:"failed_ids"`
}

// ConflictStats summarizes the open conflict queue.
type ConflictStats struct {
	Total           int        `json:"total"`
	AvgConfidence   *float64   `json:"avg_confidence,omitempty"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
}
