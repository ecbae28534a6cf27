package identity

import (
	"strings"
)

const (
	// DefaultPageLimit applies when a listing is requested without a limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps any single listing page.
	MaxPageLimit = 500
	// MaxBulkConfirm caps the number of links one bulk confirmation may touch.
	MaxBulkConfirm = 500
)

// Conflict queue orderings.
const (
	SortAgeDesc       = "age_desc"
	SortConfidenceAsc = "confidence_asc"
)

// Page is the limit/offset pair shared by listings.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (p Page) normalize() (Page, error) {
	if p.Offset < 0 {
		return p, Validationf("offset must not be negative")
	}
	if p.Limit < 0 {
		return p, Validationf("limit must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p, nil
}

// ConflictFilter narrows the conflict queue listing.
type ConflictFilter struct {
	MinConfidence *float64
	MaxConfidence *float64
	SortBy        string
	Page
}

// Normalize validates the filter and fills defaults.
func (f ConflictFilter) Normalize() (ConflictFilter, error) {
	if err := validateConfidenceRange(f.MinConfidence, f.MaxConfidence); err != nil {
		return f, err
	}
	f.SortBy = strings.ToLower(strings.TrimSpace(f.SortBy))
	switch f.SortBy {
	case "":
		f.SortBy = SortAgeDesc
	case SortAgeDesc, SortConfidenceAsc:
	default:
		return f, Validationf("sort_by must be %q or %q, got %q", SortAgeDesc, SortConfidenceAsc, f.SortBy)
	}
	page, err := f.Page.normalize()
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

// LinkFilter narrows a general link listing. Only active links are listed
// unless IncludeClosed is set.
type LinkFilter struct {
	Status        LinkStatus
	PersonID      string
	IdentityID    string
	MinConfidence *float64
	MaxConfidence *float64
	IncludeClosed bool
	Page
}

// Normalize validates the filter and fills defaults.
func (f LinkFilter) Normalize() (LinkFilter, error) {
	if f.Status != "" {
		status, ok := LookupLinkStatus(string(f.Status))
		if !ok {
			return f, Validationf("unknown link status %q", f.Status)
		}
		f.Status = status
	}
	if err := validateConfidenceRange(f.MinConfidence, f.MaxConfidence); err != nil {
		return f, err
	}
	page, err := f.Page.normalize()
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

// PersonFilter narrows a people listing. Search matches display name or email.
type PersonFilter struct {
	Status PersonStatus
	Team   string
	Search string
	Page
}

// Normalize validates the filter and fills defaults.
func (f PersonFilter) Normalize() (PersonFilter, error) {
	f.Status = PersonStatus(strings.ToLower(strings.TrimSpace(string(f.Status))))
	switch f.Status {
	case "", PersonActive, PersonInactive:
	default:
		return f, Validationf("status must be %q or %q, got %q", PersonActive, PersonInactive, f.Status)
	}
	f.Team = strings.TrimSpace(f.Team)
	f.Search = strings.TrimSpace(f.Search)
	page, err := f.Page.normalize()
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

// IdentityFilter narrows an identity listing.
type IdentityFilter struct {
	Source string
	Page
}

// Normalize validates the filter and fills defaults.
func (f IdentityFilter) Normalize() (IdentityFilter, error) {
	f.Source = strings.TrimSpace(f.Source)
	page, err := f.Page.normalize()
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

// ValidConfidence reports whether v lies in [0, 1]. NaN is never valid.
func ValidConfidence(v float64) bool {
	return v >= 0 && v <= 1
}

func validateConfidenceRange(minConf, maxConf *float64) error {
	if minConf != nil && !ValidConfidence(*minConf) {
		return Validationf("min_confidence must be between 0.0 and 1.0")
	}
	if maxConf != nil && !ValidConfidence(*maxConf) {
		return Validationf("max_confidence must be between 0.0 and 1.0")
	}
	if minConf != nil && maxConf != nil && *minConf > *maxConf {
		return Validationf("min_confidence must not exceed max_confidence")
	}
	return nil
}

// ValidateVerifier rejects blank verifier names.
func ValidateVerifier(verifiedBy string) (string, error) {
	trimmed := strings.TrimSpace(verifiedBy)
	if trimmed == "" {
		return "", Validationf("verified_by must not be empty")
	}
	return trimmed, nil
}

// ValidateBulkIDs checks a bulk confirmation request before any write.
func ValidateBulkIDs(ids []string) error {
	if len(ids) == 0 {
		return Validationf("link_ids must not be empty")
	}
	if len(ids) > MaxBulkConfirm {
		return Validationf("link_ids must contain at most %d entries, got %d", MaxBulkConfirm, len(ids))
	}
	return nil
}
