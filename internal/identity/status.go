package identity

import "strings"

// LinkStatus is the lifecycle state of a person-identity link.
type LinkStatus string

const (
	StatusAuto     LinkStatus = "auto"
	StatusVerified LinkStatus = "verified"
	StatusConflict LinkStatus = "conflict"
	StatusRejected LinkStatus = "rejected"
	StatusIgnored  LinkStatus = "ignored"
)

var allLinkStatuses = []LinkStatus{
	StatusAuto,
	StatusVerified,
	StatusConflict,
	StatusRejected,
	StatusIgnored,
}

var linkStatusSet = func() map[LinkStatus]struct{} {
	set := make(map[LinkStatus]struct{}, len(allLinkStatuses))
	for _, status := range allLinkStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllLinkStatuses returns the ordered list of known link statuses.
func AllLinkStatuses() []LinkStatus {
	cp := make([]LinkStatus, len(allLinkStatuses))
	copy(cp, allLinkStatuses)
	return cp
}

func (s LinkStatus) String() string {
	return string(s)
}

// ParseLinkStatus converts a stored or user-supplied value into a LinkStatus.
// Unknown values are an internal error: they can only come from a corrupt row
// or a caller that skipped validation.
func ParseLinkStatus(value string) (LinkStatus, error) {
	normalized := LinkStatus(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := linkStatusSet[normalized]; !ok {
		return "", Internalf("unknown link status %q", value)
	}
	return normalized, nil
}

// LookupLinkStatus is the user-input variant of ParseLinkStatus.
func LookupLinkStatus(value string) (LinkStatus, bool) {
	normalized := LinkStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := linkStatusSet[normalized]
	return normalized, ok
}
