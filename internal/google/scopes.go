package google

import (
	"strings"
)

// Google OAuth scopes used by the assistant's Gmail and Calendar tools.
const (
	ScopeGmailReadonly    = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeGmailSend        = "https://www.googleapis.com/auth/gmail.send"
	ScopeGmailModify      = "https://www.googleapis.com/auth/gmail.modify"
	ScopeCalendarReadonly = "https://www.googleapis.com/auth/calendar.readonly"
	ScopeCalendarEvents   = "https://www.googleapis.com/auth/calendar.events"
)

// DefaultScopes is the full set requested by the assistant at login.
//
// The scopes provide access to:
//   - Gmail: read, send, modify (labels, read state)
//   - Google Calendar: read calendars, create and edit events
var DefaultScopes = NewScopeSet(
	ScopeGmailReadonly,
	ScopeGmailSend,
	ScopeGmailModify,
	ScopeCalendarReadonly,
	ScopeCalendarEvents,
)

// ScopeSet is an ordered set of scope identifiers.
// Order of first insertion is preserved; duplicates and empty strings are dropped.
type ScopeSet []string

// NewScopeSet builds a ScopeSet from the given scopes.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		set = append(set, s)
	}
	return set
}

// ParseScopes parses a space separated scope string as returned in the
// "scope" field of an OAuth token response.
func ParseScopes(s string) ScopeSet {
	return NewScopeSet(strings.Fields(s)...)
}

// Empty reports whether the set has no scopes.
func (s ScopeSet) Empty() bool {
	return len(s) == 0
}

// Contains reports whether scope is a member of the set.
func (s ScopeSet) Contains(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// Covers reports whether s is a superset of other.
func (s ScopeSet) Covers(other ScopeSet) bool {
	for _, want := range other {
		if !s.Contains(want) {
			return false
		}
	}
	return true
}

// Missing returns the scopes of other that s does not contain.
func (s ScopeSet) Missing(other ScopeSet) ScopeSet {
	var missing ScopeSet
	for _, want := range other {
		if !s.Contains(want) {
			missing = append(missing, want)
		}
	}
	return missing
}

// Union returns a new set with the scopes of s followed by those of other
// that s does not already contain.
func (s ScopeSet) Union(other ScopeSet) ScopeSet {
	all := make([]string, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewScopeSet(all...)
}

// Strings returns a copy of the scopes as a plain slice.
func (s ScopeSet) Strings() []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// String returns the scopes joined by spaces, the OAuth wire format.
func (s ScopeSet) String() string {
	return strings.Join(s, " ")
}

// ShortNames returns the scopes with the common Google prefix stripped,
// for log output.
func (s ScopeSet) ShortNames() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = strings.TrimPrefix(v, "https://www.googleapis.com/auth/")
	}
	return out
}
