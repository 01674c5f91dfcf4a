package events

// Filter is a subscriber's declarative match criteria. Each dimension is
// optional: an absent or empty dimension imposes no constraint, so the
// zero Filter matches every event. Filters are replaced wholesale, never
// partially updated.
type Filter struct {
	EventTypes []string `json:"event_types,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
}

// Matches reports whether the event satisfies every dimension set on the
// filter. Comparison is exact-string and case-sensitive; dimensions are
// ANDed together.
func (f Filter) Matches(ev Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if ev.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.SessionID != "" {
		if ev.SessionID == nil || *ev.SessionID != f.SessionID {
			return false
		}
	}

	if f.UserID != "" {
		if ev.UserID == nil || *ev.UserID != f.UserID {
			return false
		}
	}

	return true
}

// IsEmpty reports whether no dimension is set (match-all).
func (f Filter) IsEmpty() bool {
	return len(f.EventTypes) == 0 && f.SessionID == "" && f.UserID == ""
}
