package domain

// Action types replayed from kiosk sync queues to the server. Each one maps
// to a single monotonic flag on the attendee record.
const (
	ActionCheckedIn        = "checked_in"
	ActionLunchDistributed = "lunch_distributed"
	ActionKitDistributed   = "kit_distributed"
)

// ValidAction reports whether actionType is a known queueable action.
func ValidAction(actionType string) bool {
	switch actionType {
	case ActionCheckedIn, ActionLunchDistributed, ActionKitDistributed:
		return true
	}
	return false
}

// Attendee is the server-authoritative record.
type Attendee struct {
	ID               string `json:"id"`
	Code             string `json:"qr_code"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	CheckedIn        bool   `json:"checked_in"`
	LunchDistributed bool   `json:"lunch_distributed"`
	KitDistributed   bool   `json:"kit_distributed"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// Flag returns the value of the status flag driven by actionType.
func (a Attendee) Flag(actionType string) bool {
	switch actionType {
	case ActionCheckedIn:
		return a.CheckedIn
	case ActionLunchDistributed:
		return a.LunchDistributed
	case ActionKitDistributed:
		return a.KitDistributed
	}
	return false
}

// AttendeeSnapshot is the kiosk-side mirror of an attendee: the minimal field
// set needed to validate scans offline. A snapshot exists locally only after
// a successful pull; absence means "never synced", not "unknown attendee".
type AttendeeSnapshot struct {
	Code             string `json:"qr_code"`
	CheckedIn        bool   `json:"checked_in"`
	LunchDistributed bool   `json:"lunch_distributed"`
	KitDistributed   bool   `json:"kit_distributed"`
	LastUpdated      string `json:"last_updated,omitempty" format:"date-time"`
}

// Flag returns the value of the status flag driven by actionType.
func (s AttendeeSnapshot) Flag(actionType string) bool {
	switch actionType {
	case ActionCheckedIn:
		return s.CheckedIn
	case ActionLunchDistributed:
		return s.LunchDistributed
	case ActionKitDistributed:
		return s.KitDistributed
	}
	return false
}

// SetFlag sets the status flag driven by actionType. Flags only move
// false -> true; callers never clear them.
func (s *AttendeeSnapshot) SetFlag(actionType string) {
	switch actionType {
	case ActionCheckedIn:
		s.CheckedIn = true
	case ActionLunchDistributed:
		s.LunchDistributed = true
	case ActionKitDistributed:
		s.KitDistributed = true
	}
}

// SyncAction is one entry in a kiosk's outbox: a state change performed
// locally that the server has not yet acknowledged. Ordered by ID, which is
// assigned locally and monotonically increasing; the client timestamp is kept
// for display and tie-break narrative, never for authority.
type SyncAction struct {
	ID         int64  `json:"id"`
	Code       string `json:"qr_code"`
	ActionType string `json:"action_type"`
	Timestamp  string `json:"timestamp" format:"date-time"`
	Synced     bool   `json:"synced"`
}

// Sync result statuses returned by the server for each queued action.
const (
	SyncStatusSuccess = "success"
	SyncStatusWarning = "warning"
	SyncStatusError   = "error"
)

// SyncResult is the server's per-entry verdict for a replayed action.
// Synced=true retires the matching queue entry; warning means the desired end
// state was already reached (idempotence contract), which is equally final.
type SyncResult struct {
	Code       string `json:"qr_code"`
	ActionType string `json:"action_type,omitempty"`
	Status     string `json:"status" enum:"success,warning,error"`
	Message    string `json:"message,omitempty"`
	Synced     bool   `json:"synced"`
}

// EmailRecord is one entry in the server's outbound notification outbox.
type EmailRecord struct {
	ID         int64  `json:"id"`
	AttendeeID string `json:"attendee_id"`
	EmailType  string `json:"email_type"`
	Status     string `json:"status" enum:"pending,sent,failed"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	SentAt     string `json:"sent_at,omitempty" format:"date-time"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total            int `json:"total"`
	CheckedIn        int `json:"checked_in"`
	LunchDistributed int `json:"lunch_distributed"`
	KitDistributed   int `json:"kit_distributed"`
	PendingEmails    int `json:"pending_emails"`
}
