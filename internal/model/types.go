package model

// Status is the lifecycle tag of a message record in the local store.
type Status string

const (
	// StatusPending marks a record that has been listed but whose metadata
	// has not been fetched yet.
	StatusPending Status = "pending"
	// StatusComplete marks a record with fully populated metadata.
	StatusComplete Status = "complete"
	// StatusDeleted marks a record whose message no longer exists remotely.
	StatusDeleted Status = "deleted"
)

// MessageRecord is one row per remote message. Size and InternalDate stay
// zero and Sender/Subject stay empty until the detail fetch completes.
type MessageRecord struct {
	ID           string
	ThreadID     string
	Size         int64
	InternalDate int64 // epoch milliseconds
	Sender       string
	Subject      string
	Status       Status
}

// ListedMessage is the (id, threadId) pair the list endpoint returns.
type ListedMessage struct {
	ID       string
	ThreadID string
}

// ScanProgress is reported by the scanner as listing and fetching advance.
type ScanProgress struct {
	Phase string // "list" or "fetch"
	Done  int
	Total int
}

// SenderUsage aggregates mailbox usage by normalized sender address.
type SenderUsage struct {
	Sender string
	Bytes  int64
	Count  int
}

// MonthUsage aggregates mailbox usage by YYYY-MM of the internal date.
type MonthUsage struct {
	Month string
	Bytes int64
	Count int
}
