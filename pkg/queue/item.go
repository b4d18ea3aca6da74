package queue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every state in reporting order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
// failed is terminal only because it is reached when retries are exhausted;
// it never reopens automatically.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Key identifies the unit of schedulable work. An empty RoleSlug means
// company-level work. The pair is unique in the store: enqueueing an
// existing pair is a no-op, never a duplicate row.
type Key struct {
	CompanySlug string `json:"company_slug"`
	RoleSlug    string `json:"role_slug,omitempty"`
}

func (k Key) String() string {
	if k.RoleSlug == "" {
		return k.CompanySlug
	}
	return k.CompanySlug + "/" + k.RoleSlug
}

// Item is one row of the generation queue.
type Item struct {
	ID            string     `json:"id"`
	Key           Key        `json:"key"`
	PriorityScore int        `json:"priority_score"`
	Status        Status     `json:"status"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ResultRef     string     `json:"result_ref,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DefaultMaxRetries applies when a NewItem does not set MaxRetries.
const DefaultMaxRetries = 3

// NewItem is the enqueue request. PriorityScore is fixed at creation;
// re-enqueueing the same key is skipped and never updates the existing
// row's score.
type NewItem struct {
	Key           Key
	PriorityScore int
	MaxRetries    int
}

// BatchResult reports insert-or-skip accounting for a batch enqueue.
type BatchResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// StatusCounts is the status reporter's aggregate view.
type StatusCounts map[Status]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// RunOutcome classifies a recorded generation run.
type RunOutcome string

const (
	RunCompleted RunOutcome = "completed"
	RunRetrying  RunOutcome = "retrying"
	RunFailed    RunOutcome = "failed"
)

// Run is one generation attempt as observed by a worker loop. Runs are an
// append-only audit trail beside the queue's state machine; they never
// affect scheduling.
type Run struct {
	ID         string        `json:"id"`
	ItemID     string        `json:"item_id"`
	Key        Key           `json:"key"`
	WorkerID   string        `json:"worker_id"`
	Outcome    RunOutcome    `json:"outcome"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}
