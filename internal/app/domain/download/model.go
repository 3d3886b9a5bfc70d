package download

import "time"

// Record is the append-only log entry written once per billed fulfillment.
type Record struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Keyword   string    `json:"keyword" db:"keyword"`
	Count     int       `json:"count" db:"count"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// RetrievedImage is a fetched upstream image persisted to a transient file.
// It lives only until the archive is built.
type RetrievedImage struct {
	URL  string
	Path string
}

// Deliverable is a packaged archive ready to be streamed to the caller.
type Deliverable struct {
	Path       string    `json:"-"`
	Filename   string    `json:"filename"`
	ImageCount int       `json:"image_count"`
	Charged    int64     `json:"charged"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
}
