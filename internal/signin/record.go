package signin

import "time"

// Attempt is what a Signer reports for one check-in call.
type Attempt struct {
	Outcome Outcome
	Message string

	Gain         int
	Rank         int
	TotalSigners int

	// RecordedAt is the server time of the account's latest check-in
	// record, when the forum exposes one. Zero when unknown.
	RecordedAt time.Time
}

// Record is one history entry.
type Record struct {
	Time         time.Time `json:"time"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Gain         int       `json:"gain,omitempty"`
	Rank         int       `json:"rank,omitempty"`
	TotalSigners int       `json:"total_signers,omitempty"`
	AttemptID    string    `json:"attempt_id"`
	Retry        int       `json:"retry,omitempty"`
}

// State is the describe-state view of one plugin instance.
type State struct {
	Plugin       string    `json:"plugin"`
	Enabled      bool      `json:"enabled"`
	Running      bool      `json:"running"`
	Cron         string    `json:"cron,omitempty"`
	NextRun      time.Time `json:"next_run,omitzero"`
	LastSignDate string    `json:"last_sign_date,omitempty"`
	SignedToday  bool      `json:"signed_today"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	PendingRetry string    `json:"pending_retry,omitempty"`
	LastRecord   *Record   `json:"last_record,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Stats        *Stats    `json:"stats,omitempty"`
	Strategies   []string  `json:"strategies,omitempty"`
}
