package entity

// Response codes surfaced to the caller of a sync run.
const (
	CodeOK          = "200" // every candidate persisted
	CodePartial     = "207" // some candidates remain, retry later
	CodeRateLimited = "429" // run stopped after exhausting 429 retries
	CodeError       = "500"
)

// SyncOutcome is the summary of one sync run. InsertedParsed and
// InsertedRawFallback count what actually reached the store; Remaining
// is what a later run still has to pick up.
type SyncOutcome struct {
	TotalCandidates     int    `json:"total_candidates"`
	InsertedParsed      int    `json:"inserted_parsed"`
	InsertedRawFallback int    `json:"inserted_raw_fallback"`
	Remaining           int    `json:"remaining"`
	StatusCode          string `json:"status_code"`
}

// NewSyncOutcome derives the outcome from counts: code 200 when every
// candidate was persisted, 207 otherwise.
func NewSyncOutcome(total, parsed, rawFallback int) SyncOutcome {
	outcome := SyncOutcome{
		TotalCandidates:     total,
		InsertedParsed:      parsed,
		InsertedRawFallback: rawFallback,
		Remaining:           total - parsed - rawFallback,
	}
	if outcome.Remaining == 0 {
		outcome.StatusCode = CodeOK
	} else {
		outcome.StatusCode = CodePartial
	}
	return outcome
}

// Complete reports whether every candidate was persisted.
func (o SyncOutcome) Complete() bool {
	return o.StatusCode == CodeOK
}
