package importer

// RowError records a failure for a single input row. Row is the zero-based
// index into the parsed input; -1 marks a batch-level failure.
type RowError struct {
	Row     int    `json:"row"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message"`
}

// Report summarizes an import run. Partial failures live in Errors; they do
// not abort the batch.
type Report struct {
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	Errors      []RowError `json:"errors"`
	TierLimited bool       `json:"tierLimited,omitempty"`
	TierMessage string     `json:"tierMessage,omitempty"`
}

func (r *Report) addError(row int, url, message string) {
	r.Errors = append(r.Errors, RowError{Row: row, URL: url, Message: message})
}
