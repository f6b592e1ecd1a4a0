// Package export renders a user's collection as downloadable files.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	Format     Format
	Sites      bool
	Categories bool
	Tags       bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Site is one exported site with its relations resolved to names. The JSON
// shape matches what the import pipeline accepts, so an export can be fed
// straight back in.
type Site struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Pricing    string    `json:"pricing"`
	Categories []string  `json:"categories,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	IsFavorite bool      `json:"isFavorite,omitempty"`
	IsPinned   bool      `json:"isPinned,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Entity is an exported category or tag.
type Entity struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Archive is the top-level JSON export document.
type Archive struct {
	ExportedAt time.Time `json:"exportedAt"`
	Sites      []Site    `json:"sites,omitempty"`
	Categories []Entity  `json:"categories,omitempty"`
	Tags       []Entity  `json:"tags,omitempty"`
}

var (
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
