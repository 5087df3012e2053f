// Package export renders the label's archive report as a PDF.
package export

import "errors"

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates the PDF runtime dependencies are
	// unavailable on this host.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
