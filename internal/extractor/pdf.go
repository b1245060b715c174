package extractor

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// Report is what a local look at an uploaded statement found.
type Report struct {
	Pages int
	// HasText is false for scanned statements with no usable text layer.
	HasText bool
}

// Inspect opens an in-memory PDF and counts its pages. It also samples the
// first pages for a readable text layer. The remote service does the real
// extraction; this only gives early feedback.
func Inspect(data []byte) (report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("PDF library crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	return &Report{
		Pages:   numPages,
		HasText: isReadableText(samplePages(r, numPages, 3)),
	}, nil
}

func samplePages(r *pdf.Reader, numPages, limit int) []string {
	var pages []string
	for i := 1; i <= numPages && i <= limit; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		if text, ok := pageText(page); ok {
			pages = append(pages, text)
		}
	}
	return pages
}

func pageText(page pdf.Page) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	text, err := page.GetPlainText(nil)
	return text, err == nil
}

// textQuality returns the ratio of plain readable characters to all
// characters, 0.0-1.0. Identity-encoded fonts produce mostly symbols.
func textQuality(text string) float64 {
	total, readable := 0, 0
	for _, r := range text {
		total++
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r)) {
			readable++
		} else if unicode.IsLetter(r) && unicode.In(r, unicode.Arabic) {
			// Arabic statements are common; their text layer is still usable.
			readable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(readable) / float64(total)
}

func isReadableText(pages []string) bool {
	text := strings.TrimSpace(strings.Join(pages, "\n"))
	if len(text) < 20 {
		return false
	}
	return textQuality(text) >= 0.7
}
