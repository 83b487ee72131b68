package app

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const maxKeptTextRunes = 20000

// Methods reported in analysis metadata.
const (
	MethodPDFText     = "pdf_text"
	MethodPlainText   = "plain_text"
	MethodUnsupported = "unsupported"
)

// Scorer estimates how legible an uploaded document is from its text layer.
type Scorer struct {
	MinPageRunes  int
	MinLegibility float64
	KeepText      bool
}

// Report is the outcome for one file.
type Report struct {
	Score        float64
	Pages        int
	LegiblePages int
	Method       string
	Text         string
}

// AutoValidated reports whether the score clears the configured threshold.
func (s Scorer) AutoValidated(r Report) bool {
	return r.Pages > 0 && r.Score >= s.MinLegibility
}

// Score analyzes data according to its content type. Images carry no text
// layer and score zero so a reviewer always looks at them.
func (s Scorer) Score(contentType string, data []byte) (Report, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "application/pdf":
		pages, err := pdfPageTexts(data)
		if err != nil {
			return Report{Method: MethodPDFText}, err
		}
		return s.scorePages(MethodPDFText, pages), nil
	case "text/plain":
		return s.scorePages(MethodPlainText, []string{normalizeText(string(data))}), nil
	default:
		return Report{Method: MethodUnsupported}, nil
	}
}

func (s Scorer) scorePages(method string, pages []string) Report {
	r := Report{Method: method, Pages: len(pages)}
	var text strings.Builder
	for _, page := range pages {
		if meaningfulRunes(page) >= s.MinPageRunes {
			r.LegiblePages++
		}
		if s.KeepText && page != "" {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(page)
		}
	}
	if r.Pages > 0 {
		r.Score = float64(r.LegiblePages) / float64(r.Pages)
	}
	if s.KeepText {
		r.Text = truncateRunes(text.String(), maxKeptTextRunes)
	}
	return r
}

func pdfPageTexts(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// An unreadable page counts as illegible.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, normalizeText(text))
	}
	return pages, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func meaningfulRunes(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
