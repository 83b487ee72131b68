package app

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildPDF writes a minimal uncompressed PDF with one Helvetica text run per page.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")

	n := len(pages)
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestScorePDFCountsLegiblePages(t *testing.T) {
	s := Scorer{MinPageRunes: 20, MinLegibility: 0.8, KeepText: true}
	data := buildPDF("Official identification card number 0012345 issued 2024", "blur")

	report, err := s.Score("application/pdf", data)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if report.Pages != 2 || report.LegiblePages != 1 || report.Score != 0.5 {
		t.Fatalf("report = %+v", report)
	}
	if !strings.Contains(report.Text, "0012345") {
		t.Fatalf("text = %q", report.Text)
	}
	if s.AutoValidated(report) {
		t.Fatalf("half-legible document auto-validated")
	}
}

func TestScorePDFRejectsGarbage(t *testing.T) {
	s := Scorer{MinPageRunes: 20}
	if _, err := s.Score("application/pdf", []byte("not a pdf")); err == nil {
		t.Fatalf("Score() expected error")
	}
}

func TestScorePlainText(t *testing.T) {
	s := Scorer{MinPageRunes: 10, MinLegibility: 0.8}
	report, err := s.Score("text/plain", []byte("  Lease\x00 agreement   signed 2025  "))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if report.Score != 1 || report.Method != MethodPlainText || report.Text != "" {
		t.Fatalf("report = %+v", report)
	}
	if !s.AutoValidated(report) {
		t.Fatalf("legible text not auto-validated")
	}

	short, _ := s.Score("text/plain", []byte("... !!! ..."))
	if short.Score != 0 {
		t.Fatalf("punctuation-only text scored %f", short.Score)
	}
}

func TestScoreImagesNeedReview(t *testing.T) {
	s := Scorer{MinPageRunes: 10, MinLegibility: 0}
	report, err := s.Score("image/png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if report.Method != MethodUnsupported || report.Score != 0 || s.AutoValidated(report) {
		t.Fatalf("report = %+v", report)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := normalizeText(" a\x00b \n\t c "); got != "a b c" {
		t.Fatalf("normalizeText() = %q", got)
	}
	if got := truncateRunes("ñandú", 3); got != "ñan" {
		t.Fatalf("truncateRunes() = %q", got)
	}
}
