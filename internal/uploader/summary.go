package uploader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"
)

func humanSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

// pdfPages returns the page count of a PDF, or 0 when path is not a
// readable PDF.
func pdfPages(path string) (pages int) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return 0
	}
	// The reader panics on some malformed files.
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()

	f, r, err := pdf.Open(path)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return 0
	}
	return r.NumPage()
}

func summaryText(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Store %s", s.StoreID)
	if s.StoreName != "" {
		fmt.Fprintf(&b, " (%s)", s.StoreName)
	}
	fmt.Fprintf(&b, ": uploaded %d of %d files, attached %d.\n", len(s.FileIDs), len(s.Outcomes), s.AttachedCount)

	var failed []Outcome
	for _, o := range s.Outcomes {
		if o.Error != "" {
			failed = append(failed, o)
			continue
		}
		fmt.Fprintf(&b, "  ok      %s (%s", filepath.Base(o.Path), humanSize(o.Size))
		if o.Pages > 0 {
			fmt.Fprintf(&b, ", %d pages", o.Pages)
		}
		b.WriteString(")")
		if o.Status != "" {
			fmt.Fprintf(&b, " %s", o.Status)
		}
		b.WriteString("\n")
	}
	for _, o := range failed {
		fmt.Fprintf(&b, "  failed  %s: %s\n", filepath.Base(o.Path), o.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
