package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jinzhu/inflection"

	"travellog/internal/travellog"
)

// TxLink formats ref with an explorer URL template containing one %s.
// Without a template the bare ref is returned.
func TxLink(template string, ref travellog.ExternalRef) string {
	if ref == "" {
		return ""
	}
	if !strings.Contains(template, "%s") {
		return string(ref)
	}
	return fmt.Sprintf(template, ref)
}

// quantity renders "1 place", "3 places".
func quantity(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %s", n, inflection.Plural(noun))
}

func place(r travellog.Record) string {
	return r.City + ", " + r.Country
}

// RenderView writes a record list with a summary line. now is used to show
// the age of stale data.
func RenderView(w io.Writer, v *travellog.View, now time.Time) error {
	if v.Stale {
		age := now.Sub(v.FetchedAt).Truncate(time.Second)
		if _, err := fmt.Fprintf(w, "warning: remote unavailable, showing records from %s ago\n", age); err != nil {
			return err
		}
	}

	if len(v.Records) == 0 {
		_, err := fmt.Fprintln(w, "No places visited yet.")
		return err
	}

	countries := make(map[string]struct{})
	width := 0
	for _, r := range v.Records {
		countries[strings.ToLower(r.Country)] = struct{}{}
		width = max(width, len([]rune(place(r))))
	}

	if _, err := fmt.Fprintf(w, "%s visited in %s\n\n", quantity(len(v.Records), "place"), quantity(len(countries), "country")); err != nil {
		return err
	}
	for _, r := range v.Records {
		p := place(r)
		pad := strings.Repeat(" ", width-len([]rune(p)))
		if _, err := fmt.Fprintf(w, "%s  %s%s  %s\n", r.Date(), p, pad, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// RenderCount writes the visited place count.
func RenderCount(w io.Writer, n int) error {
	_, err := fmt.Fprintf(w, "%s visited\n", quantity(n, "place"))
	return err
}

// RenderNotification writes one line per lifecycle transition. Idle is
// silent.
func RenderNotification(w io.Writer, n travellog.Notification, explorerURL string) error {
	var err error
	switch n.State {
	case travellog.StateSubmitting:
		_, err = fmt.Fprintf(w, "submitting %s (%s)\n", place(n.Record), n.Record.Date())
	case travellog.StateAwaitingConfirmation:
		_, err = fmt.Fprintf(w, "awaiting confirmation: %s\n", TxLink(explorerURL, n.Ref))
	case travellog.StateConfirmed:
		_, err = fmt.Fprintf(w, "confirmed %s\n", place(n.Record))
	case travellog.StateFailed:
		_, err = fmt.Fprintf(w, "failed: %v\n", n.Reason)
	}
	return err
}

// RenderImport writes the import summary.
func RenderImport(w io.Writer, handles []*travellog.Handle) error {
	confirmed := 0
	for _, h := range handles {
		if h.State() == travellog.StateConfirmed {
			confirmed++
		}
	}
	_, err := fmt.Fprintf(w, "imported %s\n", quantity(confirmed, "place"))
	return err
}
