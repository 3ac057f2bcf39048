package travellog

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the calendar-date format used for visitedOn everywhere:
// storage, snapshots, import files and CLI flags.
const DateLayout = "2006-01-02"

// OwnerKey scopes a private record list. It is an account address or a
// local session key and is never interpreted. The zero value means no owner.
type OwnerKey string

func (k OwnerKey) String() string { return string(k) }

// IsZero reports whether the key represents the logged-out state.
func (k OwnerKey) IsZero() bool { return k == "" }

// Record is a single visited place.
type Record struct {
	ID        string
	Owner     OwnerKey
	Country   string
	City      string
	VisitedOn time.Time // midnight UTC of the visit date
	Sequence  int64     // createdAtSequence, assigned by the RecordStore
}

// NewRecord builds a normalised record for owner.
func NewRecord(owner OwnerKey, country, city string, visitedOn time.Time) Record {
	return Normalize(Record{
		Owner:     owner,
		Country:   country,
		City:      city,
		VisitedOn: visitedOn,
	})
}

// Date returns visitedOn formatted with DateLayout.
func (r Record) Date() string {
	return r.VisitedOn.Format(DateLayout)
}

// NaturalKey returns the surrogate identity derived from the
// (country, city, visitedOn) tuple.
func (r Record) NaturalKey() string {
	return fmt.Sprintf("%s-%s-%s", r.Country, r.City, r.VisitedOn.Format("20060102"))
}

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// DateOf truncates t to its calendar date (in t's own location) and returns
// that date at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Normalize trims and NFC-normalises the text fields and truncates visitedOn
// to a date. Composed and decomposed spellings of the same place compare equal
// afterwards.
func Normalize(r Record) Record {
	r.Country = norm.NFC.String(strings.TrimSpace(r.Country))
	r.City = norm.NFC.String(strings.TrimSpace(r.City))
	if !r.VisitedOn.IsZero() {
		r.VisitedOn = DateOf(r.VisitedOn)
	}
	return r
}

// Validate checks the record shape against the current time.
// The returned error is always of kind InvalidInput.
func Validate(r Record, now time.Time) error {
	r = Normalize(r)
	switch {
	case r.Owner.IsZero():
		return &Error{Kind: KindInvalidInput, Op: "validate", Err: fmt.Errorf("no owner")}
	case r.Country == "":
		return &Error{Kind: KindInvalidInput, Op: "validate", Owner: r.Owner, Err: fmt.Errorf("country is required")}
	case r.City == "":
		return &Error{Kind: KindInvalidInput, Op: "validate", Owner: r.Owner, Err: fmt.Errorf("city is required")}
	case r.VisitedOn.IsZero():
		return &Error{Kind: KindInvalidInput, Op: "validate", Owner: r.Owner, Err: fmt.Errorf("visit date is required")}
	case r.VisitedOn.After(DateOf(now)):
		return &Error{Kind: KindInvalidInput, Op: "validate", Owner: r.Owner,
			Err: fmt.Errorf("visit date %s is in the future", r.Date())}
	}
	return nil
}

// cloneRecords returns a copy of recs that shares no backing array.
func cloneRecords(recs []Record) []Record {
	if recs == nil {
		return []Record{}
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
