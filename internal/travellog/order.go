package travellog

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Ordering selects how a record list is sorted.
type Ordering string

const (
	OrderVisitedDesc Ordering = "visited_desc"
	OrderVisitedAsc  Ordering = "visited_asc"
	OrderCountryAsc  Ordering = "country_asc"
	OrderCityAsc     Ordering = "city_asc"
	// OrderInsertion lists records by createdAtSequence, which reflects the
	// store's InsertPolicy.
	OrderInsertion Ordering = "insertion"
)

// DefaultOrdering is used when no ordering is configured.
const DefaultOrdering = OrderVisitedDesc

// ParseOrdering accepts the configured ordering names. The empty string
// selects DefaultOrdering.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.TrimSpace(s)); o {
	case "":
		return DefaultOrdering, nil
	case OrderVisitedDesc, OrderVisitedAsc, OrderCountryAsc, OrderCityAsc, OrderInsertion:
		return o, nil
	default:
		return "", fmt.Errorf("unknown ordering: %q", s)
	}
}

// InsertPolicy decides where RecordStore.Append places a new record.
type InsertPolicy string

const (
	// InsertHead places new records first (most-recent-first).
	InsertHead InsertPolicy = "head"
	InsertTail InsertPolicy = "tail"
)

// ParseInsertPolicy accepts "head" (default) or "tail".
func ParseInsertPolicy(s string) (InsertPolicy, error) {
	switch p := InsertPolicy(strings.TrimSpace(s)); p {
	case "", InsertHead:
		return InsertHead, nil
	case InsertTail:
		return InsertTail, nil
	default:
		return "", fmt.Errorf("unknown insert policy: %q", s)
	}
}

// SortRecords sorts recs in place. The sort is stable; text orderings use
// root-locale collation and fall back to visitedOn descending, then sequence.
func SortRecords(recs []Record, order Ordering) {
	// Collators keep internal buffers and are not safe for concurrent use.
	col := collate.New(language.Und)

	byVisitedDesc := func(a, b Record) int {
		if c := b.VisitedOn.Compare(a.VisitedOn); c != 0 {
			return c
		}
		return cmpInt64(a.Sequence, b.Sequence)
	}

	var cmp func(a, b Record) int
	switch order {
	case OrderVisitedAsc:
		cmp = func(a, b Record) int {
			if c := a.VisitedOn.Compare(b.VisitedOn); c != 0 {
				return c
			}
			return cmpInt64(a.Sequence, b.Sequence)
		}
	case OrderCountryAsc:
		cmp = func(a, b Record) int {
			if c := col.CompareString(a.Country, b.Country); c != 0 {
				return c
			}
			return byVisitedDesc(a, b)
		}
	case OrderCityAsc:
		cmp = func(a, b Record) int {
			if c := col.CompareString(a.City, b.City); c != 0 {
				return c
			}
			return byVisitedDesc(a, b)
		}
	case OrderInsertion:
		cmp = func(a, b Record) int { return cmpInt64(a.Sequence, b.Sequence) }
	default:
		cmp = byVisitedDesc
	}
	slices.SortStableFunc(recs, cmp)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Filter returns the records whose country or city contains term, ignoring
// case. An empty term returns a copy of recs.
func Filter(recs []Record, term string) []Record {
	term = strings.TrimSpace(term)
	if term == "" {
		return cloneRecords(recs)
	}
	fold := cases.Fold()
	needle := fold.String(norm.NFC.String(term))

	out := []Record{}
	for _, r := range recs {
		if strings.Contains(fold.String(r.Country), needle) || strings.Contains(fold.String(r.City), needle) {
			out = append(out, r)
		}
	}
	return out
}
