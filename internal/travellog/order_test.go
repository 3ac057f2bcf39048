package travellog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"travellog/internal/travellog"
)

func sample() []travellog.Record {
	day := func(s string) time.Time {
		d, _ := travellog.ParseDate(s)
		return d
	}
	return []travellog.Record{
		{ID: "lome", Country: "Togo", City: "Lomé", VisitedOn: day("2024-01-01"), Sequence: 1},
		{ID: "paris", Country: "France", City: "Paris", VisitedOn: day("2024-06-15"), Sequence: 2},
		{ID: "tokyo", Country: "Japan", City: "Tokyo", VisitedOn: day("2024-03-22"), Sequence: 3},
		{ID: "lyon", Country: "France", City: "Lyon", VisitedOn: day("2024-06-15"), Sequence: 4},
		{ID: "evian", Country: "France", City: "Évian", VisitedOn: day("2023-08-08"), Sequence: 5},
	}
}

func ids(recs []travellog.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestSortRecords(t *testing.T) {
	tests := []struct {
		order travellog.Ordering
		want  []string
	}{
		{travellog.OrderVisitedDesc, []string{"paris", "lyon", "tokyo", "lome", "evian"}},
		{travellog.OrderVisitedAsc, []string{"evian", "lome", "tokyo", "paris", "lyon"}},
		{travellog.OrderCountryAsc, []string{"paris", "lyon", "evian", "tokyo", "lome"}},
		{travellog.OrderCityAsc, []string{"evian", "lome", "lyon", "paris", "tokyo"}},
		{travellog.OrderInsertion, []string{"lome", "paris", "tokyo", "lyon", "evian"}},
		{"", []string{"paris", "lyon", "tokyo", "lome", "evian"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			recs := sample()
			travellog.SortRecords(recs, tt.order)
			assert.Equal(t, tt.want, ids(recs))
		})
	}
}

func TestParseOrdering(t *testing.T) {
	got, err := travellog.ParseOrdering("")
	assert.NoError(t, err)
	assert.Equal(t, travellog.DefaultOrdering, got)

	got, err = travellog.ParseOrdering(" city_asc ")
	assert.NoError(t, err)
	assert.Equal(t, travellog.OrderCityAsc, got)

	_, err = travellog.ParseOrdering("random")
	assert.Error(t, err)
}

func TestParseInsertPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    travellog.InsertPolicy
		wantErr bool
	}{
		{"", travellog.InsertHead, false},
		{"head", travellog.InsertHead, false},
		{"tail", travellog.InsertTail, false},
		{"middle", "", true},
	}
	for _, tt := range tests {
		got, err := travellog.ParseInsertPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseInsertPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInsertPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"lome", "paris", "tokyo", "lyon", "evian"}},
		{"france", []string{"paris", "lyon", "evian"}},
		{"LY", []string{"lyon"}},
		{"lomé", []string{"lome"}},
		{"Lomé", []string{"lome"}},
		{"évian", []string{"evian"}},
		{"atlantis", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(travellog.Filter(sample(), tt.term)))
		})
	}
}
