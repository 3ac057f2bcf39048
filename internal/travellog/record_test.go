package travellog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travellog/internal/travellog"
)

func TestNormalize(t *testing.T) {
	decomposed := "Lomé"
	rec := travellog.Normalize(travellog.Record{
		Country:   "  Togo ",
		City:      decomposed,
		VisitedOn: time.Date(2024, 1, 1, 23, 59, 0, 0, time.FixedZone("UTC+2", 2*3600)),
	})

	assert.Equal(t, "Togo", rec.Country)
	assert.Equal(t, "Lomé", rec.City)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec.VisitedOn)
}

func TestNaturalKey(t *testing.T) {
	rec := travellog.NewRecord(alice, "Togo", "Lomé", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "Togo-Lomé-20240101", rec.NaturalKey())
	assert.Equal(t, "2024-01-01", rec.Date())
}

func TestParseDate(t *testing.T) {
	d, err := travellog.ParseDate(" 2024-03-22 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC), d)

	for _, bad := range []string{"", "22/03/2024", "2024-13-01", "2024-02-30"} {
		_, err := travellog.ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2024, 6, 20, 10, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		rec     travellog.Record
		wantErr bool
	}{
		{"valid", travellog.Record{Owner: alice, Country: "Togo", City: "Lomé", VisitedOn: day(2024, 1, 1)}, false},
		{"today", travellog.Record{Owner: alice, Country: "Togo", City: "Lomé", VisitedOn: day(2024, 6, 20)}, false},
		{"tomorrow", travellog.Record{Owner: alice, Country: "Togo", City: "Lomé", VisitedOn: day(2024, 6, 21)}, true},
		{"whitespace city", travellog.Record{Owner: alice, Country: "Togo", City: " \t", VisitedOn: day(2024, 1, 1)}, true},
		{"no owner", travellog.Record{Country: "Togo", City: "Lomé", VisitedOn: day(2024, 1, 1)}, true},
		{"no date", travellog.Record{Owner: alice, Country: "Togo", City: "Lomé"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := travellog.Validate(tt.rec, now)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, travellog.KindInvalidInput, travellog.KindOf(err))
		})
	}
}
