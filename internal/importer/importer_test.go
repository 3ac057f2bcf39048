package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travellog/internal/travellog"
)

var now = time.Date(2024, 6, 20, 10, 30, 0, 0, time.UTC)

func TestParse_Sample(t *testing.T) {
	f, err := Parse(Sample())
	require.NoError(t, err)
	require.Len(t, f.Visits, 3)
	assert.Equal(t, Visit{Country: "Togo", City: "Lomé", VisitedOn: "2024-01-01"}, f.Visits[0])

	recs, err := f.Records("0xabc", now)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, travellog.OwnerKey("0xabc"), r.Owner)
		assert.Empty(t, r.ID)
	}
	assert.Equal(t, "Paris", recs[2].City)
	assert.Equal(t, "2024-06-15", recs[2].Date())
}

func TestParse_QuotedDatesAndIDs(t *testing.T) {
	doc := `
owner: "0xdef"
visits:
  - id: trip-1
    country: Ghana
    city: Accra
    visited_on: "2023-11-02"
`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "0xdef", f.Owner)

	recs, err := f.Records("0xdef", now)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "trip-1", recs[0].ID)
}

func TestParse_EmptyVisits(t *testing.T) {
	f, err := Parse(strings.NewReader("visits: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, f.Visits)
	assert.Empty(t, f.Visits)

	f, err = Parse(strings.NewReader("owner: someone\n"))
	require.NoError(t, err)
	assert.Empty(t, f.Visits)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "empty document",
			doc:     "",
			wantErr: "empty",
		},
		{
			name:    "unknown key",
			doc:     "visits:\n  - country: Togo\n    city: Lomé\n    visited_on: 2024-01-01\n    rating: 5\n",
			wantErr: "rating",
		},
		{
			name:    "missing city",
			doc:     "visits:\n  - country: Togo\n    visited_on: 2024-01-01\n",
			wantErr: "invalid visit file",
		},
		{
			name:    "bad date shape",
			doc:     "visits:\n  - country: Togo\n    city: Lomé\n    visited_on: 01/01/2024\n",
			wantErr: "invalid visit file",
		},
		{
			name:    "not yaml",
			doc:     "visits: [unclosed\n",
			wantErr: "decoding visit file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecords_RejectsWholeFile(t *testing.T) {
	doc := `
visits:
  - country: Togo
    city: Lomé
    visited_on: 2024-01-01
  - country: Mars
    city: Base
    visited_on: 2099-01-01
`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	recs, err := f.Records("0xabc", now)
	assert.Nil(t, recs)
	require.Error(t, err)
	assert.Equal(t, travellog.KindInvalidInput, travellog.KindOf(err))
	assert.Contains(t, err.Error(), "visit 2")
}

func TestRecords_ImpossibleDate(t *testing.T) {
	f, err := Parse(strings.NewReader("visits:\n  - country: X\n    city: Y\n    visited_on: \"2024-02-31\"\n"))
	require.NoError(t, err)

	_, err = f.Records("0xabc", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visit 1")
}
