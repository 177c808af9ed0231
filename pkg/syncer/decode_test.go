package syncer

import (
	"encoding/json"
	"testing"

	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func theft(id string) models.IncidentRecord {
	return models.IncidentRecord{
		ID:     id,
		Fields: models.Fields{Lng: 10, Lat: 20, Category: "theft", Degree: 2, Description: "d"},
	}
}

func TestDecodeSingleEntry(t *testing.T) {
	snap := store.Snapshot{Entries: []store.Entry{
		storetest.Entry("a", map[string]any{"lng": 10, "lat": 20, "category": "theft", "degree": 2, "description": "d"}),
	}}

	records, rejected := Decode(snap)
	assert.Empty(t, rejected)
	require.Len(t, records, 1)
	assert.Equal(t, theft("a"), records[0])
}

func TestDecodeEmpty(t *testing.T) {
	records, rejected := Decode(store.Snapshot{})
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Empty(t, rejected)
}

func TestDecodeKeepsSnapshotOrder(t *testing.T) {
	fields := models.Fields{Lng: 1, Lat: 2, Category: "c", Degree: 1, Description: "x"}
	snap := store.Snapshot{Entries: []store.Entry{
		storetest.Entry("zulu", fields),
		storetest.Entry("alpha", fields),
		storetest.Entry("mike", fields),
	}}

	records, _ := Decode(snap)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, ids)
}

func TestDecodeRejectsMalformedEntries(t *testing.T) {
	good := map[string]any{"lng": 10, "lat": 20, "category": "theft", "degree": 2, "description": "d"}
	with := func(key string, value any) map[string]any {
		out := map[string]any{}
		for k, v := range good {
			out[k] = v
		}
		if value == nil {
			delete(out, key)
		} else {
			out[key] = value
		}
		return out
	}

	testCases := []struct {
		name   string
		entry  store.Entry
		reason string
	}{
		{"not json", store.Entry{Key: "x", Value: json.RawMessage("{nope")}, "value is not valid JSON"},
		{"not object", storetest.Entry("x", []int{1, 2}), "value is not an object"},
		{"string lng", storetest.Entry("x", with("lng", "10")), "lng is not a number"},
		{"missing lat", storetest.Entry("x", with("lat", nil)), "lat is not a number"},
		{"lng out of range", storetest.Entry("x", with("lng", 200)), "longitude is not in valid range"},
		{"lat out of range", storetest.Entry("x", with("lat", -95)), "latitude is not in valid range"},
		{"empty category", storetest.Entry("x", with("category", "")), "category is missing"},
		{"fractional degree", storetest.Entry("x", with("degree", 1.5)), "degree must be 1, 2 or 3"},
		{"degree too high", storetest.Entry("x", with("degree", 7)), "degree must be 1, 2 or 3"},
		{"missing description", storetest.Entry("x", with("description", nil)), "description is missing"},
		{"missing id", storetest.Entry("", good), "missing id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEntry(tc.entry)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedEntry)

			var merr *MalformedEntryError
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tc.reason, merr.Reason)
		})
	}
}

func TestDecodeExcludesOnlyBadEntries(t *testing.T) {
	snap := store.Snapshot{Entries: []store.Entry{
		storetest.Entry("a", theft("a").Fields),
		storetest.Entry("broken", map[string]any{"lng": "west"}),
		storetest.Entry("b", theft("b").Fields),
	}}

	records, rejected := Decode(snap)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	require.Len(t, rejected, 1)
	assert.Equal(t, "broken", rejected[0].ID)
}
