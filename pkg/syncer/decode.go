package syncer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/validate"
	"github.com/tidwall/gjson"
)

// ErrMalformedEntry matches every *MalformedEntryError
var ErrMalformedEntry = errors.New("malformed entry")

// MalformedEntryError explains why a snapshot entry was left out
type MalformedEntryError struct {
	ID     string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("entry %q: %s", e.ID, e.Reason)
}

// Is reports whether target is ErrMalformedEntry
func (e *MalformedEntryError) Is(target error) bool {
	return target == ErrMalformedEntry
}

// Rejection is an entry excluded from a published sequence
type Rejection struct {
	ID  string
	Err error
}

// Decode maps a snapshot to records in the snapshot's own order. Entries
// that do not form a valid record are returned as rejections instead.
func Decode(snap store.Snapshot) ([]models.IncidentRecord, []Rejection) {
	records := make([]models.IncidentRecord, 0, len(snap.Entries))
	var rejected []Rejection
	for _, e := range snap.Entries {
		rec, err := DecodeEntry(e)
		if err != nil {
			rejected = append(rejected, Rejection{ID: e.Key, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

// DecodeEntry maps one id/value pair to a record
func DecodeEntry(e store.Entry) (models.IncidentRecord, error) {
	bad := func(format string, args ...any) (models.IncidentRecord, error) {
		return models.IncidentRecord{}, &MalformedEntryError{ID: e.Key, Reason: fmt.Sprintf(format, args...)}
	}

	if e.Key == "" {
		return bad("missing id")
	}
	if !gjson.ValidBytes(e.Value) {
		return bad("value is not valid JSON")
	}
	doc := gjson.ParseBytes(e.Value)
	if !doc.IsObject() {
		return bad("value is not an object")
	}

	fields := gjson.GetManyBytes(e.Value, "lng", "lat", "category", "degree", "description")
	lng, lat, category, degree, description := fields[0], fields[1], fields[2], fields[3], fields[4]

	if lng.Type != gjson.Number {
		return bad("lng is not a number")
	}
	if lat.Type != gjson.Number {
		return bad("lat is not a number")
	}
	if err := validate.Coordinates(lng.Num, lat.Num); err != nil {
		return bad("%s", strings.ToLower(err.Error()))
	}
	if category.Type != gjson.String || strings.TrimSpace(category.Str) == "" {
		return bad("category is missing")
	}
	if degree.Type != gjson.Number || degree.Num != math.Trunc(degree.Num) || degree.Num < 1 || degree.Num > 3 {
		return bad("degree must be 1, 2 or 3")
	}
	if description.Type != gjson.String || strings.TrimSpace(description.Str) == "" {
		return bad("description is missing")
	}

	return models.IncidentRecord{
		ID: e.Key,
		Fields: models.Fields{
			Lng:         lng.Num,
			Lat:         lat.Num,
			Category:    category.Str,
			Degree:      int(degree.Num),
			Description: description.Str,
		},
	}, nil
}
