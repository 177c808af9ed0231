// Package validate holds the pure field checks run before any incident is
// written to the store.
package validate

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/kass/go-geo-incidents/pkg/models"
)

// ErrValidation matches every *Error via errors.Is
var ErrValidation = errors.New("validation failed")

// Error is a rejected input field. Message is meant for the user.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is ErrValidation
func (e *Error) Is(target error) bool {
	return target == ErrValidation
}

// Result is the outcome of a single range check
type Result struct {
	Valid   bool
	Message string
}

// Err returns the result as an *Error for field, or nil when valid
func (r Result) Err(field string) error {
	if r.Valid {
		return nil
	}
	return &Error{Field: field, Message: r.Message}
}

var ok = Result{Valid: true}

// Longitude checks x lies in [-180, 180]. NaN and infinities count as non-numeric.
func Longitude(x float64) Result {
	return checkRange("Longitude", x, 180)
}

// Latitude checks x lies in [-90, 90]. NaN and infinities count as non-numeric.
func Latitude(x float64) Result {
	return checkRange("Latitude", x, 90)
}

func checkRange(name string, x, limit float64) Result {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Result{Message: name + " is not a number"}
	}
	if x < -limit || x > limit {
		return Result{Message: name + " is not in valid range"}
	}
	return ok
}

// Coordinates checks longitude then latitude. Only the first failure is
// reported, so a bad longitude always hides a bad latitude.
func Coordinates(lng, lat float64) error {
	if err := Longitude(lng).Err("lng"); err != nil {
		return err
	}
	return Latitude(lat).Err("lat")
}

// Degree reports whether d is one of the accepted severities 1, 2 or 3
func Degree(d int) bool {
	return d >= 1 && d <= 3
}

// Fields runs Coordinates followed by the required-field checks
func Fields(f models.Fields) error {
	if err := Coordinates(f.Lng, f.Lat); err != nil {
		return err
	}
	if strings.TrimSpace(f.Category) == "" {
		return &Error{Field: "category", Message: "Category is required"}
	}
	if !Degree(f.Degree) {
		return &Error{Field: "degree", Message: "Degree must be 1, 2 or 3"}
	}
	if strings.TrimSpace(f.Description) == "" {
		return &Error{Field: "description", Message: "Description is required"}
	}
	return nil
}

// Number parses user supplied text. Anything that is not a number yields NaN,
// which Longitude and Latitude report as non-numeric.
func Number(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
