package movie

import (
	"fmt"
	"regexp"
)

// MinRating and MaxRating bound the source site's star scale
const (
	MinRating = 1
	MaxRating = 5
)

var externalIDPattern = regexp.MustCompile(`^tt\d+$`)

// Record is one rated movie as scraped from the source site
type Record struct {
	Title      string
	Rating     int    // 0 when the movie was collected without a rating
	ExternalID string // "tt" + digits, empty when unknown
}

// HasRating reports whether the record carries a usable source rating
func (r Record) HasRating() bool {
	return r.Rating >= MinRating && r.Rating <= MaxRating
}

// HasExternalID reports whether the external id is well formed
func (r Record) HasExternalID() bool {
	return ValidExternalID(r.ExternalID)
}

// Label formats the record the way reports list it: "Title(tt123)"
func (r Record) Label() string {
	if r.ExternalID == "" {
		return r.Title
	}
	return fmt.Sprintf("%s(%s)", r.Title, r.ExternalID)
}

// ValidExternalID checks the "tt" + digits shape of a cross-site identifier
func ValidExternalID(id string) bool {
	return externalIDPattern.MatchString(id)
}
