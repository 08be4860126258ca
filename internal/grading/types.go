package grading

import (
	"strconv"
	"strings"
	"time"
)

// ServiceKey identifies an external grading authority.
type ServiceKey string

// Known grading services.
const (
	ServiceCGC  ServiceKey = "CGC"
	ServiceWATA ServiceKey = "WATA"
)

// NormalizeServiceKey upper-cases and trims a raw service name.
func NormalizeServiceKey(raw string) ServiceKey {
	return ServiceKey(strings.ToUpper(strings.TrimSpace(raw)))
}

// String returns the key as a plain string.
func (k ServiceKey) String() string {
	return string(k)
}

// PopulationData holds the population counts published next to a grade.
type PopulationData struct {
	TotalGraded  *string `json:"totalGraded"`
	HigherGrades *string `json:"higherGrades"`
	SameGrade    *string `json:"sameGrade"`
	LowerGrades  *string `json:"lowerGrades"`
}

// PopulationReport is present on a record regardless of availability; Data is
// non-nil only when Available is true.
type PopulationReport struct {
	Available bool            `json:"available"`
	Data      *PopulationData `json:"data"`
}

// GameRecord is the structured view of one certification page. Every scalar
// may be missing on the source page; a missing Title means "not found".
type GameRecord struct {
	Title             *string          `json:"title"`
	Grade             *string          `json:"grade"`
	Platform          *string          `json:"platform"`
	CertificationDate *string          `json:"certificationDate"`
	PopulationReport  PopulationReport `json:"populationReport"`
}

// HasTitle reports whether the record carries a non-empty title.
func (r GameRecord) HasTitle() bool {
	return r.Title != nil && strings.TrimSpace(*r.Title) != ""
}

// SourceResult is one grading service's successful outcome.
type SourceResult struct {
	Success     bool                `json:"success"`
	Source      ServiceKey          `json:"source"`
	CertNumber  CertificationNumber `json:"certNumber"`
	Data        GameRecord          `json:"data"`
	SnapshotURI string              `json:"snapshotUri,omitempty"`
}

// LookupResult aggregates every source that succeeded for one number, in
// completion order.
type LookupResult struct {
	CertNumber CertificationNumber `json:"certNumber"`
	Results    []SourceResult      `json:"results"`
}

// LookupRecord is the history row persisted after every lookup, successful or not.
type LookupRecord struct {
	ID         string              `json:"id"`
	CertNumber CertificationNumber `json:"certNumber"`
	Sources    []ServiceKey        `json:"sources"`
	Results    []SourceResult      `json:"results"`
	Found      bool                `json:"found"`
	LookedUpAt time.Time           `json:"lookedUpAt"`
	DurationMs int64               `json:"durationMs"`
}

// LookupEvent is published once a lookup settles.
type LookupEvent struct {
	LookupID   string              `json:"lookupId"`
	CertNumber CertificationNumber `json:"certNumber"`
	Found      bool                `json:"found"`
	Sources    []ServiceKey        `json:"sources"`
	LookedUpAt time.Time           `json:"lookedUpAt"`
}

// Attributes returns message attributes for routing the event without
// decoding its body.
func (e LookupEvent) Attributes() map[string]string {
	return map[string]string{
		"lookup_id":   e.LookupID,
		"cert_number": e.CertNumber.String(),
		"found":       strconv.FormatBool(e.Found),
	}
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
