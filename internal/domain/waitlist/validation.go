package waitlist

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ehr/waitlist/pkg/timerange"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEntry returns every problem with e; an empty result means valid.
func ValidateEntry(e *Entry) []string {
	var problems []string
	if strings.TrimSpace(e.PatientName) == "" {
		problems = append(problems, "patient name is required")
	}
	if e.ContactEmail == nil && e.ContactPhone == nil {
		problems = append(problems, "at least one contact method is required")
	}
	if e.ContactEmail != nil && !emailPattern.MatchString(*e.ContactEmail) {
		problems = append(problems, "invalid email format")
	}
	for i, r := range e.PreferredTimeRanges {
		if !timerange.Valid(r) {
			problems = append(problems, fmt.Sprintf("invalid time range format at position %d (%s)", i, r))
		}
	}
	if !e.UrgencyLevel.Valid() {
		problems = append(problems, fmt.Sprintf("invalid urgency level %q", e.UrgencyLevel))
	}
	if !e.Status.Valid() {
		problems = append(problems, fmt.Sprintf("invalid status %q", e.Status))
	}
	return problems
}
