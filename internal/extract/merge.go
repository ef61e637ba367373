package extract

import (
	"slices"
	"unicode/utf8"

	"github.com/sells-group/compass/internal/model"
)

// ShortDescriptionChars is the length below which a stored description is
// replaced by the extracted summary.
const ShortDescriptionChars = 20

// MergeProfile applies an extracted profile to org and returns the names of
// the fields it changed. The description is only filled when missing or
// shorter than ShortDescriptionChars; the other fields are refreshed
// whenever a non-empty value was extracted.
func MergeProfile(org *model.Organization, p model.OrganizationProfile) []string {
	var changed []string
	set := func(field string, dst *string, val string) {
		if val != "" && *dst != val {
			*dst = val
			changed = append(changed, field)
		}
	}

	set("tagline", &org.Tagline, p.Tagline)
	if utf8.RuneCountInString(org.Description) < ShortDescriptionChars {
		set("description", &org.Description, p.Summary)
	}
	if len(p.Keywords) > 0 && !slices.Equal(org.Keywords, p.Keywords) {
		org.Keywords = slices.Clone(p.Keywords)
		changed = append(changed, "keywords")
	}
	if cat := MapCategory(p.Category); cat != nil {
		set("category", &org.Category, *cat)
	}
	set("country_of_operation", &org.CountryOfOperation, p.Country)
	if p.YearFounded != nil && (org.YearFounded == nil || *org.YearFounded != *p.YearFounded) {
		year := *p.YearFounded
		org.YearFounded = &year
		changed = append(changed, "year_founded")
	}
	set("contact_person", &org.ContactPerson, p.ContactPerson)
	return changed
}
