package model

import "time"

// Category codes for organizations.
const (
	CategoryEnvironment    = "ENV"
	CategoryEducation      = "EDU"
	CategoryHealth         = "HEA"
	CategoryAnimals        = "ANI"
	CategoryArts           = "ART"
	CategoryHumanitarian   = "HUM"
	CategoryCommunity      = "COM"
	CategoryDisasterRelief = "DIS"
	CategoryOther          = "OTH"
)

// Categories returns the closed set of organization category codes.
func Categories() []string {
	return []string{
		CategoryEnvironment,
		CategoryEducation,
		CategoryHealth,
		CategoryAnimals,
		CategoryArts,
		CategoryHumanitarian,
		CategoryCommunity,
		CategoryDisasterRelief,
		CategoryOther,
	}
}

// IsCategory reports whether code is one of the known category codes.
func IsCategory(code string) bool {
	for _, c := range Categories() {
		if c == code {
			return true
		}
	}
	return false
}

// Organization is a charity or other entity being researched.
type Organization struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	WebsiteURL         string    `json:"website_url,omitempty"`
	Tagline            string    `json:"tagline,omitempty"`
	Keywords           []string  `json:"keywords,omitempty"`
	Category           string    `json:"category,omitempty"`
	CountryOfOperation string    `json:"country_of_operation,omitempty"`
	YearFounded        *int      `json:"year_founded,omitempty"`
	ContactPerson      string    `json:"contact_person,omitempty"`
	ExtractedTextData  string    `json:"-"`
	Embedding          []float32 `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProfileText is the text embedded to represent the organization.
func (o *Organization) ProfileText() string {
	if o.Description == "" {
		return o.Name
	}
	return o.Name + ": " + o.Description
}

// OrganizationProfile holds the fields extracted from an organization's
// website. Empty strings and nil pointers mean "no evidence found".
type OrganizationProfile struct {
	Tagline       string   `json:"tagline,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Country       string   `json:"country,omitempty"`
	YearFounded   *int     `json:"year_founded,omitempty"`
	ContactPerson string   `json:"contact_person,omitempty"`
}
