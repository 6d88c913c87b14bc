package types

import (
	"fmt"
	"strings"
	"time"
)

// ServiceRecord is the canonical representation of one support service in the registry.
// Child rows (locations, contacts, schedules) are owned by the record and loaded with it.
type ServiceRecord struct {
	ID                 string             `json:"id" yaml:"id"`
	OrganizationID     string             `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	Name               string             `json:"name" yaml:"name"`
	Description        string             `json:"description,omitempty" yaml:"description,omitempty"`
	Categories         []string           `json:"categories,omitempty" yaml:"categories,omitempty"`
	Keywords           []string           `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	MinAge             *int               `json:"min_age,omitempty" yaml:"min_age,omitempty"`
	MaxAge             *int               `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	ApplicationProcess string             `json:"application_process,omitempty" yaml:"application_process,omitempty"`
	Fees               string             `json:"fees,omitempty" yaml:"fees,omitempty"`
	WaitTime           string             `json:"wait_time,omitempty" yaml:"wait_time,omitempty"`
	Status             ServiceStatus      `json:"status" yaml:"status"`
	DataSource         string             `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty" yaml:"verification_status,omitempty"`
	CompletenessScore  float64            `json:"completeness_score" yaml:"completeness_score,omitempty"`
	VerificationScore  float64            `json:"verification_score" yaml:"verification_score,omitempty"`
	MergedInto         string             `json:"merged_into,omitempty" yaml:"merged_into,omitempty"` // set when soft-deactivated by a merge
	Locations          []Location         `json:"locations,omitempty" yaml:"locations,omitempty"`
	Contacts           []Contact          `json:"contacts,omitempty" yaml:"contacts,omitempty"`
	Schedules          []Schedule         `json:"schedules,omitempty" yaml:"schedules,omitempty"`
	CreatedAt          time.Time          `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks that the record can enter candidate search or be written to the store.
func (s *ServiceRecord) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(s.Name) > 500 {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("name must be 500 characters or less (got %d)", len(s.Name))}
	}
	if s.Status != "" && !s.Status.IsValid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status: %s", s.Status)}
	}
	if s.VerificationStatus != "" && !s.VerificationStatus.IsValid() {
		return &ValidationError{Field: "verification_status", Message: fmt.Sprintf("invalid verification status: %s", s.VerificationStatus)}
	}
	if s.MinAge != nil && *s.MinAge < 0 {
		return &ValidationError{Field: "min_age", Message: fmt.Sprintf("min_age cannot be negative (got %d)", *s.MinAge)}
	}
	if s.MinAge != nil && s.MaxAge != nil && *s.MinAge > *s.MaxAge {
		return &ValidationError{Field: "max_age", Message: fmt.Sprintf("max_age must be >= min_age (got %d < %d)", *s.MaxAge, *s.MinAge)}
	}
	if s.CompletenessScore < 0 || s.CompletenessScore > 1 {
		return &ValidationError{Field: "completeness_score", Message: fmt.Sprintf("completeness_score must be between 0.0 and 1.0 (got %.2f)", s.CompletenessScore)}
	}
	if s.VerificationScore < 0 || s.VerificationScore > 1 {
		return &ValidationError{Field: "verification_score", Message: fmt.Sprintf("verification_score must be between 0.0 and 1.0 (got %.2f)", s.VerificationScore)}
	}
	for i := range s.Locations {
		if err := s.Locations[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsActive reports whether the record takes part in the canonical active set.
func (s *ServiceRecord) IsActive() bool {
	return s.Status == "" || s.Status == StatusActive
}

// PrimaryLocation returns the first location, or nil.
func (s *ServiceRecord) PrimaryLocation() *Location {
	if len(s.Locations) == 0 {
		return nil
	}
	return &s.Locations[0]
}

// Coordinates returns the first location that carries coordinates.
func (s *ServiceRecord) Coordinates() (Coordinates, bool) {
	for _, loc := range s.Locations {
		if loc.Coordinates != nil {
			return *loc.Coordinates, true
		}
	}
	return Coordinates{}, false
}

// Phones flattens the phone numbers of every contact.
func (s *ServiceRecord) Phones() []string {
	var out []string
	for _, c := range s.Contacts {
		for _, p := range c.Phones {
			if p.Number != "" {
				out = append(out, p.Number)
			}
		}
	}
	return out
}

// Email returns the first non-empty contact email.
func (s *ServiceRecord) Email() string {
	for _, c := range s.Contacts {
		if c.Email != "" {
			return c.Email
		}
	}
	return ""
}

// Regions returns the distinct non-empty regions of the record's locations.
func (s *ServiceRecord) Regions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range s.Locations {
		if loc.Region == "" || seen[loc.Region] {
			continue
		}
		seen[loc.Region] = true
		out = append(out, loc.Region)
	}
	return out
}

// ServiceStatus is the lifecycle state of a record
type ServiceStatus string

const (
	StatusActive   ServiceStatus = "active"
	StatusInactive ServiceStatus = "inactive"
)

// IsValid checks if the status value is valid
func (s ServiceStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive:
		return true
	}
	return false
}

// VerificationStatus records whether a human or source confirmed the record
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
)

// IsValid checks if the verification status value is valid
func (v VerificationStatus) IsValid() bool {
	switch v {
	case VerificationUnverified, VerificationPending, VerificationVerified:
		return true
	}
	return false
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Location is a physical site where a service is delivered.
type Location struct {
	ID          string       `json:"id,omitempty" yaml:"id,omitempty"`
	ServiceID   string       `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Address1    string       `json:"address_1,omitempty" yaml:"address_1,omitempty"`
	Address2    string       `json:"address_2,omitempty" yaml:"address_2,omitempty"`
	City        string       `json:"city,omitempty" yaml:"city,omitempty"`
	State       string       `json:"state,omitempty" yaml:"state,omitempty"`
	Postcode    string       `json:"postcode,omitempty" yaml:"postcode,omitempty"`
	Region      string       `json:"region,omitempty" yaml:"region,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
}

// Validate checks coordinate ranges.
func (l *Location) Validate() error {
	if l.Coordinates == nil {
		return nil
	}
	if l.Coordinates.Latitude < -90 || l.Coordinates.Latitude > 90 {
		return &ValidationError{Field: "latitude", Message: fmt.Sprintf("latitude must be between -90 and 90 (got %f)", l.Coordinates.Latitude)}
	}
	if l.Coordinates.Longitude < -180 || l.Coordinates.Longitude > 180 {
		return &ValidationError{Field: "longitude", Message: fmt.Sprintf("longitude must be between -180 and 180 (got %f)", l.Coordinates.Longitude)}
	}
	return nil
}

// AddressParts returns the address components in display order.
func (l *Location) AddressParts() []string {
	return []string{l.Address1, l.Address2, l.City, l.State, l.Postcode}
}

// HasAddress reports whether any address component is set.
func (l *Location) HasAddress() bool {
	for _, p := range l.AddressParts() {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// Phone is one phone number on a contact.
type Phone struct {
	Number string `json:"number" yaml:"number"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Contact groups the phone numbers and email of a service.
type Contact struct {
	ID        string  `json:"id,omitempty" yaml:"id,omitempty"`
	ServiceID string  `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Email     string  `json:"email,omitempty" yaml:"email,omitempty"`
	Phones    []Phone `json:"phones,omitempty" yaml:"phones,omitempty"`
}

// Schedule is an opening window for a service.
type Schedule struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	ServiceID string `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	Weekday   string `json:"weekday" yaml:"weekday"`
	Opens     string `json:"opens,omitempty" yaml:"opens,omitempty"`
	Closes    string `json:"closes,omitempty" yaml:"closes,omitempty"`
	Notes     string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Organization is the provider a service belongs to. Services reference it weakly.
type Organization struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Type       string    `json:"type,omitempty" yaml:"type,omitempty"`
	DataSource string    `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks if the organization has valid field values
func (o *Organization) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return &ValidationError{Field: "id", Message: "organization id is required"}
	}
	if strings.TrimSpace(o.Name) == "" {
		return &ValidationError{Field: "name", Message: "organization name is required"}
	}
	return nil
}

// Statistics summarizes the registry contents.
type Statistics struct {
	TotalServices      int `json:"total_services"`
	ActiveServices     int `json:"active_services"`
	InactiveServices   int `json:"inactive_services"`
	TotalOrganizations int `json:"total_organizations"`
	ServicesAdded      int `json:"services_added"` // created since the requested cutoff
	MergeHistoryCount  int `json:"merge_history_count"`
}
