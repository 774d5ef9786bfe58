package booking

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Identity is a verified caller: an opaque subject id plus its role. The
// admin identity is the single configured principal, not a stored record.
type Identity struct {
	ID   string
	Role Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Address struct {
	Line1 string `json:"line1,omitempty"`
	Line2 string `json:"line2,omitempty"`
}

type Patient struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Address      Address
	DOB          string
	Gender       string
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Provider struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Specialty    string
	Degree       string
	Experience   string
	About        string
	Fee          int64 // minor currency units, never negative
	Address      Address
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PatientSnapshot and ProviderSnapshot are the public attributes copied onto
// an appointment at booking time. They are immutable afterwards so historical
// appointments render the same even if the live profile changes.
type PatientSnapshot struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    string  `json:"phone,omitempty"`
	Address  Address `json:"address,omitempty"`
	DOB      string  `json:"dob,omitempty"`
	Gender   string  `json:"gender,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
}

type ProviderSnapshot struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Specialty  string  `json:"specialty"`
	Degree     string  `json:"degree,omitempty"`
	Experience string  `json:"experience,omitempty"`
	About      string  `json:"about,omitempty"`
	Fee        int64   `json:"fee"`
	Address    Address `json:"address,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
}

func (p *Patient) Snapshot() PatientSnapshot {
	return PatientSnapshot{
		Name:     p.Name,
		Email:    p.Email,
		Phone:    p.Phone,
		Address:  p.Address,
		DOB:      p.DOB,
		Gender:   p.Gender,
		ImageURL: p.ImageURL,
	}
}

func (p *Provider) Snapshot() ProviderSnapshot {
	return ProviderSnapshot{
		Name:       p.Name,
		Email:      p.Email,
		Specialty:  p.Specialty,
		Degree:     p.Degree,
		Experience: p.Experience,
		About:      p.About,
		Fee:        p.Fee,
		Address:    p.Address,
		ImageURL:   p.ImageURL,
	}
}

// Appointment is a ledger entry. Only Cancelled and Completed may change
// after creation, and once either is true the appointment is terminal.
type Appointment struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	ProviderID       uuid.UUID
	SlotDate         string // "DD_MM_YYYY"
	SlotTime         string // e.g. "10:00 AM"
	PatientSnapshot  PatientSnapshot
	ProviderSnapshot ProviderSnapshot
	Amount           int64
	Cancelled        bool
	Completed        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
