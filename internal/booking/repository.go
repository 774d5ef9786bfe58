package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEmailTaken          = errors.New("email already registered")

	// ErrDuplicateSlot means the ledger's uniqueness backstop fired: another
	// non-cancelled appointment already holds (provider, date, time).
	ErrDuplicateSlot = errors.New("slot already has an appointment")

	ErrInvalidTransition = errors.New("invalid appointment state transition")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByEmail(ctx context.Context, email string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error

	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetProviderByEmail(ctx context.Context, email string) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
	ListProviders(ctx context.Context) ([]Provider, error)

	// Ledger
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
}
