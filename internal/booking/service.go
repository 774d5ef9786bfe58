package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/appointment-booking/internal/availability"
)

// releaseTimeout bounds the compensating release that runs after a failed
// ledger write. It is deliberately independent of the request deadline: when
// the ledger failure is the deadline itself, the release must still run.
const releaseTimeout = 5 * time.Second

var (
	// ErrSlotTaken is the single user-facing outcome for any store-level
	// conflict, whether from the availability store or the ledger backstop.
	ErrSlotTaken = errors.New("slot already booked")

	ErrForbidden          = errors.New("not authorized for this appointment")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// VerifyPassword reports whether a plaintext password matches a stored hash.
type VerifyPassword func(hash, password string) bool

// Service composes the availability store and the ledger. The availability
// store's atomic reserve is the mutual-exclusion point; everything else is
// plain reads and conditional writes.
type Service struct {
	repo   Repository
	slots  availability.Store
	verify VerifyPassword
	log    *zap.Logger
}

func NewService(repo Repository, slots availability.Store, verify VerifyPassword, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		slots:  slots,
		verify: verify,
		log:    log,
	}
}

// Book reserves the slot and writes the ledger entry. If the ledger write
// fails after the slot was reserved, the reservation is released before the
// error is reported so the two stores never diverge.
func (s *Service) Book(ctx context.Context, patientID, providerID uuid.UUID, slotDate, slotTime string) (*Appointment, error) {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if err := s.slots.Reserve(ctx, providerID, slotDate, slotTime); err != nil {
		if errors.Is(err, availability.ErrAlreadyReserved) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	appt := &Appointment{
		ID:               uuid.New(),
		PatientID:        patientID,
		ProviderID:       providerID,
		SlotDate:         slotDate,
		SlotTime:         slotTime,
		PatientSnapshot:  patient.Snapshot(),
		ProviderSnapshot: provider.Snapshot(),
		Amount:           provider.Fee,
	}

	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		// Compensate: the reservation must not outlive a failed ledger write.
		// The release gets a detached context so an expired request deadline
		// cannot strand the slot without a ledger entry to reconcile from.
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer relCancel()
		if relErr := s.slots.Release(relCtx, providerID, slotDate, slotTime); relErr != nil {
			s.log.Error("failed to release slot after ledger write failure",
				zap.String("provider_id", providerID.String()),
				zap.String("slot_date", slotDate),
				zap.String("slot_time", slotTime),
				zap.Error(relErr),
			)
		}
		if errors.Is(err, ErrDuplicateSlot) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.String("slot_date", slotDate),
		zap.String("slot_time", slotTime),
	)
	return appt, nil
}

// Cancel marks the appointment cancelled and then releases its slot. The
// ordering matters: a crash between the two steps leaves the slot reserved
// but unusable, which a later reconciliation can release, rather than
// released and claimable twice.
func (s *Service) Cancel(ctx context.Context, requester Identity, appointmentID uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("load appointment: %w", err)
	}

	if !s.mayCancel(requester, appt) {
		return ErrForbidden
	}

	if appt.Cancelled {
		return nil
	}

	if err := s.repo.MarkCancelled(ctx, appointmentID); err != nil {
		return err
	}

	if err := s.slots.Release(ctx, appt.ProviderID, appt.SlotDate, appt.SlotTime); err != nil {
		s.log.Error("appointment cancelled but slot release failed",
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("release slot: %w", err)
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("requester_role", string(requester.Role)),
	)
	return nil
}

// Complete does not touch the availability store: the slot stays consumed
// historically.
func (s *Service) Complete(ctx context.Context, requester Identity, appointmentID uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("load appointment: %w", err)
	}

	if !requester.IsAdmin() &&
		!(requester.Role == RoleProvider && requester.ID == appt.ProviderID.String()) {
		return ErrForbidden
	}

	if err := s.repo.MarkCompleted(ctx, appointmentID); err != nil {
		return err
	}

	s.log.Info("appointment completed",
		zap.String("appointment_id", appointmentID.String()),
	)
	return nil
}

func (s *Service) mayCancel(requester Identity, appt *Appointment) bool {
	switch requester.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return requester.ID == appt.PatientID.String()
	case RoleProvider:
		return requester.ID == appt.ProviderID.String()
	default:
		return false
	}
}

// ListForPatient returns the patient's appointments in insertion order,
// including cancelled and completed ones; callers filter if they need to.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error) {
	appts, err := s.repo.ListAppointmentsByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return appts, nil
}

// AuthenticatePatient checks credentials for the patient login endpoint. A
// missing account and a wrong password are indistinguishable to the caller.
func (s *Service) AuthenticatePatient(ctx context.Context, email, password string) (*Patient, error) {
	p, err := s.repo.GetPatientByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !s.verify(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) AuthenticateProvider(ctx context.Context, email, password string) (*Provider, error) {
	p, err := s.repo.GetProviderByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !s.verify(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return err
	}
	s.log.Info("patient registered", zap.String("patient_id", p.ID.String()))
	return nil
}

func (s *Service) AddProvider(ctx context.Context, p *Provider) error {
	if p.Fee < 0 {
		return fmt.Errorf("provider fee must not be negative")
	}
	if err := s.repo.CreateProvider(ctx, p); err != nil {
		return err
	}
	s.log.Info("provider added", zap.String("provider_id", p.ID.String()))
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatientByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	return s.repo.UpdatePatient(ctx, p)
}

func (s *Service) ListProviders(ctx context.Context) ([]Provider, error) {
	return s.repo.ListProviders(ctx)
}

func (s *Service) ReservedTimes(ctx context.Context, providerID uuid.UUID, date string) ([]string, error) {
	return s.slots.ReservedTimes(ctx, providerID, date)
}
