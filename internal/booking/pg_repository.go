package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var address []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.PasswordHash,
		&p.Phone,
		&address,
		&p.DOB,
		&p.Gender,
		&p.ImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	if len(address) > 0 {
		if err := json.Unmarshal(address, &p.Address); err != nil {
			return nil, fmt.Errorf("decode patient address: %w", err)
		}
	}
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var address []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.PasswordHash,
		&p.Specialty,
		&p.Degree,
		&p.Experience,
		&p.About,
		&p.Fee,
		&address,
		&p.ImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	if len(address) > 0 {
		if err := json.Unmarshal(address, &p.Address); err != nil {
			return nil, fmt.Errorf("decode provider address: %w", err)
		}
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var patientSnap, providerSnap []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.SlotDate,
		&a.SlotTime,
		&patientSnap,
		&providerSnap,
		&a.Amount,
		&a.Cancelled,
		&a.Completed,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(patientSnap, &a.PatientSnapshot); err != nil {
		return nil, fmt.Errorf("decode patient snapshot: %w", err)
	}
	if err := json.Unmarshal(providerSnap, &a.ProviderSnapshot); err != nil {
		return nil, fmt.Errorf("decode provider snapshot: %w", err)
	}
	return &a, nil
}

const patientColumns = `id, name, email, password_hash, phone, address, dob, gender, image_url, created_at, updated_at`
const providerColumns = `id, name, email, password_hash, specialty, degree, experience, about, fee, address, image_url, created_at, updated_at`
const appointmentColumns = `id, patient_id, provider_id, slot_date, slot_time, patient_snapshot, provider_snapshot, amount, cancelled, completed, created_at, updated_at`

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE email = $1
	`, email)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	address, err := json.Marshal(p.Address)
	if err != nil {
		return fmt.Errorf("encode patient address: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, password_hash, phone, address, dob, gender, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, p.ID, p.Name, p.Email, p.PasswordHash, p.Phone, address, p.DOB, p.Gender, p.ImageURL)
	if err != nil {
		if isUniqueViolation(err, "patients_email_key") {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePatient(ctx context.Context, p *Patient) error {
	address, err := json.Marshal(p.Address)
	if err != nil {
		return fmt.Errorf("encode patient address: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET name = $2,
		    phone = $3,
		    address = $4,
		    dob = $5,
		    gender = $6,
		    image_url = $7,
		    updated_at = now()
		WHERE id = $1
	`, p.ID, p.Name, p.Phone, address, p.DOB, p.Gender, p.ImageURL)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// Providers

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetProviderByEmail(ctx context.Context, email string) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE email = $1
	`, email)
	return scanProvider(row)
}

func (r *PgRepository) CreateProvider(ctx context.Context, p *Provider) error {
	address, err := json.Marshal(p.Address)
	if err != nil {
		return fmt.Errorf("encode provider address: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, email, password_hash, specialty, degree, experience, about, fee, address, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	`, p.ID, p.Name, p.Email, p.PasswordHash, p.Specialty, p.Degree, p.Experience, p.About, p.Fee, address, p.ImageURL)
	if err != nil {
		if isUniqueViolation(err, "providers_email_key") {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// Ledger

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	patientSnap, err := json.Marshal(a.PatientSnapshot)
	if err != nil {
		return fmt.Errorf("encode patient snapshot: %w", err)
	}
	providerSnap, err := json.Marshal(a.ProviderSnapshot)
	if err != nil {
		return fmt.Errorf("encode provider snapshot: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, slot_date, slot_time, patient_snapshot, provider_snapshot, amount, cancelled, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.ProviderID, a.SlotDate, a.SlotTime, patientSnap, providerSnap, a.Amount)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err, "appointments_slot_unique") {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `patient_id`, patientID)
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(ctx, `provider_id`, providerID)
}

func (r *PgRepository) listAppointments(ctx context.Context, column string, id uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY created_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// MarkCancelled is idempotent: cancelling an already cancelled appointment
// matches the WHERE clause and rewrites the same value. A completed
// appointment cannot be cancelled.
func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET cancelled = TRUE,
		    updated_at = now()
		WHERE id = $1
		  AND NOT completed
	`, id)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionFailure(ctx, id)
	}
	return nil
}

// MarkCompleted refuses cancelled appointments.
func (r *PgRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET completed = TRUE,
		    updated_at = now()
		WHERE id = $1
		  AND NOT cancelled
	`, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionFailure(ctx, id)
	}
	return nil
}

// transitionFailure distinguishes a missing row from one in a terminal state.
func (r *PgRepository) transitionFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check appointment: %w", err)
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrInvalidTransition
}
