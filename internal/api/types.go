package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/appointment-booking/internal/booking"
)

type RegisterPatientRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type BookAppointmentRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid4"`
	SlotDate   string `json:"slot_date" validate:"required"`
	SlotTime   string `json:"slot_time" validate:"required"`
}

type AppointmentIDRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid4"`
}

type AppointmentResponse struct {
	ID         uuid.UUID                `json:"id"`
	ProviderID uuid.UUID                `json:"provider_id"`
	SlotDate   string                   `json:"slot_date"`
	SlotTime   string                   `json:"slot_time"`
	Amount     int64                    `json:"amount"`
	Cancelled  bool                     `json:"cancelled"`
	Completed  bool                     `json:"completed"`
	Patient    booking.PatientSnapshot  `json:"patient"`
	Provider   booking.ProviderSnapshot `json:"provider"`
	CreatedAt  time.Time                `json:"created_at"`
}

func toAppointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		ProviderID: a.ProviderID,
		SlotDate:   a.SlotDate,
		SlotTime:   a.SlotTime,
		Amount:     a.Amount,
		Cancelled:  a.Cancelled,
		Completed:  a.Completed,
		Patient:    a.PatientSnapshot,
		Provider:   a.ProviderSnapshot,
		CreatedAt:  a.CreatedAt,
	}
}

type BookAppointmentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type PatientProfileResponse struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone,omitempty"`
	Address  booking.Address `json:"address,omitempty"`
	DOB      string          `json:"dob,omitempty"`
	Gender   string          `json:"gender,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

type ProviderSummary struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Specialty     string          `json:"specialty"`
	Degree        string          `json:"degree,omitempty"`
	Experience    string          `json:"experience,omitempty"`
	About         string          `json:"about,omitempty"`
	Fee           int64           `json:"fee"`
	Address       booking.Address `json:"address,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	ReservedTimes []string        `json:"reserved_times,omitempty"`
}
