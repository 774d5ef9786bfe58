package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/appointment-booking/internal/auth"
	"github.com/medibook/appointment-booking/internal/booking"
	"github.com/medibook/appointment-booking/internal/storage"
	"github.com/medibook/appointment-booking/internal/token"
)

const maxUploadSize = 10 << 20

type Handlers struct {
	svc          *booking.Service
	tokens       *token.Service
	uploads      storage.Uploader // nil disables image uploads
	validate     *validator.Validate
	log          *zap.Logger
	adminEmail   string
	adminPass    string
	patientTTL   time.Duration
	staffTTL     time.Duration
	storeTimeout time.Duration
}

type HandlersConfig struct {
	Service         *booking.Service
	Tokens          *token.Service
	Uploads         storage.Uploader
	Log             *zap.Logger
	AdminEmail      string
	AdminPassword   string
	PatientTokenTTL time.Duration
	StaffTokenTTL   time.Duration
	StoreTimeout    time.Duration
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		svc:          cfg.Service,
		tokens:       cfg.Tokens,
		uploads:      cfg.Uploads,
		validate:     validator.New(),
		log:          cfg.Log,
		adminEmail:   cfg.AdminEmail,
		adminPass:    cfg.AdminPassword,
		patientTTL:   cfg.PatientTokenTTL,
		staffTTL:     cfg.StaffTokenTTL,
		storeTimeout: cfg.StoreTimeout,
	}
}

// storeCtx bounds every store call so the orchestrator can treat a slow
// dependency as a failure instead of blocking the request forever.
func (h *Handlers) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.storeTimeout)
}

func (h *Handlers) decodeAndValidate(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}
	return h.validate.Struct(v)
}

// Auth endpoints

func (h *Handlers) registerPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process credentials")
		return
	}

	patient := &booking.Patient{
		ID:           uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.svc.RegisterPatient(ctx, patient); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.issueToken(w, patient.ID.String(), booking.RolePatient, h.patientTTL)
}

func (h *Handlers) loginPatient(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	patient, err := h.svc.AuthenticatePatient(ctx, req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.issueToken(w, patient.ID.String(), booking.RolePatient, h.patientTTL)
}

func (h *Handlers) loginProvider(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	provider, err := h.svc.AuthenticateProvider(ctx, req.Email, req.Password)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.issueToken(w, provider.ID.String(), booking.RoleProvider, h.staffTTL)
}

// loginAdmin compares against the single configured principal; there is no
// stored admin record.
func (h *Handlers) loginAdmin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(h.adminEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.adminPass)) == 1
	if !emailOK || !passOK {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	h.issueToken(w, h.adminEmail, booking.RoleAdmin, h.staffTTL)
}

func (h *Handlers) issueToken(w http.ResponseWriter, subject string, role booking.Role, ttl time.Duration) {
	raw, err := h.tokens.Issue(subject, role, ttl)
	if err != nil {
		h.log.Error("token issuance failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: raw})
}

// Booking endpoints

func (h *Handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
		return
	}

	var req BookAppointmentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	patientID, err := uuid.Parse(ident.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_token_invalid", "subject is not a patient id")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	appt, err := h.svc.Book(ctx, patientID, providerID, req.SlotDate, req.SlotTime)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, BookAppointmentResponse{AppointmentID: appt.ID})
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
		return
	}

	var req AppointmentIDRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.svc.Cancel(ctx, ident, appointmentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "appointment cancelled"})
}

func (h *Handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
		return
	}

	var req AppointmentIDRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.svc.Complete(ctx, ident, appointmentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "appointment completed"})
}

func (h *Handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, booking.RolePatient)
}

func (h *Handlers) listProviderAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, booking.RoleProvider)
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request, role booking.Role) {
	ident, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_token_missing", "login required")
		return
	}
	subjectID, err := uuid.Parse(ident.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_token_invalid", "subject is not a record id")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	var appts []booking.Appointment
	if role == booking.RoleProvider {
		appts, err = h.svc.ListForProvider(ctx, subjectID)
	} else {
		appts, err = h.svc.ListForPatient(ctx, subjectID)
	}
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// Profile endpoints

func (h *Handlers) getPatientProfile(w http.ResponseWriter, r *http.Request) {
	ident, _ := IdentityFrom(r.Context())
	patientID, err := uuid.Parse(ident.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_token_invalid", "subject is not a patient id")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	p, err := h.svc.GetPatient(ctx, patientID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PatientProfileResponse{
		ID:       p.ID,
		Name:     p.Name,
		Email:    p.Email,
		Phone:    p.Phone,
		Address:  p.Address,
		DOB:      p.DOB,
		Gender:   p.Gender,
		ImageURL: p.ImageURL,
	})
}

func (h *Handlers) updatePatientProfile(w http.ResponseWriter, r *http.Request) {
	ident, _ := IdentityFrom(r.Context())
	patientID, err := uuid.Parse(ident.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_token_invalid", "subject is not a patient id")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse multipart form")
		return
	}

	name := r.FormValue("name")
	phone := r.FormValue("phone")
	dob := r.FormValue("dob")
	gender := r.FormValue("gender")
	if name == "" || phone == "" || dob == "" || gender == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "name, phone, dob and gender are required")
		return
	}

	var address booking.Address
	if raw := r.FormValue("address"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &address); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "address must be a JSON object")
			return
		}
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	p, err := h.svc.GetPatient(ctx, patientID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	p.Name = name
	p.Phone = phone
	p.DOB = dob
	p.Gender = gender
	p.Address = address

	if url, uploaded, err := h.uploadImage(ctx, r, "patients/"+patientID.String()); err != nil {
		h.handleServiceError(w, err)
		return
	} else if uploaded {
		p.ImageURL = url
	}

	if err := h.svc.UpdatePatient(ctx, p); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "profile updated"})
}

// Provider directory and administration

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	providers, err := h.svc.ListProviders(ctx)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	date := r.URL.Query().Get("date")

	out := make([]ProviderSummary, 0, len(providers))
	for _, p := range providers {
		summary := ProviderSummary{
			ID:         p.ID,
			Name:       p.Name,
			Specialty:  p.Specialty,
			Degree:     p.Degree,
			Experience: p.Experience,
			About:      p.About,
			Fee:        p.Fee,
			Address:    p.Address,
			ImageURL:   p.ImageURL,
		}
		if date != "" {
			times, err := h.svc.ReservedTimes(ctx, p.ID, date)
			if err != nil {
				h.handleServiceError(w, err)
				return
			}
			summary.ReservedTimes = times
		}
		out = append(out, summary)
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) addProvider(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse multipart form")
		return
	}

	name := r.FormValue("name")
	email := r.FormValue("email")
	password := r.FormValue("password")
	specialty := r.FormValue("specialty")
	feeRaw := r.FormValue("fee")
	if name == "" || email == "" || password == "" || specialty == "" || feeRaw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "name, email, password, specialty and fee are required")
		return
	}
	if len(password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "password must be at least 8 characters long")
		return
	}

	fee, err := strconv.ParseInt(feeRaw, 10, 64)
	if err != nil || fee < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "fee must be a non-negative integer")
		return
	}

	var address booking.Address
	if raw := r.FormValue("address"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &address); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "address must be a JSON object")
			return
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process credentials")
		return
	}

	provider := &booking.Provider{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Specialty:    specialty,
		Degree:       r.FormValue("degree"),
		Experience:   r.FormValue("experience"),
		About:        r.FormValue("about"),
		Fee:          fee,
		Address:      address,
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if url, uploaded, err := h.uploadImage(ctx, r, "providers/"+provider.ID.String()); err != nil {
		h.handleServiceError(w, err)
		return
	} else if uploaded {
		provider.ImageURL = url
	}

	if err := h.svc.AddProvider(ctx, provider); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "provider added"})
}

var errUploadsDisabled = errors.New("image uploads are not configured")

// uploadImage stores the optional "image" form file and reports whether one
// was present.
func (h *Handlers) uploadImage(ctx context.Context, r *http.Request, prefix string) (string, bool, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()

	if h.uploads == nil {
		return "", false, errUploadsDisabled
	}

	name := prefix + path.Ext(header.Filename)
	url, err := h.uploads.Upload(ctx, file, header.Size, header.Header.Get("Content-Type"), name)
	if err != nil {
		return "", false, fmt.Errorf("upload image: %w", err)
	}
	return url, true, nil
}

// Error mapping

func (h *Handlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "slot already booked")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound),
		errors.Is(err, booking.ErrProviderNotFound),
		errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email_taken", err.Error())
	case errors.Is(err, errUploadsDisabled):
		writeError(w, http.StatusServiceUnavailable, "uploads_disabled", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "store_timeout", "a backing store did not respond in time")
	default:
		h.log.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "the request could not be processed")
	}
}
