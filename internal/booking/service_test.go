package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medibook/appointment-booking/internal/availability"
)

// fakeRepo is an in-memory Repository with the same uniqueness and
// transition semantics as the postgres implementation.
type fakeRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	providers    map[uuid.UUID]*Provider
	appointments []*Appointment

	failCreateAppointment error // injected fault for compensation tests
	stallUntilDeadline    bool  // CreateAppointment blocks until the context expires
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:  make(map[uuid.UUID]*Patient),
		providers: make(map[uuid.UUID]*Provider),
	}
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetPatientByEmail(_ context.Context, email string) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (f *fakeRepo) CreatePatient(_ context.Context, p *Patient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.patients {
		if existing.Email == p.Email {
			return ErrEmailTaken
		}
	}
	cp := *p
	f.patients[p.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdatePatient(_ context.Context, p *Patient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.patients[p.ID]; !ok {
		return ErrPatientNotFound
	}
	cp := *p
	f.patients[p.ID] = &cp
	return nil
}

func (f *fakeRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetProviderByEmail(_ context.Context, email string) (*Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.providers {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProviderNotFound
}

func (f *fakeRepo) CreateProvider(_ context.Context, p *Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.providers[p.ID] = &cp
	return nil
}

func (f *fakeRepo) ListProviders(_ context.Context) ([]Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Provider
	for _, p := range f.providers {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointment(ctx context.Context, a *Appointment) error {
	if f.stallUntilDeadline {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateAppointment != nil {
		return f.failCreateAppointment
	}
	for _, existing := range f.appointments {
		if !existing.Cancelled &&
			existing.ProviderID == a.ProviderID &&
			existing.SlotDate == a.SlotDate &&
			existing.SlotTime == a.SlotTime {
			return ErrDuplicateSlot
		}
	}
	cp := *a
	f.appointments = append(f.appointments, &cp)
	return nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProviderID == providerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkCancelled(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.ID == id {
			if a.Completed {
				return ErrInvalidTransition
			}
			a.Cancelled = true
			return nil
		}
	}
	return ErrAppointmentNotFound
}

func (f *fakeRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.ID == id {
			if a.Cancelled {
				return ErrInvalidTransition
			}
			a.Completed = true
			return nil
		}
	}
	return ErrAppointmentNotFound
}

// Test fixtures

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	slots    availability.Store
	patient  *Patient
	patient2 *Patient
	provider *Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	slots := availability.NewMemoryStore()

	verify := func(hash, pw string) bool { return hash == "hash:"+pw }
	svc := NewService(repo, slots, verify, zap.NewNop())

	patient := &Patient{ID: uuid.New(), Name: "Asha Rao", Email: "asha@test.dev", PasswordHash: "hash:pw1"}
	patient2 := &Patient{ID: uuid.New(), Name: "Ben Okafor", Email: "ben@test.dev", PasswordHash: "hash:pw2"}
	provider := &Provider{ID: uuid.New(), Name: "Dr. Lee", Email: "lee@clinic.dev", Specialty: "Dermatology", Fee: 5000}

	require.NoError(t, repo.CreatePatient(context.Background(), patient))
	require.NoError(t, repo.CreatePatient(context.Background(), patient2))
	require.NoError(t, repo.CreateProvider(context.Background(), provider))

	return &fixture{svc: svc, repo: repo, slots: slots, patient: patient, patient2: patient2, provider: provider}
}

func (fx *fixture) patientIdentity() Identity {
	return Identity{ID: fx.patient.ID.String(), Role: RolePatient}
}

const (
	testDate = "10_01_2025"
	testTime = "10:00 AM"
)

func TestBookThenConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	assert.Equal(t, fx.provider.Fee, appt.Amount)
	assert.Equal(t, fx.patient.Name, appt.PatientSnapshot.Name)
	assert.Equal(t, fx.provider.Specialty, appt.ProviderSnapshot.Specialty)

	_, err = fx.svc.Book(ctx, fx.patient2.ID, fx.provider.ID, testDate, testTime)
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestBookUnknownProvider(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Book(context.Background(), fx.patient.ID, uuid.New(), testDate, testTime)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	fx := newFixture(t)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Book(context.Background(), fx.patient.ID, fx.provider.ID, testDate, testTime)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrSlotTaken)
		conflicts++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)
}

func TestBookCompensatesLedgerFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.repo.failCreateAppointment = ErrDuplicateSlot
	_, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	assert.ErrorIs(t, err, ErrSlotTaken)

	// the reservation made before the failed ledger write must be released
	taken, err := fx.slots.IsReserved(ctx, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	assert.False(t, taken, "slot must not stay reserved without a ledger entry")

	fx.repo.failCreateAppointment = nil
	_, err = fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	assert.NoError(t, err)
}

// deadlineStore mirrors the redis client, which fails every command once its
// context is done.
type deadlineStore struct {
	availability.Store
}

func (d deadlineStore) Reserve(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Store.Reserve(ctx, providerID, date, timeLabel)
}

func (d deadlineStore) Release(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Store.Release(ctx, providerID, date, timeLabel)
}

func TestBookCompensatesAfterRequestDeadline(t *testing.T) {
	repo := newFakeRepo()
	repo.stallUntilDeadline = true

	mem := availability.NewMemoryStore()
	verify := func(hash, pw string) bool { return hash == "hash:"+pw }
	svc := NewService(repo, deadlineStore{mem}, verify, zap.NewNop())

	patient := &Patient{ID: uuid.New(), Name: "Asha Rao", Email: "asha@test.dev", PasswordHash: "hash:pw1"}
	provider := &Provider{ID: uuid.New(), Name: "Dr. Lee", Email: "lee@clinic.dev", Specialty: "Dermatology", Fee: 5000}
	require.NoError(t, repo.CreatePatient(context.Background(), patient))
	require.NoError(t, repo.CreateProvider(context.Background(), provider))

	// the ledger write outlives the request deadline, so the booking fails
	// with the deadline error itself
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Book(ctx, patient.ID, provider.ID, testDate, testTime)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the compensating release must survive the expired request context
	taken, err := mem.IsReserved(context.Background(), provider.ID, testDate, testTime)
	require.NoError(t, err)
	assert.False(t, taken, "slot must not stay reserved after a failed ledger write")
}

func TestCancelReleasesSlot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Cancel(ctx, fx.patientIdentity(), appt.ID))

	// slot is free again, a different patient can book it
	appt2, err := fx.svc.Book(ctx, fx.patient2.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	assert.NotEqual(t, appt.ID, appt2.ID)
}

func TestCancelIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Cancel(ctx, fx.patientIdentity(), appt.ID))
	require.NoError(t, fx.svc.Cancel(ctx, fx.patientIdentity(), appt.ID))

	got, err := fx.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.False(t, got.Completed)
}

func TestCancelForbiddenForStranger(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)

	stranger := Identity{ID: fx.patient2.ID.String(), Role: RolePatient}
	err = fx.svc.Cancel(ctx, stranger, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// slot must still be held
	taken, err := fx.slots.IsReserved(ctx, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestCancelAllowedForOwningProviderAndAdmin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	owner := Identity{ID: fx.provider.ID.String(), Role: RoleProvider}
	assert.NoError(t, fx.svc.Cancel(ctx, owner, appt.ID))

	appt2, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, "11:00 AM")
	require.NoError(t, err)
	admin := Identity{ID: "admin@clinic.dev", Role: RoleAdmin}
	assert.NoError(t, fx.svc.Cancel(ctx, admin, appt2.ID))
}

func TestCompleteAfterCancelFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Cancel(ctx, fx.patientIdentity(), appt.ID))

	owner := Identity{ID: fx.provider.ID.String(), Role: RoleProvider}
	err = fx.svc.Complete(ctx, owner, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// never both flags
	got, err := fx.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, got.Cancelled && got.Completed)
}

func TestCompleteAuthorization(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)

	// the owning patient cannot complete
	err = fx.svc.Complete(ctx, fx.patientIdentity(), appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// another provider cannot complete
	err = fx.svc.Complete(ctx, Identity{ID: uuid.NewString(), Role: RoleProvider}, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	owner := Identity{ID: fx.provider.ID.String(), Role: RoleProvider}
	require.NoError(t, fx.svc.Complete(ctx, owner, appt.ID))

	// cancel after complete must fail and leave completed intact
	err = fx.svc.Cancel(ctx, fx.patientIdentity(), appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := fx.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.False(t, got.Cancelled)
}

func TestListForPatientKeepsCancelled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a1, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)
	_, err = fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, "11:00 AM")
	require.NoError(t, err)
	require.NoError(t, fx.svc.Cancel(ctx, fx.patientIdentity(), a1.ID))

	appts, err := fx.svc.ListForPatient(ctx, fx.patient.ID)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.True(t, appts[0].Cancelled)
	assert.False(t, appts[1].Cancelled)
}

func TestSnapshotStableAfterProfileChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	appt, err := fx.svc.Book(ctx, fx.patient.ID, fx.provider.ID, testDate, testTime)
	require.NoError(t, err)

	updated := *fx.patient
	updated.Name = "Asha Rao-Mehta"
	require.NoError(t, fx.svc.UpdatePatient(ctx, &updated))

	got, err := fx.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", got.PatientSnapshot.Name)
}

func TestAuthenticatePatient(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	p, err := fx.svc.AuthenticatePatient(ctx, "asha@test.dev", "pw1")
	require.NoError(t, err)
	assert.Equal(t, fx.patient.ID, p.ID)

	_, err = fx.svc.AuthenticatePatient(ctx, "asha@test.dev", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = fx.svc.AuthenticatePatient(ctx, "nobody@test.dev", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
