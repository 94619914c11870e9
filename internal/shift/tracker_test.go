package shift_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/shift"
	"github.com/omerc321/washapp-sub002/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type publisherStub struct {
	mu     sync.Mutex
	keys   []string
	failed bool
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	if p.failed {
		return errors.New("broker down")
	}
	return nil
}

type fixture struct {
	tracker   *shift.Tracker
	store     *memory.Store
	clock     *clock
	publisher *publisherStub
	company   domain.Company
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:     memory.New(),
		clock:     &clock{now: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)},
		publisher: &publisherStub{},
		company:   domain.Company{ID: uuid.New(), Name: "Sparkle", PackageType: domain.PackagePayPerWash},
	}
	require.NoError(t, f.store.CreateCompany(context.Background(), &f.company))
	f.tracker = shift.NewTracker(f.store, f.publisher, logger, 10*time.Minute).WithClock(f.clock.Now)
	return f
}

func (f *fixture) cleaner(t *testing.T, status domain.CleanerStatus) uuid.UUID {
	t.Helper()
	c := domain.Cleaner{ID: uuid.New(), CompanyID: f.company.ID, Name: "Ali", Status: status}
	require.NoError(t, f.store.CreateCleaner(context.Background(), &c))
	return c.ID
}

func (f *fixture) status(t *testing.T, cleanerID uuid.UUID) domain.CleanerStatus {
	t.Helper()
	c, err := f.store.GetCleaner(context.Background(), cleanerID)
	require.NoError(t, err)
	return c.Status
}

func TestGoOnDuty_RejectsSecondOpenShift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)

	s, err := f.tracker.GoOnDuty(ctx, id, &domain.Point{Lat: 25.2, Lng: 55.3})
	require.NoError(t, err)
	assert.True(t, s.IsOpen())
	assert.Equal(t, domain.CleanerOnDuty, f.status(t, id))

	_, err = f.tracker.GoOnDuty(ctx, id, nil)
	assert.ErrorIs(t, err, domain.ErrShiftAlreadyOpen)

	shifts, err := f.tracker.History(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, shifts, 1)
}

func TestHeartbeat_UpdatesLocationOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)
	_, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.tracker.Heartbeat(ctx, id, domain.Point{Lat: 1, Lng: 2}))

	c, err := f.store.GetCleaner(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c.LastLocationUpdate)
	assert.Equal(t, f.clock.Now(), *c.LastLocationUpdate)
	assert.Equal(t, domain.Point{Lat: 1, Lng: 2}, *c.LastLocation)

	open, err := f.tracker.CurrentShift(ctx, id)
	require.NoError(t, err)
	assert.True(t, open.IsOpen())
}

func TestGoOffDuty_ClosesShiftWithDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)
	opened, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)

	f.clock.Advance(95 * time.Minute)
	end := &domain.Point{Lat: 25.1, Lng: 55.2}
	closed, err := f.tracker.GoOffDuty(ctx, id, end)
	require.NoError(t, err)

	assert.Equal(t, opened.ID, closed.ID)
	require.NotNil(t, closed.ShiftEnd)
	assert.Equal(t, 95, *closed.DurationMinutes)
	assert.Equal(t, *end, *closed.EndLocation)
	assert.Equal(t, domain.CleanerOffDuty, f.status(t, id))

	_, err = f.tracker.CurrentShift(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNoOpenShift)
	_, err = f.tracker.GoOffDuty(ctx, id, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGoOffDuty_BusyCleanerRejected(t *testing.T) {
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerBusy)

	_, err := f.tracker.GoOffDuty(context.Background(), id, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.CleanerBusy, f.status(t, id))
}

func TestGoOffDuty_RejectedCloseKeepsLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerBusy)

	_, err := f.tracker.GoOffDuty(ctx, id, &domain.Point{Lat: 25.1, Lng: 55.2})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	c, err := f.store.GetCleaner(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, c.LastLocation)
	assert.Nil(t, c.LastLocationUpdate)
}

func TestGoOffDuty_StoresFinalLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)
	_, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	end := domain.Point{Lat: 25.1, Lng: 55.2}
	_, err = f.tracker.GoOffDuty(ctx, id, &end)
	require.NoError(t, err)

	c, err := f.store.GetCleaner(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c.LastLocation)
	assert.Equal(t, end, *c.LastLocation)
	require.NotNil(t, c.LastLocationUpdate)
	assert.Equal(t, f.clock.Now(), *c.LastLocationUpdate)
}

func TestSweepStale_ClosesSilentShift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stale := f.cleaner(t, domain.CleanerOffDuty)
	fresh := f.cleaner(t, domain.CleanerOffDuty)

	opened, err := f.tracker.GoOnDuty(ctx, stale, &domain.Point{Lat: 1, Lng: 1})
	require.NoError(t, err)
	_, err = f.tracker.GoOnDuty(ctx, fresh, &domain.Point{Lat: 2, Lng: 2})
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	require.NoError(t, f.tracker.Heartbeat(ctx, fresh, domain.Point{Lat: 2, Lng: 3}))
	f.clock.Advance(5 * time.Minute)

	result, err := f.tracker.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Closed)

	assert.Equal(t, domain.CleanerOffDuty, f.status(t, stale))
	assert.Equal(t, domain.CleanerOnDuty, f.status(t, fresh))

	shifts, err := f.tracker.History(ctx, stale, 0)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	require.NotNil(t, shifts[0].ShiftEnd)
	assert.Equal(t, opened.ID, shifts[0].ID)
	assert.Equal(t, 11, *shifts[0].DurationMinutes)
	assert.Equal(t, f.clock.Now(), *shifts[0].ShiftEnd)

	again, err := f.tracker.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Evaluated)
}

func TestSweepStale_NullHeartbeatIsStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)
	_, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)

	result, err := f.tracker.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, domain.CleanerOffDuty, f.status(t, id))
}

func TestSweepStale_RepairsStatusWithoutFabricatingShift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOnDuty)

	result, err := f.tracker.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)
	assert.Equal(t, domain.CleanerOffDuty, f.status(t, id))

	shifts, err := f.tracker.History(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestSweepStale_IgnoresBusyCleaners(t *testing.T) {
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerBusy)

	result, err := f.tracker.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Evaluated)
	assert.Equal(t, domain.CleanerBusy, f.status(t, id))
}

func TestSweepStale_PublishFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.failed = true
	id := f.cleaner(t, domain.CleanerOffDuty)
	_, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)

	result, err := f.tracker.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, domain.CleanerOffDuty, f.status(t, id))
	assert.Equal(t, []string{domain.RoutingShiftExpired}, f.publisher.keys)
}

func TestSweepRacingManualOffDuty_ClosesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.cleaner(t, domain.CleanerOffDuty)
	_, err := f.tracker.GoOnDuty(ctx, id, nil)
	require.NoError(t, err)
	f.clock.Advance(12 * time.Minute)

	var wg sync.WaitGroup
	var manualErr error
	var result shift.SweepResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, manualErr = f.tracker.GoOffDuty(ctx, id, nil)
	}()
	go func() {
		defer wg.Done()
		result, _ = f.tracker.SweepStale(ctx)
	}()
	wg.Wait()

	closedBySweep := result.Closed == 1
	closedManually := manualErr == nil
	assert.True(t, closedBySweep != closedManually, "exactly one close expected (sweep=%v manual=%v)", closedBySweep, closedManually)

	shifts, err := f.tracker.History(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.NotNil(t, shifts[0].ShiftEnd)
	assert.Equal(t, domain.CleanerOffDuty, f.status(t, id))
}
