package dispatch_test

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

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/store/memory"
	"github.com/omerc321/washapp-sub002/pkg/gatewayclient"
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

type gatewayStub struct {
	mu           sync.Mutex
	chargeKeys   []string
	refundKeys   []string
	refundAmount int64
	chargeDelta  int64
	refundErr    error
}

func (g *gatewayStub) Charge(ctx context.Context, req gatewayclient.ChargeRequest) (gatewayclient.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeKeys = append(g.chargeKeys, req.IdempotencyKey)
	return gatewayclient.ChargeResult{Success: true, ChargeID: "ch_" + req.IdempotencyKey, Amount: req.Amount + g.chargeDelta, Currency: req.Currency}, nil
}

func (g *gatewayStub) Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refundKeys = append(g.refundKeys, idempotencyKey)
	g.refundAmount += amount
	return nil
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

type limiterStub struct {
	count int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 42, nil
}

var serviceArea = []domain.Point{{Lat: 25.0, Lng: 55.1}, {Lat: 25.0, Lng: 55.5}, {Lat: 25.4, Lng: 55.5}, {Lat: 25.4, Lng: 55.1}}

type fixture struct {
	engine    *dispatch.Engine
	ledger    *ledger.Engine
	store     *memory.Store
	clock     *clock
	gateway   *gatewayStub
	publisher *publisherStub
	company   domain.Company
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:     memory.New(),
		clock:     &clock{now: time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)},
		gateway:   &gatewayStub{},
		publisher: &publisherStub{},
	}
	f.company = f.newCompany(t)
	f.ledger = ledger.NewEngine(f.store, ledger.DefaultRates(), "AED", logger).WithClock(f.clock.Now)
	f.engine = dispatch.NewEngine(f.store, f.ledger, f.gateway, f.publisher, nil, logger, dispatch.Config{RefundAfter: 15 * time.Minute}).WithClock(f.clock.Now)
	return f
}

func (f *fixture) newCompany(t *testing.T) domain.Company {
	t.Helper()
	ctx := context.Background()
	c := domain.Company{ID: uuid.New(), Name: "Sparkle", PackageType: domain.PackagePayPerWash}
	require.NoError(t, f.store.CreateCompany(ctx, &c))
	require.NoError(t, f.store.UpsertGeofence(ctx, &domain.CompanyGeofence{ID: uuid.New(), CompanyID: c.ID, Name: "Marina", Polygon: serviceArea}))
	return c
}

func (f *fixture) onDutyCleaner(t *testing.T, companyID uuid.UUID) uuid.UUID {
	t.Helper()
	c := domain.Cleaner{ID: uuid.New(), CompanyID: companyID, Name: "Cleaner", Status: domain.CleanerOnDuty}
	require.NoError(t, f.store.CreateCleaner(context.Background(), &c))
	return c.ID
}

func (f *fixture) cleanerStatus(t *testing.T, id uuid.UUID) domain.CleanerStatus {
	t.Helper()
	c, err := f.store.GetCleaner(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) booking() dispatch.Booking {
	return dispatch.Booking{
		JobID:      uuid.New(),
		CompanyID:  f.company.ID,
		Customer:   domain.Customer{Name: "Omar", Phone: "+971500000000"},
		Car:        domain.Car{Make: "Toyota", Model: "Camry", Plate: "A 12345"},
		Location:   domain.Point{Lat: 25.2, Lng: 55.3},
		BaseAmount: 10000,
	}
}

func (f *fixture) paidJob(t *testing.T) *domain.Job {
	t.Helper()
	job, _, err := f.engine.Checkout(context.Background(), f.booking(), "tok_visa")
	require.NoError(t, err)
	return job
}

func TestCheckout_CreatesPaidJobWithFinancial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking()

	job, fin, err := f.engine.Checkout(ctx, booking, "tok_visa")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPaid, job.Status)
	assert.Equal(t, booking.JobID, job.ID)
	assert.Nil(t, job.CleanerID)
	assert.Equal(t, int64(11235), fin.GrossAmount)
	assert.Equal(t, int64(9300), fin.NetPayable)
	assert.Equal(t, []string{booking.JobID.String()}, f.gateway.chargeKeys)

	stored, err := f.store.GetJobFinancial(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, fin.GrossAmount, stored.GrossAmount)

	balance, err := f.ledger.Balance(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Zero(t, balance, "payment is posted on completion, not capture")
}

func TestCapturePayment_MismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking()

	_, _, err := f.engine.CapturePayment(ctx, dispatch.CaptureRequest{Booking: booking, ChargeID: "ch_x", ChargedAmount: 11234})
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)

	_, err = f.store.GetJob(ctx, booking.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = f.store.GetJobFinancial(ctx, booking.JobID)
	assert.ErrorIs(t, err, domain.ErrFinancialNotFound)
}

func TestCheckout_MismatchReversesCharge(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeDelta = -1
	booking := f.booking()

	_, _, err := f.engine.Checkout(context.Background(), booking, "tok_visa")
	assert.ErrorIs(t, err, domain.ErrPaymentMismatch)
	assert.Equal(t, []string{booking.JobID.String()}, f.gateway.refundKeys)
	assert.Equal(t, int64(11234), f.gateway.refundAmount)
}

func TestCapturePayment_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := dispatch.CaptureRequest{Booking: f.booking(), ChargeID: "ch_1", ChargedAmount: 11235}

	first, _, err := f.engine.CapturePayment(ctx, req)
	require.NoError(t, err)
	second, _, err := f.engine.CapturePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	req.ChargeID = "ch_other"
	_, _, err = f.engine.CapturePayment(ctx, req)
	assert.ErrorIs(t, err, domain.ErrFinancialExists)
}

func TestCapturePayment_ReplaySkipsRepricing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	booking := f.booking()
	req := dispatch.CaptureRequest{Booking: booking, ChargeID: "ch_1", ChargedAmount: 11235}

	_, _, err := f.engine.CapturePayment(ctx, req)
	require.NoError(t, err)

	fences, err := f.store.ListCompanyGeofences(ctx, f.company.ID)
	require.NoError(t, err)
	for _, fence := range fences {
		require.NoError(t, f.store.DeleteGeofence(ctx, f.company.ID, fence.ID))
	}

	job, fin, err := f.engine.CapturePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaid, job.Status)
	assert.Equal(t, int64(11235), fin.GrossAmount)

	job, fin, err = f.engine.Checkout(ctx, booking, "tok_visa")
	require.NoError(t, err)
	assert.Equal(t, booking.JobID, job.ID)
	assert.Equal(t, int64(11235), fin.GrossAmount)
	assert.Empty(t, f.gateway.chargeKeys)
	assert.Empty(t, f.gateway.refundKeys)
}

func TestCheckout_OutsideServiceArea(t *testing.T) {
	f := newFixture(t)
	booking := f.booking()
	booking.Location = domain.Point{Lat: 50, Lng: 50}

	_, _, err := f.engine.Checkout(context.Background(), booking, "tok")
	assert.ErrorIs(t, err, domain.ErrOutsideServiceArea)
	assert.Empty(t, f.gateway.chargeKeys)
}

func TestQuote_CompanyWithoutGeofencesIsIneligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bare := domain.Company{ID: uuid.New(), Name: "Bare", PackageType: domain.PackagePayPerWash}
	require.NoError(t, f.store.CreateCompany(ctx, &bare))

	_, err := f.engine.Quote(ctx, bare.ID, domain.Point{Lat: 25.2, Lng: 55.3}, 10000, 0)
	assert.ErrorIs(t, err, domain.ErrOutsideServiceArea)
}

func TestAccept_ConcurrentAttemptsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)

	const attempts = 8
	cleaners := make([]uuid.UUID, attempts)
	for i := range cleaners {
		cleaners[i] = f.onDutyCleaner(t, f.company.ID)
	}

	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range cleaners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Accept(ctx, job.ID, cleaners[i])
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	var winner uuid.UUID
	for i, err := range errs {
		if err == nil {
			winners++
			winner = cleaners[i]
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)
	}
	require.Equal(t, 1, winners)

	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAssigned, stored.Status)
	require.NotNil(t, stored.CleanerID)
	assert.Equal(t, winner, *stored.CleanerID)

	for _, id := range cleaners {
		if id == winner {
			assert.Equal(t, domain.CleanerBusy, f.cleanerStatus(t, id))
		} else {
			assert.Equal(t, domain.CleanerOnDuty, f.cleanerStatus(t, id))
		}
	}

	fin, err := f.store.GetJobFinancial(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, fin.CleanerID)
	assert.Equal(t, winner, *fin.CleanerID)
}

func TestLifecycle_CompletePostsPaymentAndFreesCleaner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)
	cleaner := f.onDutyCleaner(t, f.company.ID)
	other := f.onDutyCleaner(t, f.company.ID)

	_, err := f.engine.Complete(ctx, job.ID, cleaner, "https://cdn/proof.jpg")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.engine.Accept(ctx, job.ID, cleaner)
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, job.ID, other)
	assert.ErrorIs(t, err, domain.ErrNotAssignedCleaner)
	_, err = f.engine.Complete(ctx, job.ID, cleaner, "https://cdn/proof.jpg")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "assigned jobs must be started first")

	started, err := f.engine.Start(ctx, job.ID, cleaner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, started.Status)

	_, err = f.engine.Complete(ctx, job.ID, cleaner, "   ")
	assert.ErrorIs(t, err, domain.ErrProofRequired)

	f.clock.Advance(40 * time.Minute)
	done, err := f.engine.Complete(ctx, job.ID, cleaner, "https://cdn/proof.jpg")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, "https://cdn/proof.jpg", *done.CompletionProof)
	assert.Equal(t, domain.CleanerOnDuty, f.cleanerStatus(t, cleaner))

	balance, err := f.ledger.Balance(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11235), balance)

	txs, err := f.ledger.History(ctx, f.company.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxCustomerPayment, txs[0].Type)
	assert.Equal(t, job.ID, *txs[0].JobID)

	_, err = f.engine.Complete(ctx, job.ID, cleaner, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, []string{domain.RoutingJobAssigned, domain.RoutingJobCompleted}, f.publisher.keys)

	rated, err := f.engine.Rate(ctx, job.ID, 5, "spotless")
	require.NoError(t, err)
	assert.Equal(t, 5, *rated.Rating)
	_, err = f.engine.Rate(ctx, job.ID, 4, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAccept_RequiresOnDutyCleanerInArea(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)

	offDuty := domain.Cleaner{ID: uuid.New(), CompanyID: f.company.ID, Status: domain.CleanerOffDuty}
	require.NoError(t, f.store.CreateCleaner(ctx, &offDuty))
	_, err := f.engine.Accept(ctx, job.ID, offDuty.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	rival := f.newCompany(t)
	_, err = f.engine.Accept(ctx, job.ID, f.onDutyCleaner(t, rival.ID))
	assert.ErrorIs(t, err, domain.ErrOutsideServiceArea)

	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaid, stored.Status)
}

func TestAvailableJobs_FiltersByAreaStatusAndWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cleaner := f.onDutyCleaner(t, f.company.ID)

	old := f.paidJob(t)
	f.clock.Advance(10 * time.Minute)
	fresh := f.paidJob(t)
	taken := f.paidJob(t)
	_, err := f.engine.Accept(ctx, taken.ID, f.onDutyCleaner(t, f.company.ID))
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	jobs, err := f.engine.AvailableJobs(ctx, cleaner)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, fresh.ID, jobs[0].ID)

	_, err = f.engine.Accept(ctx, old.ID, cleaner)
	assert.ErrorIs(t, err, domain.ErrJobExpired)

	rival := f.newCompany(t)
	jobs, err = f.engine.AvailableJobs(ctx, f.onDutyCleaner(t, rival.ID))
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSweepExpiredPayments_RefundsUnacceptedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)
	f.paidJob(t)

	f.clock.Advance(16 * time.Minute)
	later := f.paidJob(t)

	result, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Refunded)

	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRefunded, stored.Status)
	stillPaid, err := f.store.GetJob(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaid, stillPaid.Status)

	txs, err := f.ledger.History(ctx, f.company.ID, 100, 0)
	require.NoError(t, err)
	var payments, refunds int
	for _, tx := range txs {
		if *tx.JobID != job.ID {
			continue
		}
		switch tx.Type {
		case domain.TxCustomerPayment:
			payments++
			assert.Equal(t, int64(11235), tx.Amount)
		case domain.TxRefund:
			refunds++
			assert.Equal(t, int64(-11235), tx.Amount)
		}
	}
	assert.Equal(t, 1, payments)
	assert.Equal(t, 1, refunds)

	balance, err := f.ledger.Balance(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Contains(t, f.gateway.refundKeys, job.ID.String())
	assert.Contains(t, f.publisher.keys, domain.RoutingRefundIssued)

	again, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Evaluated)
}

func TestSweepExpiredPayments_GatewayFailureKeepsJobPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)
	f.clock.Advance(16 * time.Minute)

	f.gateway.refundErr = gatewayclient.ErrUnavailable
	result, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retrying)

	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaid, stored.Status)
	txs, err := f.ledger.History(ctx, f.company.ID, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	f.gateway.refundErr = nil
	result, err = f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Refunded)
}

func TestCancel_OnlyFromAssignedOrInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.paidJob(t)
	cleaner := f.onDutyCleaner(t, f.company.ID)

	_, err := f.engine.Cancel(ctx, job.ID, f.company.ID, "no staff")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.engine.Accept(ctx, job.ID, cleaner)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, job.ID, uuid.New(), "not mine")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	cancelled, err := f.engine.Cancel(ctx, job.ID, f.company.ID, "car not present")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.CleanerOnDuty, f.cleanerStatus(t, cleaner))

	txs, err := f.ledger.History(ctx, f.company.ID, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "cancellation never refunds automatically")
}

func TestAccept_PublishFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	job := f.paidJob(t)

	_, err := f.engine.Accept(ctx, job.ID, f.onDutyCleaner(t, f.company.ID))
	require.NoError(t, err)
	stored, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAssigned, stored.Status)
}

func TestAccept_RateLimited(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f := newFixture(t)
	limited := dispatch.NewEngine(f.store, f.ledger, f.gateway, f.publisher, &limiterStub{count: 2}, logger,
		dispatch.Config{RefundAfter: 15 * time.Minute, AcceptRateLimitPerMinute: 2}).WithClock(f.clock.Now)

	_, err := limited.Accept(ctx, uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *dispatch.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 42, rl.RetryAfterSeconds)
}
