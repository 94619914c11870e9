package complaint_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omerc321/washapp-sub002/internal/complaint"
	"github.com/omerc321/washapp-sub002/internal/domain"
	"github.com/omerc321/washapp-sub002/internal/ledger"
	"github.com/omerc321/washapp-sub002/internal/store/memory"
	"github.com/omerc321/washapp-sub002/pkg/gatewayclient"
)

type gatewayStub struct {
	calls int
	keys  []string
	err   error
}

func (g *gatewayStub) Refund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) error {
	g.calls++
	if g.err != nil {
		return g.err
	}
	g.keys = append(g.keys, idempotencyKey)
	return nil
}

type publisherStub struct {
	keys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

type fixture struct {
	resolver  *complaint.Resolver
	ledger    *ledger.Engine
	store     *memory.Store
	gateway   *gatewayStub
	publisher *publisherStub
	companyID uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:     memory.New(),
		gateway:   &gatewayStub{},
		publisher: &publisherStub{},
		companyID: uuid.New(),
		now:       time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	require.NoError(t, f.store.CreateCompany(context.Background(), &domain.Company{ID: f.companyID, Name: "Sparkle", PackageType: domain.PackagePayPerWash}))
	f.ledger = ledger.NewEngine(f.store, ledger.DefaultRates(), "AED", logger).WithClock(clock)
	f.resolver = complaint.NewResolver(f.store, f.ledger, f.gateway, f.publisher, logger).WithClock(clock)
	return f
}

// paidJob stores a paid job for a 100.00 AED wash and returns it.
func (f *fixture) paidJob(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()
	companyID := f.companyID
	paidAt := f.now
	job := &domain.Job{
		ID:         uuid.New(),
		Customer:   domain.Customer{Name: "Omar", Phone: "+971500000000"},
		Location:   domain.Point{Lat: 25.2, Lng: 55.3},
		CompanyID:  &companyID,
		BaseAmount: 10000,
		Currency:   "AED",
		Status:     domain.JobStatusPaid,
		ChargeID:   "ch_" + uuid.NewString(),
		CreatedAt:  paidAt,
		PaidAt:     &paidAt,
	}
	b, _, err := f.ledger.Quote(ctx, companyID, 10000, 0)
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePaidJob(ctx, job, f.ledger.NewFinancial(job, companyID, b, paidAt)))
	return job
}

func (f *fixture) assignedJob(t *testing.T) (*domain.Job, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	job := f.paidJob(t)
	cleaner := domain.Cleaner{ID: uuid.New(), CompanyID: f.companyID, Status: domain.CleanerOnDuty}
	require.NoError(t, f.store.CreateCleaner(ctx, &cleaner))
	_, err := f.store.AcceptJob(ctx, job.ID, cleaner.ID, f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	return job, cleaner.ID
}

func (f *fixture) completedJob(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()
	job, cleanerID := f.assignedJob(t)
	_, err := f.store.StartJob(ctx, job.ID, cleanerID, f.now)
	require.NoError(t, err)
	fin, err := f.store.GetJobFinancial(ctx, job.ID)
	require.NoError(t, err)
	done, err := f.store.CompleteJob(ctx, job.ID, cleanerID, "proof.jpg", f.now, f.ledger.PreparePayment(job, fin))
	require.NoError(t, err)
	return done
}

func TestCreate_RequiresTerminalJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	open := f.paidJob(t)
	_, err := f.resolver.Create(ctx, open.ID, domain.ComplaintRefundRequest, domain.Customer{Name: "Omar"}, "dirty")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.resolver.Create(ctx, uuid.New(), domain.ComplaintGeneral, domain.Customer{}, "")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	done := f.completedJob(t)
	c, err := f.resolver.Create(ctx, done.ID, domain.ComplaintRefundRequest, domain.Customer{Name: "Omar"}, "  still dirty  ")
	require.NoError(t, err)
	assert.Equal(t, domain.ComplaintPending, c.Status)
	assert.Equal(t, f.companyID, c.CompanyID)
	assert.Equal(t, "still dirty", c.Description)
	assert.Regexp(t, `^CMP-20261016-[0-9A-F]{16}$`, c.ReferenceNumber)
}

func TestProcessRefund_ReversesCompletedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.completedJob(t)

	balance, err := f.ledger.Balance(ctx, f.companyID)
	require.NoError(t, err)
	require.Equal(t, int64(11235), balance)

	c, err := f.resolver.Create(ctx, job.ID, domain.ComplaintRefundRequest, domain.Customer{Name: "Omar"}, "missed the wheels")
	require.NoError(t, err)
	_, err = f.resolver.Start(ctx, c.ID, f.companyID)
	require.NoError(t, err)

	refunded, err := f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	require.NoError(t, err)
	assert.Equal(t, domain.ComplaintRefunded, refunded.Status)
	require.NotNil(t, refunded.ResolvedAt)

	balance, err = f.ledger.Balance(ctx, f.companyID)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, []string{job.ID.String()}, f.gateway.keys)
	assert.Equal(t, []string{domain.RoutingRefundIssued}, f.publisher.keys)

	_, err = f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestProcessRefund_SecondComplaintForSameJobRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.completedJob(t)

	first, err := f.resolver.Create(ctx, job.ID, domain.ComplaintRefundRequest, domain.Customer{}, "a")
	require.NoError(t, err)
	second, err := f.resolver.Create(ctx, job.ID, domain.ComplaintRefundRequest, domain.Customer{}, "b")
	require.NoError(t, err)

	_, err = f.resolver.ProcessRefund(ctx, first.ID, f.companyID)
	require.NoError(t, err)
	_, err = f.resolver.ProcessRefund(ctx, second.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	balance, err := f.ledger.Balance(ctx, f.companyID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestProcessRefund_CancelledJobNetsToZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job, _ := f.assignedJob(t)
	_, err := f.store.CancelJob(ctx, job.ID, f.companyID, "car not present", f.now)
	require.NoError(t, err)

	c, err := f.resolver.Create(ctx, job.ID, domain.ComplaintRefundRequest, domain.Customer{}, "cancelled on me")
	require.NoError(t, err)
	_, err = f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	require.NoError(t, err)

	txs, err := f.ledger.History(ctx, f.companyID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	balance, err := f.ledger.Balance(ctx, f.companyID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestProcessRefund_GatewayFailureLeavesComplaintOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.completedJob(t)
	c, err := f.resolver.Create(ctx, job.ID, domain.ComplaintRefundRequest, domain.Customer{}, "x")
	require.NoError(t, err)

	f.gateway.err = gatewayclient.ErrUnavailable
	_, err = f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	f.gateway.err = gatewayclient.ErrDeclined
	_, err = f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrGatewayDeclined)

	stored, err := f.store.GetComplaint(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ComplaintPending, stored.Status)
	balance, err := f.ledger.Balance(ctx, f.companyID)
	require.NoError(t, err)
	assert.Equal(t, int64(11235), balance)
}

func TestProcessRefund_RejectsGeneralAndForeignComplaints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.completedJob(t)
	c, err := f.resolver.Create(ctx, job.ID, domain.ComplaintGeneral, domain.Customer{}, "rude")
	require.NoError(t, err)

	_, err = f.resolver.ProcessRefund(ctx, c.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
	_, err = f.resolver.ProcessRefund(ctx, c.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrComplaintNotFound)
	assert.Zero(t, f.gateway.calls)
}

func TestResolve_RequiresTextAndOpenComplaint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.completedJob(t)
	c, err := f.resolver.Create(ctx, job.ID, domain.ComplaintGeneral, domain.Customer{}, "late")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, c.ID, f.companyID, "   ")
	assert.ErrorIs(t, err, domain.ErrResolutionRequired)

	resolved, err := f.resolver.Resolve(ctx, c.ID, f.companyID, "apologised, voucher sent")
	require.NoError(t, err)
	assert.Equal(t, domain.ComplaintResolved, resolved.Status)
	assert.Equal(t, "apologised, voucher sent", *resolved.Resolution)

	_, err = f.resolver.Start(ctx, c.ID, f.companyID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	status := domain.ComplaintResolved
	list, err := f.resolver.List(ctx, f.companyID, &status)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
