package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	gpumem "github.com/gpumesh/marketplace/service/dao/gpu/memory"
	paymentmem "github.com/gpumesh/marketplace/service/dao/payment/memory"
	taskmem "github.com/gpumesh/marketplace/service/dao/task/memory"
	"github.com/gpumesh/marketplace/service/registry"
)

type fixture struct {
	service    *Service
	taskDAO    *taskmem.Service
	paymentDAO *paymentmem.Service
	registry   *registry.Service
	gpu        *model.GPU
	task       *model.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.New(registry.WithGPUDAO(gpumem.New()))
	require.NoError(t, err)
	gpu, err := reg.Register(ctx, "owner-1", registry.Draft{
		Name:         "rig-1",
		Model:        model.GPUModelA100,
		VRAMGB:       80,
		PricePerHour: decimal.RequireFromString("2.50"),
	})
	require.NoError(t, err)

	taskDAO := taskmem.New()
	task := model.NewTask("requester-1", gpu.ID, model.TaskDraft{Title: "test"})
	require.NoError(t, task.Transition(model.TaskStatusRunning))
	require.NoError(t, task.Complete(map[string]interface{}{"result": "ok"}, decimal.RequireFromString("0.002083")))
	require.NoError(t, taskDAO.Save(ctx, task))

	paymentDAO := paymentmem.New()
	svc, err := New(
		WithTaskDAO(taskDAO),
		WithPaymentDAO(paymentDAO),
		WithRegistry(reg),
	)
	require.NoError(t, err)
	return &fixture{service: svc, taskDAO: taskDAO, paymentDAO: paymentDAO, registry: reg, gpu: gpu, task: task}
}

func TestService_Settle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payment, err := f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "requester-1", payment.PayerID)
	assert.Equal(t, "owner-1", payment.RecipientID)
	assert.True(t, f.task.Cost.Equal(payment.Amount))
	assert.True(t, strings.HasPrefix(payment.TransactionHash, "0x"))
	assert.Len(t, payment.TransactionHash, 34)

	stored, err := f.paymentDAO.Load(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, stored.Status)
}

func TestService_SettleTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost)
	require.NoError(t, err)

	_, err = f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrAlreadySettled))
}

func TestService_SettleAmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost.Add(decimal.RequireFromString("0.01")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrAmountMismatch))

	// Nothing may be stored after a rejected settlement.
	payments, listErr := f.paymentDAO.List(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, payments)
}

func TestService_SettleNotCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pending := model.NewTask("requester-1", f.gpu.ID, model.TaskDraft{Title: "pending"})
	require.NoError(t, f.taskDAO.Save(ctx, pending))

	_, err := f.service.Settle(ctx, "requester-1", pending.ID, decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvalidState))
}

func TestService_SettleWrongPayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Settle(ctx, "someone-else", f.task.ID, f.task.Cost)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrForbidden))
}

func TestService_SettleMissingTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.Settle(ctx, "requester-1", "missing", decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

type failingRail struct{}

func (r *failingRail) Process(_ context.Context, _ *model.Payment) error {
	return errors.New("rail unreachable")
}

func TestService_SettleRailFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.service.rail = &failingRail{}

	_, err := f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost)
	require.Error(t, err)

	// The failed attempt is recorded so the ledger shows what happened.
	payments, listErr := f.paymentDAO.List(ctx)
	require.NoError(t, listErr)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentStatusFailed, payments[0].Status)

	// A failed attempt does not block settling once the rail recovers.
	f.service.rail = NewMockRail()
	payment, err := f.service.Settle(ctx, "requester-1", f.task.ID, f.task.Cost)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
}
