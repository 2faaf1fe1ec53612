package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpumesh/marketplace/model"
	"github.com/gpumesh/marketplace/model/fault"
	gpumem "github.com/gpumesh/marketplace/service/dao/gpu/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(WithGPUDAO(gpumem.New()))
	require.NoError(t, err)
	return svc
}

func register(t *testing.T, svc *Service, ownerID, name, price string) *model.GPU {
	t.Helper()
	gpu, err := svc.Register(context.Background(), ownerID, Draft{
		Name:         name,
		Model:        model.GPUModelRTX4090,
		VRAMGB:       24,
		PricePerHour: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return gpu
}

func TestService_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	gpu := register(t, svc, "owner-1", "rig-1", "2.50")
	assert.Equal(t, model.GPUStatusAvailable, gpu.Status)
	assert.NotEmpty(t, gpu.ID)

	loaded, err := svc.Get(ctx, gpu.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", loaded.OwnerID)

	_, err = svc.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestService_ReserveTargeted(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	gpu := register(t, svc, "owner-1", "rig-1", "2.50")

	reserved, err := svc.Reserve(ctx, gpu.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.GPUStatusInUse, reserved.Status)

	// Reserving a busy card fails with resource unavailable, not pool empty.
	_, err = svc.Reserve(ctx, gpu.ID, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrResourceUnavailable))

	_, err = svc.Reserve(ctx, "missing", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrResourceUnavailable))
}

func TestService_ReserveFromPool(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Reserve(ctx, "", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrNoResourceAvailable))

	first := register(t, svc, "owner-1", "rig-1", "2.50")
	register(t, svc, "owner-1", "rig-2", "1.00")

	reserved, err := svc.Reserve(ctx, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reserved.ID, "default pick takes registration order")
}

func TestService_ReserveWithPick(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	register(t, svc, "owner-1", "rig-1", "2.50")
	cheap := register(t, svc, "owner-1", "rig-2", "1.00")

	lowestPrice := func(candidates []*model.GPU) *model.GPU {
		best := candidates[0]
		for _, candidate := range candidates[1:] {
			if candidate.PricePerHour.LessThan(best.PricePerHour) {
				best = candidate
			}
		}
		return best
	}

	reserved, err := svc.Reserve(ctx, "", nil, lowestPrice)
	require.NoError(t, err)
	assert.Equal(t, cheap.ID, reserved.ID)
}

func TestService_ReserveWithConstraints(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	gpu := register(t, svc, "owner-1", "rig-1", "2.50")

	_, err := svc.Reserve(ctx, "", &Constraints{MinVRAMGB: 80}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrNoResourceAvailable))

	_, err = svc.Reserve(ctx, gpu.ID, &Constraints{MinVRAMGB: 80}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrResourceUnavailable))

	reserved, err := svc.Reserve(ctx, "", &Constraints{Model: model.GPUModelRTX4090, MinVRAMGB: 24}, nil)
	require.NoError(t, err)
	assert.Equal(t, gpu.ID, reserved.ID)
}

func TestService_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	gpu := register(t, svc, "owner-1", "rig-1", "2.50")

	_, err := svc.Reserve(ctx, gpu.ID, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, gpu.ID))
	require.NoError(t, svc.Release(ctx, gpu.ID))

	loaded, err := svc.Get(ctx, gpu.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GPUStatusAvailable, loaded.Status)
}

func TestService_DeleteInUse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	gpu := register(t, svc, "owner-1", "rig-1", "2.50")

	_, err := svc.Reserve(ctx, gpu.ID, nil, nil)
	require.NoError(t, err)

	err = svc.Delete(ctx, gpu.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrResourceBusy))

	require.NoError(t, svc.Release(ctx, gpu.ID))
	require.NoError(t, svc.Delete(ctx, gpu.ID))

	_, err = svc.Get(ctx, gpu.ID)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	gpu := register(t, svc, "owner-1", "rig-1", "2.50")

	name := "renamed"
	price := decimal.RequireFromString("3.75")
	status := model.GPUStatusMaintenance
	updated, err := svc.Update(ctx, gpu.ID, Update{Name: &name, PricePerHour: &price, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, price.Equal(updated.PricePerHour))
	assert.Equal(t, model.GPUStatusMaintenance, updated.Status)

	// in_use cannot be set by an update.
	inUse := model.GPUStatusInUse
	_, err = svc.Update(ctx, gpu.ID, Update{Status: &inUse})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvalidTransition))
}

func TestService_ListFilters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	register(t, svc, "owner-1", "rig-1", "2.50")
	cheap := register(t, svc, "owner-2", "rig-2", "1.00")

	all, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byOwner, err := svc.List(ctx, Filter{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, cheap.ID, byOwner[0].ID)

	byPrice, err := svc.List(ctx, Filter{MaxPricePerHour: decimal.RequireFromString("1.50")})
	require.NoError(t, err)
	require.Len(t, byPrice, 1)
	assert.Equal(t, cheap.ID, byPrice[0].ID)
}
