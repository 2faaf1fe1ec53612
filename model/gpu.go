package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/internal/clock"
	"github.com/gpumesh/marketplace/model/fault"
)

// GPUStatus represents the current availability of a GPU.
type GPUStatus string

const (
	GPUStatusAvailable   GPUStatus = "available"
	GPUStatusInUse       GPUStatus = "in_use"
	GPUStatusMaintenance GPUStatus = "maintenance"
	GPUStatusOffline     GPUStatus = "offline"
)

// GPUModel identifies the hardware family of a registered card.
type GPUModel string

const (
	GPUModelRTX3090 GPUModel = "RTX 3090"
	GPUModelRTX4090 GPUModel = "RTX 4090"
	GPUModelA100    GPUModel = "A100"
	GPUModelH100    GPUModel = "H100"
	GPUModelMI250X  GPUModel = "MI250X"
	GPUModelOther   GPUModel = "other"
)

// GPU represents a card registered for rental by its owner.
type GPU struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Model        GPUModel               `json:"model"`
	VRAMGB       int                    `json:"vramGb"`
	OwnerID      string                 `json:"ownerId"`
	PricePerHour decimal.Decimal        `json:"pricePerHour"`
	Status       GPUStatus              `json:"status"`
	Specs        map[string]interface{} `json:"specs,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    *time.Time             `json:"updatedAt,omitempty"`
}

// Reserve flips the GPU to in_use.  Only an available GPU can be reserved so
// a card is never held by two tasks concurrently.
func (g *GPU) Reserve() error {
	if g.Status != GPUStatusAvailable {
		return fault.New(fault.ResourceUnavailable, "gpu %s is %s", g.ID, g.Status)
	}
	g.Status = GPUStatusInUse
	g.touch()
	return nil
}

// Release returns the GPU to the available pool.  Releasing a GPU that is not
// in use is a no-op, not an error, so cleanup paths stay idempotent.
func (g *GPU) Release() {
	if g.Status != GPUStatusInUse {
		return
	}
	g.Status = GPUStatusAvailable
	g.touch()
}

// SetStatus applies an owner-driven status change (maintenance, offline,
// available).  The in_use status is managed exclusively by reservation and
// release.
func (g *GPU) SetStatus(status GPUStatus) error {
	if status == GPUStatusInUse || g.Status == GPUStatusInUse {
		return fault.New(fault.InvalidTransition, "gpu %s: cannot change status %s -> %s", g.ID, g.Status, status)
	}
	g.Status = status
	g.touch()
	return nil
}

func (g *GPU) touch() {
	now := clock.Now()
	g.UpdatedAt = &now
}

// Clone creates a deep copy of the GPU so that the caller can mutate it
// without affecting the stored instance.
func (g *GPU) Clone() *GPU {
	if g == nil {
		return nil
	}
	clone := *g
	if g.Specs != nil {
		clone.Specs = make(map[string]interface{}, len(g.Specs))
		for k, v := range g.Specs {
			clone.Specs[k] = v
		}
	}
	if g.UpdatedAt != nil {
		t := *g.UpdatedAt
		clone.UpdatedAt = &t
	}
	return &clone
}
