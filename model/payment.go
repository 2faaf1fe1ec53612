package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gpumesh/marketplace/internal/clock"
)

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment settles a completed task: at most one exists per task and its
// amount equals the task cost at creation time.
type Payment struct {
	ID              string          `json:"id"`
	TaskID          string          `json:"taskId"`
	PayerID         string          `json:"payerId"`
	RecipientID     string          `json:"recipientId"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PaymentStatus   `json:"status"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
}

// MarkCompleted records a successful settlement with the rail's transaction
// reference.
func (p *Payment) MarkCompleted(transactionHash string) {
	p.Status = PaymentStatusCompleted
	p.TransactionHash = transactionHash
	p.touch()
}

// MarkFailed records a rail failure.
func (p *Payment) MarkFailed() {
	p.Status = PaymentStatusFailed
	p.touch()
}

func (p *Payment) touch() {
	now := clock.Now()
	p.UpdatedAt = &now
}

// Clone creates a copy of the payment.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		clone.UpdatedAt = &t
	}
	return &clone
}
