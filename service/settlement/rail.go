package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/gpumesh/marketplace/internal/idgen"
	"github.com/gpumesh/marketplace/model"
)

// Rail moves a pending payment to a terminal status.  Substituting a real
// payment rail (on-chain or fiat) extends the payment state machine to
// pending -> completed | failed without touching the settlement preconditions.
type Rail interface {
	Process(ctx context.Context, payment *model.Payment) error
}

// MockRail settles every payment immediately with a synthetic transaction
// hash.  It stands in for a real settlement backend.
type MockRail struct{}

func NewMockRail() *MockRail { return &MockRail{} }

func (r *MockRail) Process(_ context.Context, payment *model.Payment) error {
	hash := fmt.Sprintf("0x%s", strings.ReplaceAll(idgen.New(), "-", ""))
	payment.MarkCompleted(hash)
	return nil
}
