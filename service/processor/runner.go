package processor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gpumesh/marketplace/model"
)

// Result is the outcome of a successful run.  Elapsed is the billable
// processing time the cost computation is based on.
type Result struct {
	Output  map[string]interface{}
	Elapsed time.Duration
}

// Runner executes one task against its reserved GPU.  Implementations return
// an error for a failed run; the processor owns all status bookkeeping.
type Runner interface {
	Run(ctx context.Context, task *model.Task, gpu *model.GPU) (*Result, error)
}

// ErrSimulatedFailure is returned by the simulator for the configured share
// of unsuccessful runs.
var ErrSimulatedFailure = errors.New("simulated random failure")

// SimRunner stands in for real inference execution: it sleeps for a random
// duration within the configured bounds and succeeds with a fixed
// probability.
type SimRunner struct {
	minDuration time.Duration
	maxDuration time.Duration
	successRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// SimOption customises the simulator.
type SimOption func(*SimRunner)

// WithRunBounds sets the simulated processing time interval.
func WithRunBounds(min, max time.Duration) SimOption {
	return func(r *SimRunner) {
		r.minDuration = min
		r.maxDuration = max
	}
}

// WithSuccessRate sets the probability of a successful run, in [0, 1].
func WithSuccessRate(rate float64) SimOption {
	return func(r *SimRunner) {
		r.successRate = rate
	}
}

// WithRandSeed makes the simulator deterministic for tests.
func WithRandSeed(seed int64) SimOption {
	return func(r *SimRunner) {
		r.rnd = rand.New(rand.NewSource(seed))
	}
}

// NewSimRunner creates a simulator with the source defaults: 1-5s processing
// time and an 80% success rate.
func NewSimRunner(options ...SimOption) *SimRunner {
	r := &SimRunner{
		minDuration: time.Second,
		maxDuration: 5 * time.Second,
		successRate: 0.8,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.maxDuration < r.minDuration {
		r.maxDuration = r.minDuration
	}
	return r
}

// Run simulates processing the task on the GPU.
func (r *SimRunner) Run(ctx context.Context, task *model.Task, _ *model.GPU) (*Result, error) {
	elapsed := r.processingTime()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(elapsed):
	}

	if !r.success() {
		return nil, ErrSimulatedFailure
	}

	seconds := math.Round(elapsed.Seconds()*100) / 100
	return &Result{
		Elapsed: elapsed,
		Output: map[string]interface{}{
			"result":                  "Task completed successfully",
			"processing_time_seconds": seconds,
			"mock_data": map[string]interface{}{
				"generated_text":   "This is a mock response from the AI model. In a real implementation, this would be the actual model output.",
				"tokens_generated": r.intBetween(10, 100),
				"inference_time":   seconds,
			},
		},
	}, nil
}

func (r *SimRunner) processingTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	spread := r.maxDuration - r.minDuration
	if spread <= 0 {
		return r.minDuration
	}
	return r.minDuration + time.Duration(r.rnd.Int63n(int64(spread)))
}

func (r *SimRunner) success() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64() < r.successRate
}

func (r *SimRunner) intBetween(min, max int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rnd.Intn(max-min+1)
}
