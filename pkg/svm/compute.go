package svm

import (
	"errors"
	"sync/atomic"
)

// Compute unit costs.
const (
	CUDefault = uint64(200_000)
	CUMax     = uint64(1_400_000)

	CUInvokeBase           = uint64(1_000)
	CUCreateProgramAddress = uint64(1_500)
	CUSignatureVerify      = uint64(720)

	CUSystemProgramDefault = uint64(150)
	CUTokenProgramDefault  = uint64(2_000)
	CUSaleProgramDefault   = uint64(5_000)
)

// MaxInvokeDepth bounds nested invocation. The top-level instruction is
// depth 1.
const MaxInvokeDepth = 4

// ErrComputeExceeded is returned when compute units are exhausted.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a meter with the given limit, capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 {
		limit = CUDefault
	}
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{remaining: limit, limit: limit}
}

// Consume deducts cost. Once exhausted the meter stays at zero.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
