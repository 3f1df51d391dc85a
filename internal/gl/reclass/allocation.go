package reclass

import (
	"fmt"
	"math"

	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// TargetInput names one destination with either a percentage (PERCENT mode)
// or an absolute amount (AMOUNT mode).
type TargetInput struct {
	AccountID int64
	Percent   float64
	Amount    float64
}

// allocate distributes total across the targets. In PERCENT mode the
// percentages must sum to exactly 100 within shared.Epsilon; in AMOUNT mode
// the amounts must sum to total within shared.AmountEpsilon. In both modes
// the last target absorbs the rounding residual so the applied amounts sum
// to total exactly.
func allocate(mode AllocationMode, total float64, targets []TargetInput) ([]float64, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	applied := make([]float64, len(targets))
	switch mode {
	case ModePercent:
		var pctSum float64
		for idx, target := range targets {
			if target.Percent <= 0 {
				return nil, fmt.Errorf("%w: target %d percent %.4f", ErrPercentSum, idx+1, target.Percent)
			}
			pctSum += target.Percent
		}
		if !shared.EqualWithin(pctSum, 100, shared.Epsilon) {
			return nil, fmt.Errorf("%w: got %.4f", ErrPercentSum, pctSum)
		}
		var allocated float64
		for idx, target := range targets {
			if idx == len(targets)-1 {
				applied[idx] = shared.Round6(total - allocated)
				break
			}
			applied[idx] = shared.Round2(total * target.Percent / 100)
			allocated += applied[idx]
		}
	case ModeAmount:
		var amtSum float64
		for idx, target := range targets {
			if target.Amount <= 0 {
				return nil, fmt.Errorf("%w: target %d amount %.2f", ErrAmountSum, idx+1, target.Amount)
			}
			amtSum += target.Amount
		}
		if math.Abs(amtSum-total) > shared.AmountEpsilon {
			return nil, fmt.Errorf("%w: got %.2f want %.2f", ErrAmountSum, amtSum, total)
		}
		var allocated float64
		for idx, target := range targets {
			if idx == len(targets)-1 {
				applied[idx] = shared.Round6(total - allocated)
				break
			}
			applied[idx] = shared.Round2(target.Amount)
			allocated += applied[idx]
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	for idx, amount := range applied {
		if amount <= 0 {
			return nil, fmt.Errorf("%w: target %d resolves to %.6f", ErrAmountSum, idx+1, amount)
		}
	}
	return applied, nil
}
