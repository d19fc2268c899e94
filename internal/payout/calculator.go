package payout

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"waternity/internal/models"
)

const (
	// TotalBps is the full ownership of a well in basis points.
	TotalBps = 10000

	// AmountScale is the decimal scale payout amounts are rounded to.
	AmountScale = 6
)

var (
	ErrNegativeRevenue     = errors.New("payout: gross revenue is negative")
	ErrNoAllocatableShares = errors.New("payout: no shares with a positive allocation")
	ErrOverAllocated       = errors.New("payout: share total exceeds 10000 bps")
	ErrZeroAllocation      = errors.New("payout: share total is zero bps")
	ErrInvariantViolated   = errors.New("payout: allocated amounts do not sum to gross revenue")
)

// sumTolerance is the absolute tolerance on the reconstruction invariant.
var sumTolerance = decimal.New(1, -6)

// Allocation is one recipient's computed slice of a settlement's revenue.
type Allocation struct {
	AccountRef string          `json:"account_ref"`
	ShareBps   uint16          `json:"share_bps"`
	Amount     decimal.Decimal `json:"amount"`
}

// ComputeDistribution splits grossRevenue across the given shares by weight.
//
// Shares are ordered by their immutable Position before any arithmetic, and
// every recipient except the last gets its proportional amount rounded to
// six decimal places; the last recipient takes whatever remains, so the
// amounts always reconstruct grossRevenue exactly. Re-running with the same
// inputs always yields the same output.
//
// Zero grossRevenue yields an empty allocation and no error. Zero-amount
// rows are dropped from the result.
func ComputeDistribution(shares []models.StakeholderShare, grossRevenue decimal.Decimal) ([]Allocation, error) {
	if grossRevenue.IsNegative() {
		return nil, ErrNegativeRevenue
	}
	if grossRevenue.IsZero() {
		return []Allocation{}, nil
	}

	eligible := make([]models.StakeholderShare, 0, len(shares))
	for _, s := range shares {
		if s.ShareBps > 0 {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoAllocatableShares
	}

	totalBps := int64(0)
	for _, s := range eligible {
		totalBps += int64(s.ShareBps)
	}
	if totalBps > TotalBps {
		return nil, ErrOverAllocated
	}
	if totalBps == 0 {
		return nil, ErrZeroAllocation
	}

	// Positions are unique per well, but shares from different sources may
	// still collide; the account tie-break keeps the ordering total so the
	// remainder always lands on the same recipient.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Position != eligible[j].Position {
			return eligible[i].Position < eligible[j].Position
		}
		return eligible[i].AccountRef < eligible[j].AccountRef
	})

	total := decimal.NewFromInt(totalBps)
	allocated := decimal.Zero
	out := make([]Allocation, 0, len(eligible))
	for i, s := range eligible {
		var amount decimal.Decimal
		if i == len(eligible)-1 {
			// Last recipient absorbs the accumulated rounding remainder.
			amount = grossRevenue.Sub(allocated)
			if amount.IsNegative() {
				amount = decimal.Zero
			}
		} else {
			amount = grossRevenue.
				Mul(decimal.NewFromInt(int64(s.ShareBps))).
				Div(total).
				Round(AmountScale)
		}
		allocated = allocated.Add(amount)
		if amount.IsZero() {
			continue
		}
		out = append(out, Allocation{
			AccountRef: s.AccountRef,
			ShareBps:   s.ShareBps,
			Amount:     amount,
		})
	}

	if allocated.Sub(grossRevenue).Abs().GreaterThan(sumTolerance) {
		return nil, ErrInvariantViolated
	}

	return out, nil
}
