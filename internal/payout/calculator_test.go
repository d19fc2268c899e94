package payout

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"waternity/internal/models"
)

func share(account string, bps uint16, position int64) models.StakeholderShare {
	return models.StakeholderShare{
		AccountRef: account,
		ShareBps:   bps,
		Position:   position,
		Active:     true,
	}
}

func sumAmounts(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

func TestComputeDistribution_RemainderAbsorbedByLast(t *testing.T) {
	shares := []models.StakeholderShare{
		share("0.0.1001", 3333, 1),
		share("0.0.1002", 3333, 2),
		share("0.0.1003", 3334, 3),
	}
	gross := decimal.RequireFromString("100.123456")

	allocs, err := ComputeDistribution(shares, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(allocs) != 3 {
		t.Fatalf("len=%d want 3", len(allocs))
	}
	if got := sumAmounts(allocs); !got.Equal(gross) {
		t.Fatalf("sum=%s want %s", got.String(), gross.String())
	}
	// The last recipient differs from a naive proportional split by the
	// rounding remainder.
	naive := gross.Mul(decimal.NewFromInt(3334)).Div(decimal.NewFromInt(10000)).Round(AmountScale)
	if allocs[2].Amount.Equal(naive) {
		t.Fatalf("last amount %s should differ from naive split %s", allocs[2].Amount, naive)
	}
}

func TestComputeDistribution_WholeRevenue(t *testing.T) {
	shares := []models.StakeholderShare{
		share("0.0.1001", 3333, 1),
		share("0.0.1002", 3333, 2),
		share("0.0.1003", 3334, 3),
	}
	gross := decimal.NewFromInt(1000000)

	allocs, err := ComputeDistribution(shares, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []string{"333300", "333300", "333400"}
	for i, w := range want {
		if !allocs[i].Amount.Equal(decimal.RequireFromString(w)) {
			t.Fatalf("alloc[%d]=%s want %s", i, allocs[i].Amount, w)
		}
	}
	if got := sumAmounts(allocs); !got.Equal(gross) {
		t.Fatalf("sum=%s want %s", got, gross)
	}
}

func TestComputeDistribution_ZeroRevenue(t *testing.T) {
	allocs, err := ComputeDistribution([]models.StakeholderShare{share("0.0.1001", 10000, 1)}, decimal.Zero)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(allocs) != 0 {
		t.Fatalf("len=%d want 0", len(allocs))
	}
}

func TestComputeDistribution_NegativeRevenue(t *testing.T) {
	_, err := ComputeDistribution([]models.StakeholderShare{share("0.0.1001", 10000, 1)}, decimal.NewFromInt(-1))
	if !errors.Is(err, ErrNegativeRevenue) {
		t.Fatalf("err=%v want ErrNegativeRevenue", err)
	}
}

func TestComputeDistribution_NoAllocatableShares(t *testing.T) {
	_, err := ComputeDistribution(nil, decimal.NewFromInt(100))
	if !errors.Is(err, ErrNoAllocatableShares) {
		t.Fatalf("err=%v want ErrNoAllocatableShares", err)
	}

	_, err = ComputeDistribution([]models.StakeholderShare{share("0.0.1001", 0, 1)}, decimal.NewFromInt(100))
	if !errors.Is(err, ErrNoAllocatableShares) {
		t.Fatalf("err=%v want ErrNoAllocatableShares", err)
	}
}

func TestComputeDistribution_OverAllocated(t *testing.T) {
	shares := []models.StakeholderShare{
		share("0.0.1001", 6000, 1),
		share("0.0.1002", 6000, 2),
	}
	_, err := ComputeDistribution(shares, decimal.NewFromInt(100))
	if !errors.Is(err, ErrOverAllocated) {
		t.Fatalf("err=%v want ErrOverAllocated", err)
	}
}

func TestComputeDistribution_InputOrderIrrelevant(t *testing.T) {
	gross := decimal.RequireFromString("7777.123456")
	ordered := []models.StakeholderShare{
		share("0.0.1001", 1500, 1),
		share("0.0.1002", 2500, 2),
		share("0.0.1003", 6000, 3),
	}
	shuffled := []models.StakeholderShare{ordered[2], ordered[0], ordered[1]}

	a, err := ComputeDistribution(ordered, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	b, err := ComputeDistribution(shuffled, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("len mismatch %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].AccountRef != b[i].AccountRef || !a[i].Amount.Equal(b[i].Amount) {
			t.Fatalf("alloc[%d] mismatch: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestComputeDistribution_DuplicatePositionsTieBreakOnAccount(t *testing.T) {
	// Positions are unique per well, but if a set ever carries a collision
	// the account tie-break must keep the ordering total: the remainder
	// always lands on the same recipient no matter the retrieval order.
	gross := decimal.RequireFromString("100.123456")
	a := share("0.0.2001", 3333, 2)
	b := share("0.0.2002", 3334, 2)
	c := share("0.0.2003", 3333, 1)

	first, err := ComputeDistribution([]models.StakeholderShare{c, a, b}, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	second, err := ComputeDistribution([]models.StakeholderShare{c, b, a}, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	for i := range first {
		if first[i].AccountRef != second[i].AccountRef || !first[i].Amount.Equal(second[i].Amount) {
			t.Fatalf("alloc[%d] mismatch: %+v vs %+v", i, first[i], second[i])
		}
	}
	// Within the tied pair the greater account sorts last and absorbs the
	// remainder.
	if first[len(first)-1].AccountRef != "0.0.2002" {
		t.Fatalf("last=%s want 0.0.2002", first[len(first)-1].AccountRef)
	}
	if got := sumAmounts(first); !got.Equal(gross) {
		t.Fatalf("sum=%s want %s", got, gross)
	}
}

func TestComputeDistribution_PartialAllocationStillReconstructs(t *testing.T) {
	// Under-allocated share sets (< 10000 bps) still distribute the full
	// revenue; the remainder lands on the last share by position.
	shares := []models.StakeholderShare{
		share("0.0.1001", 2500, 1),
		share("0.0.1002", 2500, 2),
	}
	gross := decimal.RequireFromString("99.999999")
	allocs, err := ComputeDistribution(shares, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := sumAmounts(allocs); !got.Equal(gross) {
		t.Fatalf("sum=%s want %s", got, gross)
	}
}

func TestComputeDistribution_DropsZeroAmountRows(t *testing.T) {
	shares := []models.StakeholderShare{
		share("0.0.1001", 1, 1),
		share("0.0.1002", 9999, 2),
	}
	// Tiny revenue: the 1 bps share rounds to zero and is dropped.
	gross := decimal.RequireFromString("0.000001")
	allocs, err := ComputeDistribution(shares, gross)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	for _, a := range allocs {
		if a.Amount.IsZero() {
			t.Fatalf("zero-amount allocation leaked: %+v", a)
		}
	}
	if got := sumAmounts(allocs); !got.Equal(gross) {
		t.Fatalf("sum=%s want %s", got, gross)
	}
}
