package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-promo/internal/pricing"
)

func planP() Rates {
	return Rates{
		PlanRef:             "P",
		Region:              AnyRegion,
		BasePrice:           pricing.MustParse("30.00"),
		MinChargeableWeight: pricing.MustParse("5"),
		PricePerKilo:        pricing.MustParse("2.00"),
	}
}

func TestTotalAboveThresholdChargesFullWeight(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(2), 1)
	agg.Add("P", "b", decimal.NewFromInt(4), 1)

	cost, err := agg.Total(context.Background(), NewStaticTable(planP()), "cairo")
	require.NoError(t, err)
	require.True(t, cost.Resolved)
	require.Equal(t, "42.00", cost.String())
	require.Len(t, cost.Plans, 1)
	require.Equal(t, "12.00", pricing.Format(cost.Plans[0].WeightCost))
}

func TestTotalBelowThresholdChargesBaseOnly(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(1), 2)
	agg.Add("P", "b", decimal.NewFromInt(2), 1)

	cost, err := agg.Total(context.Background(), NewStaticTable(planP()), "cairo")
	require.NoError(t, err)
	require.Equal(t, "30.00", cost.String())
}

func TestTotalAtThresholdIsCharged(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", pricing.MustParse("2.5"), 2)
	cost, err := agg.Total(context.Background(), NewStaticTable(planP()), "giza")
	require.NoError(t, err)
	require.Equal(t, "40.00", cost.String())
}

func TestTotalSumsDistinctPlans(t *testing.T) {
	table := NewStaticTable(planP(), Rates{
		PlanRef:             "Q",
		Region:              "alex",
		BasePrice:           pricing.MustParse("15.50"),
		MinChargeableWeight: pricing.MustParse("0"),
		PricePerKilo:        pricing.MustParse("1.25"),
	})
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(6), 1)
	agg.Add("Q", "b", pricing.MustParse("0.4"), 3)

	cost, err := agg.Total(context.Background(), table, "alex")
	require.NoError(t, err)
	// P: 30 + 12 ; Q: 15.50 + 1.25*1.2 = 17.00
	require.Equal(t, "59.00", cost.String())
	require.Len(t, cost.Plans, 2)
}

func TestTotalWithoutRegionIsUnknownNotZero(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(6), 1)
	cost, err := agg.Total(context.Background(), NewStaticTable(planP()), "")
	require.NoError(t, err)
	require.False(t, cost.Resolved)
	require.Equal(t, "unknown", cost.String())
	require.False(t, cost.Pricing().Known)
}

func TestTotalRegionNotServedIsUnknown(t *testing.T) {
	table := NewStaticTable(Rates{PlanRef: "Q", Region: "alex", BasePrice: pricing.MustParse("10")})
	var agg Aggregator
	agg.Add("Q", "a", decimal.NewFromInt(1), 1)
	cost, err := agg.Total(context.Background(), table, "aswan")
	require.NoError(t, err)
	require.False(t, cost.Resolved)
	require.Contains(t, cost.Reason, "aswan")
}

type failingResolver struct{}

func (failingResolver) ResolvePlan(context.Context, string, string) (Rates, error) {
	return Rates{}, errors.New("db down")
}

func TestTotalPropagatesResolverFailure(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(1), 1)
	_, err := agg.Total(context.Background(), failingResolver{}, "cairo")
	require.Error(t, err)
}

func TestAddReplacesAndRemoveDropsContribution(t *testing.T) {
	var agg Aggregator
	agg.Add("P", "a", decimal.NewFromInt(2), 1)
	agg.Add("P", "a", decimal.NewFromInt(2), 3)
	require.Equal(t, "6", agg.PlanWeight("P").String())

	agg.Remove("a")
	require.Empty(t, agg.Plans())

	cost, err := agg.Total(context.Background(), NewStaticTable(planP()), "cairo")
	require.NoError(t, err)
	require.True(t, cost.Resolved)
	require.Equal(t, "0.00", cost.String())
}

func TestAddWithoutPlanIsNotTracked(t *testing.T) {
	var agg Aggregator
	agg.Add("", "ebook", decimal.NewFromInt(1), 1)
	require.Empty(t, agg.Plans())
}
