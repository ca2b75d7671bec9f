package main

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExec struct {
	statements []string
	args       [][]any
}

func (r *recordingExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	r.args = append(r.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestDefaultSeedIsValid(t *testing.T) {
	doc, err := parse(defaultSeed)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Promotions)
	require.NotEmpty(t, doc.Coupons)
}

func TestParseRejectsDanglingReferences(t *testing.T) {
	_, err := parse([]byte(`{
  "products": [{"ref": "kettle", "name": "Kettle", "unit_price": "10", "stock": 1, "weight": "1",
                "shipping_plan_ref": "nowhere", "promotion_ref": "missing"}],
  "coupons": [{"code": "", "discount_type": "bogus", "discount_value": "1",
               "start_date": "2026-01-01T00:00:00Z", "end_date": "2025-01-01T00:00:00Z"}]
}`))
	require.ErrorContains(t, err, "unknown promotion missing")
	require.ErrorContains(t, err, "unknown shipping plan nowhere")
	require.ErrorContains(t, err, "coupon")
}

func TestApplyOrdersStatements(t *testing.T) {
	doc, err := parse(defaultSeed)
	require.NoError(t, err)
	rec := &recordingExec{}
	require.NoError(t, doc.apply(context.Background(), rec))

	total := len(doc.Promotions) + len(doc.ShippingRates) + len(doc.Products) + len(doc.Coupons)
	require.Len(t, rec.statements, total)
	require.True(t, strings.HasPrefix(rec.statements[0], "INSERT INTO promotions"))
	require.True(t, strings.HasPrefix(rec.statements[total-1], "INSERT INTO coupons"))

	// Coupon codes are stored normalised.
	require.Equal(t, "SHIPFREE", rec.args[total-1][0])
}
