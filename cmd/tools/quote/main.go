package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/noah-isme/toko-promo/internal/app"
	"github.com/noah-isme/toko-promo/internal/cart"
	"github.com/noah-isme/toko-promo/internal/config"
	"github.com/noah-isme/toko-promo/internal/coupon"
	"github.com/noah-isme/toko-promo/internal/obs"
	"github.com/noah-isme/toko-promo/internal/pricing"
)

func main() {
	key := flag.String("key", "", "cart key, e.g. user:42 or guest:<session>")
	region := flag.String("region", "", "destination region")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger("console", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	k := cart.Key(*key)
	q, err := deps.Carts.Quote(ctx, k, k.UserID(), *region)
	if err != nil {
		logger.Error().Err(err).Str("cart_key", *key).Msg("quote cart")
		return
	}
	if err := render(os.Stdout, q); err != nil {
		logger.Error().Err(err).Msg("render quote")
	}
}

type output struct {
	Summary map[string]any    `json:"summary"`
	Coupon  *coupon.Decision  `json:"coupon,omitempty"`
	Totals  map[string]string `json:"totals"`
}

func render(w io.Writer, q cart.Quote) error {
	out := output{
		Summary: q.Summary.Record(),
		Coupon:  q.Coupon,
		Totals: map[string]string{
			"subtotal": pricing.Format(q.Totals.Subtotal),
			"discount": pricing.Format(q.Totals.Discount),
			"tax":      pricing.Format(q.Totals.Tax),
			"total":    pricing.Format(q.Totals.Total),
		},
	}
	if q.Totals.ShippingKnown {
		out.Totals["shipping"] = pricing.Format(q.Totals.Shipping)
	} else {
		out.Totals["shipping"] = "unknown"
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
