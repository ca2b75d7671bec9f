package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-promo/internal/app"
	"github.com/noah-isme/toko-promo/internal/db"
	"github.com/noah-isme/toko-promo/internal/obs"
)

func main() {
	file := flag.String("file", "", "seed document (defaults to the bundled sample)")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")).With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	data := defaultSeed
	if *file != "" {
		var err error
		if data, err = os.ReadFile(*file); err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("read seed file")
		}
	}
	doc, err := parse(data)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid seed document")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := db.Up(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}
	pool, err := app.NewPool(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return doc.apply(ctx, tx)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().
		Int("promotions", len(doc.Promotions)).
		Int("shipping_rates", len(doc.ShippingRates)).
		Int("products", len(doc.Products)).
		Int("coupons", len(doc.Coupons)).
		Msg("seeding completed")
}
