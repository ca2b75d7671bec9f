package events

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-promo/internal/obs"
)

// OrderPlacedFunc reacts to a committed order.
type OrderPlacedFunc func(ctx context.Context, ev OrderPlaced) error

// Handler consumes order events. Each hook runs in order; the first failure
// makes asynq retry the task.
type Handler struct {
	OnOrderPlaced []OrderPlacedFunc
	Logger        zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	ev, err := DecodeOrderPlaced(t)
	if err != nil {
		obs.IncCounter(obs.OrderEventsTotal, t.Type(), "malformed")
		h.Logger.Error().Err(err).Str("task_type", t.Type()).Msg("drop malformed order event")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	for _, fn := range h.OnOrderPlaced {
		if fn == nil {
			continue
		}
		if err := fn(ctx, ev); err != nil {
			obs.IncCounter(obs.OrderEventsTotal, t.Type(), "error")
			h.Logger.Warn().Err(err).Str("order_id", ev.OrderID).Msg("order event hook failed")
			return err
		}
	}
	obs.IncCounter(obs.OrderEventsTotal, t.Type(), "ok")
	h.Logger.Info().Str("order_id", ev.OrderID).Str("total", ev.Total).Int("items", len(ev.Items)).Msg("order placed")
	return nil
}

// NewServeMux routes order tasks to h.
func NewServeMux(h Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOrderPlaced, h)
	return mux
}
