package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-promo/internal/resilience"
)

// TypeOrderPlaced is the asynq task type emitted once an order is committed.
const TypeOrderPlaced = "order:placed"

// OrderItem is the line summary carried by OrderPlaced.
type OrderItem struct {
	ProductRef string `json:"product_ref"`
	Quantity   int    `json:"quantity"`
	Gift       bool   `json:"gift,omitempty"`
}

// OrderPlaced announces a committed order.
type OrderPlaced struct {
	OrderID    string      `json:"order_id"`
	CartKey    string      `json:"cart_key"`
	UserID     string      `json:"user_id,omitempty"`
	Currency   string      `json:"currency"`
	Total      string      `json:"total"`
	CouponCode string      `json:"coupon_code,omitempty"`
	Promotions []string    `json:"promotions,omitempty"`
	Items      []OrderItem `json:"items"`
	PlacedAt   time.Time   `json:"placed_at"`
}

// Validate checks the fields every consumer relies on.
func (e OrderPlaced) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return errors.New("events: order id is required")
	}
	if len(e.Items) == 0 {
		return errors.New("events: order has no items")
	}
	return nil
}

// NewOrderPlacedTask encodes ev as an asynq task. The order id doubles as the
// task id so a retried publish cannot enqueue the event twice.
func NewOrderPlacedTask(ev OrderPlaced, opts ...asynq.Option) (*asynq.Task, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: encode payload: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(TypeOrderPlaced + ":" + ev.OrderID)}, opts...)
	return asynq.NewTask(TypeOrderPlaced, payload, opts...), nil
}

// DecodeOrderPlaced parses the payload of an order-placed task.
func DecodeOrderPlaced(t *asynq.Task) (OrderPlaced, error) {
	var ev OrderPlaced
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return OrderPlaced{}, fmt.Errorf("events: decode %s: %w", t.Type(), err)
	}
	if err := ev.Validate(); err != nil {
		return OrderPlaced{}, err
	}
	return ev, nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher puts order events onto asynq. A non-nil Breaker fails publishes
// fast while the broker keeps erroring.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Breaker  *resilience.Breaker
}

// PublishOrderPlaced enqueues ev. A duplicate publish of the same order is not an error.
func (p Publisher) PublishOrderPlaced(ctx context.Context, ev OrderPlaced) error {
	if p.Client == nil {
		return errors.New("events: publisher not configured")
	}
	var opts []asynq.Option
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	task, err := NewOrderPlacedTask(ev, opts...)
	if err != nil {
		return err
	}
	return p.Breaker.Do(ctx, func(ctx context.Context) error {
		if _, err := p.Client.EnqueueContext(ctx, task); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
				return nil
			}
			return fmt.Errorf("events: enqueue %s: %w", TypeOrderPlaced, err)
		}
		return nil
	})
}
