// Package notify delivers bus notifications to platform adapters. Each
// adapter owns one platform; the router fans subscriptions out and
// rate-limits sends. Delivery failures are logged and dropped; the durable
// row behind the notification is the source of truth.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/aide/internal/bus"
)

// Adapter pushes one notification to its platform's native API.
type Adapter interface {
	Platform() string
	Deliver(ctx context.Context, n bus.Notification) error
}

type subscriber interface {
	Subscribe(ctx context.Context, platform string) (<-chan bus.Notification, func())
}

// Router subscribes each adapter to its platform channel.
type Router struct {
	bus      subscriber
	adapters []Adapter
}

func NewRouter(b subscriber, adapters ...Adapter) *Router {
	return &Router{bus: b, adapters: adapters}
}

// Run blocks until ctx is done, delivering notifications as they arrive.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range r.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runAdapter(ctx, a)
		}()
	}
	wg.Wait()
}

func (r *Router) runAdapter(ctx context.Context, a Adapter) {
	ch, stop := r.bus.Subscribe(ctx, a.Platform())
	defer stop()

	// Platforms throttle bots hard; stay well under their limits.
	limiter := rate.NewLimiter(rate.Every(time.Second/5), 5)

	slog.Info("notify.subscribed", "platform", a.Platform())
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := a.Deliver(ctx, n); err != nil {
				slog.Error("notify.delivery_failed",
					"platform", a.Platform(), "channel", n.PlatformChannelID, "error", err)
				continue
			}
			slog.Debug("notify.delivered", "platform", a.Platform(), "channel", n.PlatformChannelID)
		}
	}
}
