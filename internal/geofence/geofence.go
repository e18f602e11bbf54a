// Package geofence runs the location reminder worker: compare each active
// reminder against the user's latest position and publish a notification
// on enter/exit transitions.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/bus"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// Config tunes the worker.
type Config struct {
	TickInterval      time.Duration // default 30s
	LocationStaleness time.Duration // positions older than this suppress triggers
}

type publisher interface {
	Publish(ctx context.Context, n bus.Notification) error
}

// Worker is the geofence process loop.
type Worker struct {
	reminders store.ReminderStore
	locations store.LocationStore
	bus       publisher
	cfg       Config
}

func NewWorker(reminders store.ReminderStore, locations store.LocationStore, pub publisher, cfg Config) *Worker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.LocationStaleness <= 0 {
		cfg.LocationStaleness = 10 * time.Minute
	}
	return &Worker{reminders: reminders, locations: locations, bus: pub, cfg: cfg}
}

// Run ticks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("geofence.started", "tick", w.cfg.TickInterval, "staleness", w.cfg.LocationStaleness)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("geofence.stopped")
			return
		case <-ticker.C:
			if err := w.Tick(ctx, time.Now().UTC()); err != nil {
				slog.Error("geofence.tick_failed", "error", err)
			}
		}
	}
}

// Tick evaluates every active reminder. Reminders are grouped per user so
// each user's location loads once.
func (w *Worker) Tick(ctx context.Context, now time.Time) error {
	reminders, err := w.reminders.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	byUser := make(map[uuid.UUID][]*store.LocationReminder)
	for _, r := range reminders {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	for userID, rs := range byUser {
		loc, fresh := w.freshLocation(ctx, userID, now)
		for _, r := range rs {
			w.evaluate(ctx, r, loc, fresh, now)
		}
	}
	return nil
}

// freshLocation loads the user's latest position; a missing or stale
// position suppresses every trigger for the user this tick.
func (w *Worker) freshLocation(ctx context.Context, userID uuid.UUID, now time.Time) (*store.UserLocation, bool) {
	loc, err := w.locations.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Error("geofence.location_load_failed", "user_id", userID, "error", err)
		return nil, false
	}
	if now.Sub(loc.UpdatedAt) > w.cfg.LocationStaleness {
		slog.Debug("geofence.location_stale", "user_id", userID, "updated_at", loc.UpdatedAt)
		return nil, false
	}
	return loc, true
}

// evaluate advances one reminder. Expiry applies even without a fresh
// location; triggers never do.
func (w *Worker) evaluate(ctx context.Context, r *store.LocationReminder, loc *store.UserLocation, fresh bool, now time.Time) {
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		r.Status = store.StatusExpired
		w.update(ctx, r)
		slog.Info("geofence.reminder_expired", "reminder_id", r.ID)
		return
	}
	if !fresh {
		return
	}
	if r.CooldownUntil != nil && r.CooldownUntil.After(now) {
		return
	}

	distance := HaversineM(loc.Lat, loc.Lng, r.Lat, r.Lng)
	inside := distance <= r.RadiusM

	// Enter is level-triggered and gated by cooldown; exit fires only on
	// a true inside->outside transition.
	var fired bool
	switch r.TriggerOn {
	case store.TriggerEnter:
		fired = inside
	case store.TriggerExit:
		fired = !inside && r.WasInside
	}

	dirty := inside != r.WasInside
	r.WasInside = inside
	if !fired {
		if dirty {
			w.update(ctx, r)
		}
		return
	}

	r.TriggerCount++
	r.TriggeredAt = &now
	w.publish(ctx, r)

	switch r.Mode {
	case store.ModeOnce:
		r.Status = store.StatusTriggered
	case store.ModePersistent:
		cooldown := now.Add(time.Duration(r.CooldownSeconds) * time.Second)
		r.CooldownUntil = &cooldown
	}
	w.update(ctx, r)
	slog.Info("geofence.reminder_triggered",
		"reminder_id", r.ID, "place", r.PlaceName, "trigger_on", r.TriggerOn,
		"distance_m", int(distance), "mode", r.Mode)
}

func (w *Worker) publish(ctx context.Context, r *store.LocationReminder) {
	if r.Platform == "" || r.PlatformChannelID == "" {
		// Routing was never persisted; nothing to deliver to.
		slog.Error("geofence.reminder_unroutable", "reminder_id", r.ID)
		return
	}
	userID := r.UserID
	n := bus.Notification{
		Platform:          r.Platform,
		PlatformChannelID: r.PlatformChannelID,
		PlatformThreadID:  r.PlatformThreadID,
		Content:           r.Message,
		UserID:            &userID,
	}
	if err := w.bus.Publish(ctx, n); err != nil {
		slog.Error("geofence.publish_failed", "reminder_id", r.ID, "error", err)
	}
}

func (w *Worker) update(ctx context.Context, r *store.LocationReminder) {
	if err := w.reminders.Update(ctx, r); err != nil {
		slog.Error("geofence.reminder_update_failed", "reminder_id", r.ID, "error", err)
	}
}
