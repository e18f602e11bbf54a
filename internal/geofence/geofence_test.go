package geofence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/bus"
	"github.com/nextlevelbuilder/aide/internal/store"
)

type fakeReminders struct {
	active  []*store.LocationReminder
	updates []*store.LocationReminder
}

func (f *fakeReminders) Create(context.Context, *store.LocationReminder) error { return nil }
func (f *fakeReminders) ListActive(context.Context) ([]*store.LocationReminder, error) {
	return f.active, nil
}
func (f *fakeReminders) Update(_ context.Context, r *store.LocationReminder) error {
	f.updates = append(f.updates, r)
	return nil
}

type fakeLocations struct {
	byUser map[uuid.UUID]*store.UserLocation
}

func (f *fakeLocations) Upsert(context.Context, *store.UserLocation) error { return nil }
func (f *fakeLocations) Get(_ context.Context, userID uuid.UUID) (*store.UserLocation, error) {
	loc, ok := f.byUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return loc, nil
}

type fakeBus struct {
	published []bus.Notification
}

func (f *fakeBus) Publish(_ context.Context, n bus.Notification) error {
	f.published = append(f.published, n)
	return nil
}

func reminder(userID uuid.UUID, triggerOn, mode string) *store.LocationReminder {
	return &store.LocationReminder{
		ID:                store.NewID(),
		UserID:            userID,
		PlaceName:         "office",
		Lat:               37.7749,
		Lng:               -122.4194,
		RadiusM:           100,
		Message:           "you have arrived",
		TriggerOn:         triggerOn,
		Mode:              mode,
		CooldownSeconds:   3600,
		Status:            store.StatusActive,
		Platform:          "discord",
		PlatformChannelID: "chan-1",
	}
}

func locationAt(userID uuid.UUID, lat, lng float64, at time.Time) *store.UserLocation {
	return &store.UserLocation{UserID: userID, Lat: lat, Lng: lng, UpdatedAt: at}
}

func newTestWorker(rs *fakeReminders, ls *fakeLocations, b *fakeBus) *Worker {
	return NewWorker(rs, ls, b, Config{})
}

func TestTick_EnterOnceTriggers(t *testing.T) {
	userID := store.NewID()
	r := reminder(userID, store.TriggerEnter, store.ModeOnce)
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	now := time.Now().UTC()
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now), // at the fence center
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}

	if len(b.published) != 1 {
		t.Fatalf("published %d notifications, want 1", len(b.published))
	}
	if b.published[0].Content != "you have arrived" {
		t.Errorf("notification content = %q", b.published[0].Content)
	}
	if r.Status != store.StatusTriggered {
		t.Errorf("status = %q, want triggered", r.Status)
	}
	if r.TriggerCount != 1 {
		t.Errorf("trigger count = %d, want 1", r.TriggerCount)
	}
	if r.TriggeredAt == nil {
		t.Error("triggered_at not set")
	}
}

func TestTick_EnterOutsideRadiusDoesNotTrigger(t *testing.T) {
	userID := store.NewID()
	r := reminder(userID, store.TriggerEnter, store.ModeOnce)
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	now := time.Now().UTC()
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7849, -122.4194, now), // ~1.1km away
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 {
		t.Errorf("published %d notifications, want 0", len(b.published))
	}
	if r.Status != store.StatusActive {
		t.Errorf("status = %q, want active", r.Status)
	}
}

func TestTick_CooldownSuppresses(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()
	r := reminder(userID, store.TriggerEnter, store.ModePersistent)
	until := now.Add(30 * time.Minute)
	r.CooldownUntil = &until
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now),
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 {
		t.Errorf("published %d notifications during cooldown, want 0", len(b.published))
	}
}

func TestTick_PersistentSetsCooldown(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()
	r := reminder(userID, store.TriggerEnter, store.ModePersistent)
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now),
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 1 {
		t.Fatalf("published %d notifications, want 1", len(b.published))
	}
	if r.Status != store.StatusActive {
		t.Errorf("persistent reminder status = %q, want active", r.Status)
	}
	if r.CooldownUntil == nil {
		t.Fatal("cooldown not set")
	}
	want := now.Add(time.Duration(r.CooldownSeconds) * time.Second)
	if !r.CooldownUntil.Equal(want) {
		t.Errorf("cooldown_until = %v, want %v", r.CooldownUntil, want)
	}
}

func TestTick_StaleLocationSuppressesButNotExpiry(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()

	inRange := reminder(userID, store.TriggerEnter, store.ModeOnce)
	expired := reminder(userID, store.TriggerEnter, store.ModeOnce)
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past

	rs := &fakeReminders{active: []*store.LocationReminder{inRange, expired}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now.Add(-time.Hour)), // stale
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 {
		t.Errorf("published %d notifications on stale location, want 0", len(b.published))
	}
	if inRange.Status != store.StatusActive {
		t.Errorf("in-range reminder status = %q, want active", inRange.Status)
	}
	if expired.Status != store.StatusExpired {
		t.Errorf("expired reminder status = %q, want expired", expired.Status)
	}
}

func TestTick_ExitRequiresPriorInside(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()

	never := reminder(userID, store.TriggerExit, store.ModeOnce)
	was := reminder(userID, store.TriggerExit, store.ModeOnce)
	was.WasInside = true

	rs := &fakeReminders{active: []*store.LocationReminder{never, was}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7849, -122.4194, now), // outside both
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 1 {
		t.Fatalf("published %d notifications, want 1 (exit only after being inside)", len(b.published))
	}
	if never.Status != store.StatusActive || never.TriggerCount != 0 {
		t.Error("exit fired without a prior inside observation")
	}
	if was.Status != store.StatusTriggered {
		t.Errorf("exit reminder status = %q, want triggered", was.Status)
	}
	if was.WasInside {
		t.Error("was_inside not cleared after leaving")
	}
}

func TestTick_InsideStateTrackedWithoutFiring(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()
	r := reminder(userID, store.TriggerExit, store.ModeOnce)
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now), // inside
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 {
		t.Errorf("exit reminder fired while inside")
	}
	if !r.WasInside {
		t.Error("was_inside not recorded")
	}
	if len(rs.updates) != 1 {
		t.Errorf("updates = %d, want 1 for the state transition", len(rs.updates))
	}
}

func TestTick_UnroutableReminderNotPublished(t *testing.T) {
	userID := store.NewID()
	now := time.Now().UTC()
	r := reminder(userID, store.TriggerEnter, store.ModeOnce)
	r.Platform = ""
	r.PlatformChannelID = ""
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{
		userID: locationAt(userID, 37.7749, -122.4194, now),
	}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 {
		t.Errorf("published %d notifications without routing, want 0", len(b.published))
	}
	// The trigger itself still settles the reminder.
	if r.Status != store.StatusTriggered {
		t.Errorf("status = %q, want triggered", r.Status)
	}
}

func TestTick_NoLocation(t *testing.T) {
	userID := store.NewID()
	r := reminder(userID, store.TriggerEnter, store.ModeOnce)
	rs := &fakeReminders{active: []*store.LocationReminder{r}}
	ls := &fakeLocations{byUser: map[uuid.UUID]*store.UserLocation{}}
	b := &fakeBus{}

	if err := newTestWorker(rs, ls, b).Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if len(b.published) != 0 || r.Status != store.StatusActive {
		t.Error("reminder moved without any known location")
	}
}
