package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// ReminderStore implements store.ReminderStore backed by Postgres.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderCols = `id, user_id, place_name, lat, lng, radius_m, message,
	trigger_on, mode, cooldown_seconds, cooldown_until, expires_at,
	trigger_count, was_inside, status,
	platform, platform_channel_id, platform_thread_id, triggered_at, created_at`

func (s *ReminderStore) Create(ctx context.Context, r *store.LocationReminder) error {
	if r.ID == uuid.Nil {
		r.ID = store.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = store.StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_reminders (`+reminderCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		r.ID, r.UserID, r.PlaceName, r.Lat, r.Lng, r.RadiusM, r.Message,
		r.TriggerOn, r.Mode, r.CooldownSeconds, r.CooldownUntil, r.ExpiresAt,
		r.TriggerCount, r.WasInside, r.Status,
		nilStr(r.Platform), nilStr(r.PlatformChannelID), nilOrStr(r.PlatformThreadID),
		r.TriggeredAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *ReminderStore) ListActive(ctx context.Context) ([]*store.LocationReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM location_reminders
		 WHERE status = 'active' ORDER BY user_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active reminders: %w", err)
	}
	defer rows.Close()

	var out []*store.LocationReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ReminderStore) Update(ctx context.Context, r *store.LocationReminder) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE location_reminders SET
			status = $1, trigger_count = $2, cooldown_until = $3,
			was_inside = $4, triggered_at = $5
		 WHERE id = $6`,
		r.Status, r.TriggerCount, r.CooldownUntil, r.WasInside, r.TriggeredAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	return nil
}

func scanReminder(row rowScanner) (*store.LocationReminder, error) {
	r := &store.LocationReminder{}
	var platform, channelID *string
	err := row.Scan(&r.ID, &r.UserID, &r.PlaceName, &r.Lat, &r.Lng, &r.RadiusM, &r.Message,
		&r.TriggerOn, &r.Mode, &r.CooldownSeconds, &r.CooldownUntil, &r.ExpiresAt,
		&r.TriggerCount, &r.WasInside, &r.Status,
		&platform, &channelID, &r.PlatformThreadID, &r.TriggeredAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	r.Platform = derefStr(platform)
	r.PlatformChannelID = derefStr(channelID)
	return r, nil
}

// LocationStore implements store.LocationStore backed by Postgres.
type LocationStore struct {
	db *sql.DB
}

func NewLocationStore(db *sql.DB) *LocationStore {
	return &LocationStore{db: db}
}

func (s *LocationStore) Upsert(ctx context.Context, l *store.UserLocation) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_locations (user_id, lat, lng, accuracy_m, speed_mps, heading, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, accuracy_m = EXCLUDED.accuracy_m,
			speed_mps = EXCLUDED.speed_mps, heading = EXCLUDED.heading, updated_at = EXCLUDED.updated_at`,
		l.UserID, l.Lat, l.Lng, l.AccuracyM, l.SpeedMPS, l.Heading, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *LocationStore) Get(ctx context.Context, userID uuid.UUID) (*store.UserLocation, error) {
	l := &store.UserLocation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, lat, lng, accuracy_m, speed_mps, heading, updated_at
		 FROM user_locations WHERE user_id = $1`, userID,
	).Scan(&l.UserID, &l.Lat, &l.Lng, &l.AccuracyM, &l.SpeedMPS, &l.Heading, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return l, nil
}

// PlaceStore implements store.PlaceStore backed by Postgres.
type PlaceStore struct {
	db *sql.DB
}

func NewPlaceStore(db *sql.DB) *PlaceStore {
	return &PlaceStore{db: db}
}

func (s *PlaceStore) Upsert(ctx context.Context, p *store.UserNamedPlace) error {
	if p.ID == uuid.Nil {
		p.ID = store.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_named_places (id, user_id, name, lat, lng, address)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, name) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, address = EXCLUDED.address`,
		p.ID, p.UserID, p.Name, p.Lat, p.Lng, nilStr(p.Address),
	)
	if err != nil {
		return fmt.Errorf("upsert place: %w", err)
	}
	return nil
}

func (s *PlaceStore) Get(ctx context.Context, userID uuid.UUID, name string) (*store.UserNamedPlace, error) {
	p := &store.UserNamedPlace{}
	var addr *string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, lat, lng, address
		 FROM user_named_places WHERE user_id = $1 AND lower(name) = lower($2)`,
		userID, name,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Lat, &p.Lng, &addr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get place: %w", err)
	}
	p.Address = derefStr(addr)
	return p, nil
}
