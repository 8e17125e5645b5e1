package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/awaistahir/solar-run/internal/engine"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

const siteID = "default"

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// Site is the installation being planned for
type Site struct {
	Location  engine.Location  `json:"location"`
	Panel     engine.PanelSpec `json:"panel"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ApplianceRecord is a stored appliance with its id
type ApplianceRecord struct {
	ID string `json:"id"`
	engine.Appliance
}

// ScheduleRecord is one persisted optimizer run
type ScheduleRecord struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Schedule  engine.Schedule `json:"schedule"`
}

// NewStore opens the database and creates the schema
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under the daemon
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		watts_per_panel REAL NOT NULL,
		panel_count INTEGER NOT NULL,
		efficiency REAL NOT NULL,
		tilt_deg REAL NOT NULL,
		azimuth_deg REAL NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS appliances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		power_kw REAL NOT NULL,
		duration_hours REAL NOT NULL,
		flexibility INTEGER NOT NULL,
		priority TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		interval_minutes INTEGER NOT NULL,
		total_kwh REAL NOT NULL,
		peak_kw REAL NOT NULL,
		curve TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		grid_price REAL NOT NULL,
		solar_coverage REAL NOT NULL,
		total_savings REAL NOT NULL,
		schedule TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_forecasts_date ON forecasts(date);
	CREATE INDEX IF NOT EXISTS idx_schedules_date ON schedules(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSite validates and stores the site, replacing any previous one
func (s *Store) SaveSite(site Site) (Site, error) {
	if err := site.Location.Validate(); err != nil {
		return Site{}, err
	}
	if err := site.Panel.Validate(); err != nil {
		return Site{}, err
	}
	site.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	query := `INSERT OR REPLACE INTO sites
		(id, latitude, longitude, watts_per_panel, panel_count, efficiency, tilt_deg, azimuth_deg, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	p := site.Panel
	_, err := s.db.Exec(query, siteID, site.Location.Latitude, site.Location.Longitude,
		p.WattsPerPanel, p.PanelCount, p.Efficiency, p.TiltDeg, p.AzimuthDeg, site.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return Site{}, fmt.Errorf("saving site: %w", err)
	}
	return site, nil
}

// GetSite returns the stored site or ErrNotFound
func (s *Store) GetSite() (Site, error) {
	query := `SELECT latitude, longitude, watts_per_panel, panel_count, efficiency, tilt_deg, azimuth_deg, updated_at
		FROM sites WHERE id = ?`

	var site Site
	var updated string
	p := &site.Panel
	err := s.db.QueryRow(query, siteID).Scan(&site.Location.Latitude, &site.Location.Longitude,
		&p.WattsPerPanel, &p.PanelCount, &p.Efficiency, &p.TiltDeg, &p.AzimuthDeg, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, fmt.Errorf("site: %w", ErrNotFound)
	}
	if err != nil {
		return Site{}, fmt.Errorf("loading site: %w", err)
	}
	if site.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return Site{}, fmt.Errorf("parsing site timestamp: %w", err)
	}
	return site, nil
}

// SaveAppliance inserts the appliance, or updates the one with the same name
// keeping its id and position
func (s *Store) SaveAppliance(a engine.Appliance) (ApplianceRecord, error) {
	if err := a.Validate(); err != nil {
		return ApplianceRecord{}, err
	}

	query := `INSERT INTO appliances (id, name, power_kw, duration_hours, flexibility, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			power_kw = excluded.power_kw,
			duration_hours = excluded.duration_hours,
			flexibility = excluded.flexibility,
			priority = excluded.priority`

	_, err := s.db.Exec(query, uuid.NewString(), a.Name, a.PowerKW, a.DurationHours, a.Flexibility,
		a.Priority.String(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return ApplianceRecord{}, fmt.Errorf("saving appliance %s: %w", a.Name, err)
	}

	var id string
	if err := s.db.QueryRow(`SELECT id FROM appliances WHERE name = ?`, a.Name).Scan(&id); err != nil {
		return ApplianceRecord{}, fmt.Errorf("saving appliance %s: %w", a.Name, err)
	}
	return ApplianceRecord{ID: id, Appliance: a}, nil
}

// ListAppliances returns appliances in the order they were added
func (s *Store) ListAppliances() ([]ApplianceRecord, error) {
	rows, err := s.db.Query(`SELECT id, name, power_kw, duration_hours, flexibility, priority
		FROM appliances ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing appliances: %w", err)
	}
	defer rows.Close()

	appliances := []ApplianceRecord{}
	for rows.Next() {
		rec, err := scanAppliance(rows)
		if err != nil {
			return nil, err
		}
		appliances = append(appliances, rec)
	}
	return appliances, rows.Err()
}

// GetAppliance looks an appliance up by id or, failing that, by name
func (s *Store) GetAppliance(idOrName string) (ApplianceRecord, error) {
	row := s.db.QueryRow(`SELECT id, name, power_kw, duration_hours, flexibility, priority
		FROM appliances WHERE id = ? OR name = ? ORDER BY id = ? DESC LIMIT 1`, idOrName, idOrName, idOrName)
	rec, err := scanAppliance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ApplianceRecord{}, fmt.Errorf("appliance %q: %w", idOrName, ErrNotFound)
	}
	return rec, err
}

// UpdateAppliance replaces the appliance with the given id. The new name must
// not belong to another appliance.
func (s *Store) UpdateAppliance(id string, a engine.Appliance) (ApplianceRecord, error) {
	if err := a.Validate(); err != nil {
		return ApplianceRecord{}, err
	}

	var owner string
	err := s.db.QueryRow(`SELECT id FROM appliances WHERE name = ?`, a.Name).Scan(&owner)
	if err == nil && owner != id {
		return ApplianceRecord{}, fmt.Errorf("%w: appliance name %q is taken", engine.ErrInvalidConfiguration, a.Name)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ApplianceRecord{}, fmt.Errorf("updating appliance: %w", err)
	}

	res, err := s.db.Exec(`UPDATE appliances SET name = ?, power_kw = ?, duration_hours = ?, flexibility = ?, priority = ?
		WHERE id = ?`, a.Name, a.PowerKW, a.DurationHours, a.Flexibility, a.Priority.String(), id)
	if err != nil {
		return ApplianceRecord{}, fmt.Errorf("updating appliance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ApplianceRecord{}, fmt.Errorf("appliance %q: %w", id, ErrNotFound)
	}
	return ApplianceRecord{ID: id, Appliance: a}, nil
}

// DeleteAppliance removes an appliance by id or name
func (s *Store) DeleteAppliance(idOrName string) error {
	res, err := s.db.Exec(`DELETE FROM appliances WHERE id = ? OR name = ?`, idOrName, idOrName)
	if err != nil {
		return fmt.Errorf("deleting appliance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting appliance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("appliance %q: %w", idOrName, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppliance(row scanner) (ApplianceRecord, error) {
	var rec ApplianceRecord
	var priority string
	a := &rec.Appliance
	if err := row.Scan(&rec.ID, &a.Name, &a.PowerKW, &a.DurationHours, &a.Flexibility, &priority); err != nil {
		return ApplianceRecord{}, err
	}
	p, err := engine.ParsePriority(priority)
	if err != nil {
		return ApplianceRecord{}, fmt.Errorf("appliance %s: %w", a.Name, err)
	}
	a.Priority = p
	return rec, nil
}

// SaveForecast stores a production curve and returns its run id
func (s *Store) SaveForecast(curve engine.DailyProductionCurve) (string, error) {
	curveJSON, err := json.Marshal(curve)
	if err != nil {
		return "", fmt.Errorf("encoding curve: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO forecasts (id, date, interval_minutes, total_kwh, peak_kw, curve, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, id, curve.Date.Format("2006-01-02"), int(curve.Interval/time.Minute),
		curve.TotalKWh(), curve.PeakKW(), string(curveJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("saving forecast: %w", err)
	}
	return id, nil
}

// SaveSchedule stores an optimizer result and returns its run id
func (s *Store) SaveSchedule(schedule engine.Schedule) (string, error) {
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return "", fmt.Errorf("encoding schedule: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO schedules (id, date, grid_price, solar_coverage, total_savings, schedule, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, id, schedule.Date.Format("2006-01-02"), schedule.GridPricePerKWh,
		schedule.SolarCoverage, schedule.TotalSavings, string(scheduleJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("saving schedule: %w", err)
	}
	return id, nil
}

// LatestSchedule returns the most recently stored schedule or ErrNotFound
func (s *Store) LatestSchedule() (ScheduleRecord, error) {
	query := `SELECT id, schedule, created_at FROM schedules ORDER BY rowid DESC LIMIT 1`

	var rec ScheduleRecord
	var scheduleJSON, created string
	err := s.db.QueryRow(query).Scan(&rec.ID, &scheduleJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleRecord{}, fmt.Errorf("schedule: %w", ErrNotFound)
	}
	if err != nil {
		return ScheduleRecord{}, fmt.Errorf("loading schedule: %w", err)
	}

	if err := json.Unmarshal([]byte(scheduleJSON), &rec.Schedule); err != nil {
		return ScheduleRecord{}, fmt.Errorf("decoding schedule %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return ScheduleRecord{}, fmt.Errorf("parsing schedule %s timestamp: %w", rec.ID, err)
	}
	return rec, nil
}

// RecordPlan persists a completed planning run
func (s *Store) RecordPlan(_ context.Context, curve engine.DailyProductionCurve, schedule engine.Schedule) error {
	if _, err := s.SaveForecast(curve); err != nil {
		return err
	}
	_, err := s.SaveSchedule(schedule)
	return err
}
