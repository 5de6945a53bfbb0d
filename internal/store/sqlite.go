package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"temple-safety/internal/status"
	"temple-safety/models"
)

// SQLiteStore persists state in a single local database file. Times are
// stored as unix nanoseconds so range filters and ordering stay numeric.
type SQLiteStore struct {
	db        *dbx.DB
	retention int
}

var _ Store = (*SQLiteStore)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		current_occupancy INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS queue_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		site_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		visitor_name TEXT NOT NULL,
		visitor_phone TEXT NOT NULL,
		group_size INTEGER NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		estimated_wait_minutes INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_entries_site ON queue_entries (site_id, status, seq)`,
	`CREATE TABLE IF NOT EXISTS emergencies (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		reporter_name TEXT NOT NULL DEFAULT '',
		reporter_phone TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergencies_created ON emergencies (created_at)`,
	`CREATE TABLE IF NOT EXISTS crowd_analytics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id TEXT NOT NULL,
		crowd_count INTEGER NOT NULL,
		density TEXT NOT NULL,
		alert_level TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crowd_analytics_site ON crowd_analytics (site_id, id)`,
}

func OpenSQLiteStore(ctx context.Context, path string, retention int) (*SQLiteStore, error) {
	if path == "" {
		path = "temple_safety.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := dbx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writers serialized inside the process.
	db.DB().SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &SQLiteStore{db: db, retention: retention}, nil
}

type siteRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	Location         string `db:"location"`
	Capacity         int    `db:"capacity"`
	CurrentOccupancy int    `db:"current_occupancy"`
	Status           string `db:"status"`
	Version          int64  `db:"version"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r siteRow) model() models.Site {
	return models.Site{
		ID:               r.ID,
		Name:             r.Name,
		Location:         r.Location,
		Capacity:         r.Capacity,
		CurrentOccupancy: r.CurrentOccupancy,
		Status:           models.SiteStatus(r.Status),
		Version:          r.Version,
		CreatedAt:        fromNanos(r.CreatedAt),
		UpdatedAt:        fromNanos(r.UpdatedAt),
	}
}

type entryRow struct {
	Seq                  int64  `db:"seq"`
	ID                   string `db:"id"`
	SiteID               string `db:"site_id"`
	Token                string `db:"token"`
	VisitorName          string `db:"visitor_name"`
	VisitorPhone         string `db:"visitor_phone"`
	GroupSize            int    `db:"group_size"`
	Priority             string `db:"priority"`
	Status               string `db:"status"`
	EstimatedWaitMinutes int    `db:"estimated_wait_minutes"`
	CreatedAt            int64  `db:"created_at"`
	UpdatedAt            int64  `db:"updated_at"`
}

func (r entryRow) model() models.QueueEntry {
	return models.QueueEntry{
		ID:                   r.ID,
		Seq:                  r.Seq,
		SiteID:               r.SiteID,
		Token:                r.Token,
		VisitorName:          r.VisitorName,
		VisitorPhone:         r.VisitorPhone,
		GroupSize:            r.GroupSize,
		Priority:             models.QueuePriority(r.Priority),
		Status:               models.QueueStatus(r.Status),
		EstimatedWaitMinutes: r.EstimatedWaitMinutes,
		CreatedAt:            fromNanos(r.CreatedAt),
		UpdatedAt:            fromNanos(r.UpdatedAt),
	}
}

type emergencyRow struct {
	ID            string `db:"id"`
	SiteID        string `db:"site_id"`
	Type          string `db:"type"`
	Severity      string `db:"severity"`
	Description   string `db:"description"`
	Status        string `db:"status"`
	Source        string `db:"source"`
	ReporterName  string `db:"reporter_name"`
	ReporterPhone string `db:"reporter_phone"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r emergencyRow) model() models.EmergencyRecord {
	return models.EmergencyRecord{
		ID:          r.ID,
		SiteID:      r.SiteID,
		Type:        models.EmergencyType(r.Type),
		Severity:    models.Severity(r.Severity),
		Description: r.Description,
		Status:      models.EmergencyStatus(r.Status),
		Source:      models.EmergencySource(r.Source),
		Reporter:    models.Reporter{Name: r.ReporterName, Phone: r.ReporterPhone},
		CreatedAt:   fromNanos(r.CreatedAt),
		UpdatedAt:   fromNanos(r.UpdatedAt),
	}
}

type snapshotRow struct {
	ID         int64  `db:"id"`
	SiteID     string `db:"site_id"`
	CrowdCount int    `db:"crowd_count"`
	Density    string `db:"density"`
	AlertLevel string `db:"alert_level"`
	Timestamp  int64  `db:"timestamp"`
}

func (s *SQLiteStore) CreateSite(ctx context.Context, site models.Site) (models.Site, error) {
	site.Version = 1
	_, err := s.db.Insert("sites", dbx.Params{
		"id":                site.ID,
		"name":              site.Name,
		"location":          site.Location,
		"capacity":          site.Capacity,
		"current_occupancy": site.CurrentOccupancy,
		"status":            string(site.Status),
		"version":           site.Version,
		"created_at":        toNanos(site.CreatedAt),
		"updated_at":        toNanos(site.UpdatedAt),
	}).WithContext(ctx).Execute()
	if isUniqueViolation(err) {
		return models.Site{}, status.ErrSiteExists
	}
	if err != nil {
		return models.Site{}, fmt.Errorf("create site %s: %w", site.ID, err)
	}
	return site, nil
}

func (s *SQLiteStore) GetSite(ctx context.Context, id string) (models.Site, error) {
	var row siteRow
	err := s.db.Select("*").From("sites").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Site{}, status.ErrSiteNotFound
	}
	if err != nil {
		return models.Site{}, fmt.Errorf("get site %s: %w", id, err)
	}
	return row.model(), nil
}

func (s *SQLiteStore) ListSites(ctx context.Context) ([]models.Site, error) {
	var rows []siteRow
	if err := s.db.Select("*").From("sites").OrderBy("id ASC").WithContext(ctx).All(&rows); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sites := make([]models.Site, 0, len(rows))
	for _, r := range rows {
		sites = append(sites, r.model())
	}
	return sites, nil
}

func (s *SQLiteStore) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	res, err := s.db.Update("sites", dbx.Params{
		"name":              site.Name,
		"location":          site.Location,
		"capacity":          site.Capacity,
		"current_occupancy": site.CurrentOccupancy,
		"status":            string(site.Status),
		"version":           site.Version + 1,
		"updated_at":        toNanos(site.UpdatedAt),
	}, dbx.HashExp{"id": site.ID, "version": site.Version}).WithContext(ctx).Execute()
	if err != nil {
		return models.Site{}, fmt.Errorf("update site %s: %w", site.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.Site{}, err
	}
	if n == 0 {
		if _, err := s.GetSite(ctx, site.ID); err != nil {
			return models.Site{}, err
		}
		return models.Site{}, status.ErrVersionConflict
	}
	return s.GetSite(ctx, site.ID)
}

func (s *SQLiteStore) CreateEntry(ctx context.Context, entry models.QueueEntry) (models.QueueEntry, error) {
	res, err := s.db.Insert("queue_entries", dbx.Params{
		"id":                     entry.ID,
		"site_id":                entry.SiteID,
		"token":                  entry.Token,
		"visitor_name":           entry.VisitorName,
		"visitor_phone":          entry.VisitorPhone,
		"group_size":             entry.GroupSize,
		"priority":               string(entry.Priority),
		"status":                 string(entry.Status),
		"estimated_wait_minutes": entry.EstimatedWaitMinutes,
		"created_at":             toNanos(entry.CreatedAt),
		"updated_at":             toNanos(entry.UpdatedAt),
	}).WithContext(ctx).Execute()
	if isUniqueViolation(err) {
		return models.QueueEntry{}, status.ErrDuplicateToken
	}
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("create entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry.Seq = seq
	return entry, nil
}

func (s *SQLiteStore) GetEntryByToken(ctx context.Context, token string) (models.QueueEntry, error) {
	var row entryRow
	err := s.db.Select("*").From("queue_entries").Where(dbx.HashExp{"token": token}).WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueEntry{}, status.ErrEntryNotFound
	}
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("get entry %s: %w", token, err)
	}
	return row.model(), nil
}

func (s *SQLiteStore) UpdateEntry(ctx context.Context, entry models.QueueEntry) error {
	res, err := s.db.Update("queue_entries", dbx.Params{
		"visitor_name":           entry.VisitorName,
		"visitor_phone":          entry.VisitorPhone,
		"group_size":             entry.GroupSize,
		"priority":               string(entry.Priority),
		"status":                 string(entry.Status),
		"estimated_wait_minutes": entry.EstimatedWaitMinutes,
		"updated_at":             toNanos(entry.UpdatedAt),
	}, dbx.HashExp{"id": entry.ID, "token": entry.Token}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("update entry %s: %w", entry.Token, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return status.ErrEntryNotFound
	}
	return nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, siteID string, statuses ...models.QueueStatus) ([]models.QueueEntry, error) {
	q := s.db.Select("*").From("queue_entries").Where(dbx.HashExp{"site_id": siteID})
	if len(statuses) > 0 {
		values := make([]any, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		q.AndWhere(dbx.In("status", values...))
	}

	var rows []entryRow
	if err := q.OrderBy("seq ASC").WithContext(ctx).All(&rows); err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", siteID, err)
	}
	entries := make([]models.QueueEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.model())
	}
	return entries, nil
}

func emergencyParams(record models.EmergencyRecord) dbx.Params {
	return dbx.Params{
		"site_id":        record.SiteID,
		"type":           string(record.Type),
		"severity":       string(record.Severity),
		"description":    record.Description,
		"status":         string(record.Status),
		"source":         string(record.Source),
		"reporter_name":  record.Reporter.Name,
		"reporter_phone": record.Reporter.Phone,
		"created_at":     toNanos(record.CreatedAt),
		"updated_at":     toNanos(record.UpdatedAt),
	}
}

func (s *SQLiteStore) CreateEmergency(ctx context.Context, record models.EmergencyRecord) error {
	params := emergencyParams(record)
	params["id"] = record.ID
	if _, err := s.db.Insert("emergencies", params).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("create emergency %s: %w", record.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEmergency(ctx context.Context, id string) (models.EmergencyRecord, error) {
	var row emergencyRow
	err := s.db.Select("*").From("emergencies").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmergencyRecord{}, status.ErrEmergencyNotFound
	}
	if err != nil {
		return models.EmergencyRecord{}, fmt.Errorf("get emergency %s: %w", id, err)
	}
	return row.model(), nil
}

func (s *SQLiteStore) UpdateEmergency(ctx context.Context, record models.EmergencyRecord) error {
	res, err := s.db.Update("emergencies", emergencyParams(record), dbx.HashExp{"id": record.ID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("update emergency %s: %w", record.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return status.ErrEmergencyNotFound
	}
	return nil
}

func (s *SQLiteStore) ListEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.EmergencyRecord, error) {
	where := dbx.HashExp{}
	if filter.SiteID != "" {
		where["site_id"] = filter.SiteID
	}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.Severity != "" {
		where["severity"] = string(filter.Severity)
	}
	if filter.Type != "" {
		where["type"] = string(filter.Type)
	}

	q := s.db.Select("*").From("emergencies").Where(where)
	if filter.ActiveOnly {
		q.AndWhere(dbx.NotIn("status", string(models.EmergencyResolved), string(models.EmergencyFalseAlarm)))
	}
	if !filter.Since.IsZero() {
		q.AndWhere(dbx.NewExp("created_at >= {:since}", dbx.Params{"since": toNanos(filter.Since)}))
	}

	var rows []emergencyRow
	if err := q.OrderBy("created_at DESC", "id DESC").WithContext(ctx).All(&rows); err != nil {
		return nil, fmt.Errorf("list emergencies: %w", err)
	}
	records := make([]models.EmergencyRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.model())
	}
	return records, nil
}

func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snapshot models.AnalyticsSnapshot) error {
	_, err := s.db.Insert("crowd_analytics", dbx.Params{
		"site_id":     snapshot.SiteID,
		"crowd_count": snapshot.CrowdCount,
		"density":     snapshot.Density.String(),
		"alert_level": string(snapshot.AlertLevel),
		"timestamp":   toNanos(snapshot.Timestamp),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("append snapshot for %s: %w", snapshot.SiteID, err)
	}

	if s.retention > 0 {
		_, err = s.db.NewQuery(`DELETE FROM crowd_analytics WHERE site_id = {:site} AND id NOT IN (
			SELECT id FROM crowd_analytics WHERE site_id = {:site} ORDER BY id DESC LIMIT {:keep})`).
			Bind(dbx.Params{"site": snapshot.SiteID, "keep": s.retention}).
			WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("trim snapshots for %s: %w", snapshot.SiteID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, siteID string, limit int) ([]models.AnalyticsSnapshot, error) {
	q := s.db.Select("*").From("crowd_analytics").Where(dbx.HashExp{"site_id": siteID}).OrderBy("id DESC")
	if limit > 0 {
		q.Limit(int64(limit))
	}

	var rows []snapshotRow
	if err := q.WithContext(ctx).All(&rows); err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", siteID, err)
	}
	snapshots := make([]models.AnalyticsSnapshot, 0, len(rows))
	for _, r := range rows {
		density, err := decimal.NewFromString(r.Density)
		if err != nil {
			return nil, fmt.Errorf("decode density %q: %w", r.Density, err)
		}
		snapshots = append(snapshots, models.AnalyticsSnapshot{
			SiteID:     r.SiteID,
			CrowdCount: r.CrowdCount,
			Density:    density,
			AlertLevel: models.AlertLevel(r.AlertLevel),
			Timestamp:  fromNanos(r.Timestamp),
		})
	}
	return snapshots, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.DB().PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
