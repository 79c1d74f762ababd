package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"dealfinder/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists alerts as a whole collection.
type Store interface {
	// Load returns every alert in creation order.
	Load(ctx context.Context) ([]models.Alert, error)
	// SaveAll writes the given alerts, replacing stored records with the same id.
	// Records not present in alerts are left untouched.
	SaveAll(ctx context.Context, alerts []models.Alert) error
	// Append adds a new alert.
	Append(ctx context.Context, alert models.Alert) error
	Close() error
}

// DB is the sqlite-backed Store.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// New opens (and creates if needed) the sqlite database at dbPath.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("alert database ready", "path", dbPath)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS alerts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		sku TEXT NOT NULL,
		retail_price TEXT NOT NULL,
		discount_rate TEXT NOT NULL DEFAULT '0',
		target_price TEXT NOT NULL,
		stores TEXT NOT NULL,
		chat_id INTEGER NOT NULL DEFAULT 0,
		email TEXT NOT NULL DEFAULT '',
		notified BOOLEAN NOT NULL DEFAULT 0,
		trigger_time DATETIME,
		created_at DATETIME NOT NULL
	);
	`

	if _, err := db.conn.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create alerts table: %w", err)
	}

	// Databases created before email notifications lack the column.
	_, err := db.conn.Exec("ALTER TABLE alerts ADD COLUMN email TEXT NOT NULL DEFAULT ''")
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return fmt.Errorf("add email column: %w", err)
	}
	return nil
}

// Load returns every alert ordered by insertion.
func (db *DB) Load(ctx context.Context) ([]models.Alert, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.QueryContext(ctx, "SELECT id, url, sku, retail_price, discount_rate, target_price, stores, chat_id, email, notified, trigger_time, created_at FROM alerts ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var stores string
		var triggerTime sql.NullTime
		err := rows.Scan(&a.ID, &a.URL, &a.SKU, &a.RetailPrice, &a.DiscountRate, &a.TargetPrice, &stores, &a.ChatID, &a.Email, &a.Notified, &triggerTime, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(stores), &a.Stores); err != nil {
			return nil, fmt.Errorf("decode stores of alert %s: %w", a.ID, err)
		}
		if triggerTime.Valid {
			t := triggerTime.Time
			a.TriggerTime = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// SaveAll upserts the alerts in a single transaction.
func (db *DB) SaveAll(ctx context.Context, alerts []models.Alert) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (id, url, sku, retail_price, discount_rate, target_price, stores, chat_id, email, notified, trigger_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			sku = excluded.sku,
			retail_price = excluded.retail_price,
			discount_rate = excluded.discount_rate,
			target_price = excluded.target_price,
			stores = excluded.stores,
			chat_id = excluded.chat_id,
			email = excluded.email,
			notified = excluded.notified,
			trigger_time = excluded.trigger_time`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		if err := execUpsert(ctx, stmt, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Append inserts a new alert.
func (db *DB) Append(ctx context.Context, alert models.Alert) error {
	return db.SaveAll(ctx, []models.Alert{alert})
}

func execUpsert(ctx context.Context, stmt *sql.Stmt, a models.Alert) error {
	stores, err := json.Marshal(a.Stores)
	if err != nil {
		return fmt.Errorf("encode stores of alert %s: %w", a.ID, err)
	}
	var triggerTime sql.NullTime
	if a.TriggerTime != nil {
		triggerTime = sql.NullTime{Time: *a.TriggerTime, Valid: true}
	}
	_, err = stmt.ExecContext(ctx,
		a.ID, a.URL, a.SKU,
		a.RetailPrice.String(), a.DiscountRate.String(), a.TargetPrice.String(),
		string(stores), a.ChatID, a.Email, a.Notified, triggerTime, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	return nil
}
