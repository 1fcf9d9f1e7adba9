package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	// sqlite driver
	_ "modernc.org/sqlite"
)

type fileFormat struct {
	Counters []Counter `json:"counters"`
	Devices  []Device  `json:"devices"`
}

// LoadJSON reads {"counters": [...], "devices": [...]} from path.
func LoadJSON(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	return New(f.Counters, f.Devices)
}

// OpenSQLite opens a sqlite master-data file with the modernc driver.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Schema creates the tables LoadSQL reads. Existing tables are kept.
const Schema = `
CREATE TABLE IF NOT EXISTS counters (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	type   TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS devices (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	counter_code  TEXT NOT NULL REFERENCES counters(code),
	location_code TEXT NOT NULL DEFAULT '',
	segment_code  TEXT NOT NULL DEFAULT ''
);
`

// LoadSQL reads counters and devices from db.
func LoadSQL(ctx context.Context, db *sql.DB) (*Directory, error) {
	rows, err := db.QueryContext(ctx, `SELECT code, name, type, active FROM counters ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	var counters []Counter
	for rows.Next() {
		var c Counter
		var active int
		if err := rows.Scan(&c.Code, &c.Name, &c.Type, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		c.Active = active != 0
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT id, name, counter_code, location_code, segment_code FROM devices ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()
	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.CounterCode, &d.LocationCode, &d.SegmentCode); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}

	return New(counters, devices)
}
