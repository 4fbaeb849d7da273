// Package schema defines the event database schema and its one-time bootstrap.
package schema

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/pkg/types"
)

// DropTablesSQL removes every table, children first so cascades never fire
// against a half-dropped parent.
var DropTablesSQL = []string{
	`DROP TABLE IF EXISTS UserNeed`,
	`DROP TABLE IF EXISTS Click`,
	`DROP TABLE IF EXISTS PageView`,
	`DROP TABLE IF EXISTS Event`,
	`DROP TABLE IF EXISTS EventType`,
	`DROP TABLE IF EXISTS "Session"`,
	`DROP TABLE IF EXISTS "User"`,
}

const CreateUserTableSQL = `
CREATE TABLE "User" (
    user_id VARCHAR(100) PRIMARY KEY,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const CreateSessionTableSQL = `
CREATE TABLE "Session" (
    session_id VARCHAR(100) PRIMARY KEY,
    user_id VARCHAR(100) NOT NULL,
    start_time TIMESTAMP NOT NULL,
    FOREIGN KEY (user_id) REFERENCES "User"(user_id) ON DELETE CASCADE
)`

const CreateEventTypeTableSQL = `
CREATE TABLE EventType (
    event_type_id VARCHAR(20) PRIMARY KEY
)`

// CreateEventTableSQL creates the Event table. event_type_id names a row of
// EventType but carries no enforced constraint: clients may send types the
// collector does not know, and those events are kept without a detail row.
const CreateEventTableSQL = `
CREATE TABLE Event (
    event_id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(100) NOT NULL,
    event_type_id VARCHAR(20) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES "Session"(session_id) ON DELETE CASCADE
)`

const CreatePageViewTableSQL = `
CREATE TABLE PageView (
    event_id INTEGER PRIMARY KEY,
    url TEXT,
    title TEXT,
    referrer TEXT,
    viewport_width INTEGER,
    viewport_height INTEGER,
    FOREIGN KEY (event_id) REFERENCES Event(event_id) ON DELETE CASCADE
)`

const CreateClickTableSQL = `
CREATE TABLE Click (
    event_id INTEGER PRIMARY KEY,
    tag VARCHAR(50),
    element_id VARCHAR(100),
    class_list TEXT,
    text TEXT,
    href TEXT,
    x INTEGER,
    y INTEGER,
    scroll_position INTEGER,
    time_on_page REAL,
    FOREIGN KEY (event_id) REFERENCES Event(event_id) ON DELETE CASCADE
)`

const CreateUserNeedTableSQL = `
CREATE TABLE UserNeed (
    event_id INTEGER PRIMARY KEY,
    message TEXT,
    FOREIGN KEY (event_id) REFERENCES Event(event_id) ON DELETE CASCADE
)`

// Indexes backing the dashboard queries.
var CreateIndexesSQL = []string{
	`CREATE INDEX idx_event_timestamp ON Event(timestamp)`,
	`CREATE INDEX idx_event_session ON Event(session_id)`,
	`CREATE INDEX idx_session_user ON "Session"(user_id)`,
}

const seedEventTypeSQL = `INSERT INTO EventType (event_type_id) VALUES (?)`

// TableNames lists the seven tables in creation order.
var TableNames = []string{"User", "Session", "EventType", "Event", "PageView", "Click", "UserNeed"}

// Statements returns the DDL executed by Initialize, in order. Seeding is
// parameterized and runs after these.
func Statements() []string {
	statements := append([]string{}, DropTablesSQL...)
	statements = append(statements,
		CreateUserTableSQL,
		CreateSessionTableSQL,
		CreateEventTypeTableSQL,
		CreateEventTableSQL,
		CreatePageViewTableSQL,
		CreateClickTableSQL,
		CreateUserNeedTableSQL,
	)
	return append(statements, CreateIndexesSQL...)
}

// Initialize drops and recreates every table and seeds EventType, in a single
// transaction. Any existing data is lost.
func Initialize(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError(apperrors.CodeSchemaFailed, "begin schema transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorageError(apperrors.CodeSchemaFailed, "execute schema statement", err)
		}
	}

	for _, id := range types.SeededEventTypes {
		if _, err := tx.ExecContext(ctx, seedEventTypeSQL, id); err != nil {
			return apperrors.NewStorageError(apperrors.CodeSchemaFailed, fmt.Sprintf("seed event type %s", id), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError(apperrors.CodeSchemaFailed, "commit schema", err)
	}
	return nil
}

// Exists reports whether the database file at path is already present.
// Must be checked before the store is opened, since opening creates the file.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.NewStorageError(apperrors.CodeOpenFailed, "stat database file", err)
}
