// Package ledgerdb is the sqlite-backed ledger store: characters,
// inventories, proficiencies, buildings, the append-only ledger and
// the deferred-task queue, all mutated through guild-scoped
// transactions.
package ledgerdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kaironbot/economy/internal/economy/character"
	"github.com/kaironbot/economy/internal/economy/schedule"
	"github.com/kaironbot/economy/internal/economy/txn"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite serializes anyway, and this guarantees
	// two commits against the same character never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			money TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_guild_player ON characters(guild_id, player_id, status);`,
		`CREATE TABLE IF NOT EXISTS inventory (
			character_id TEXT NOT NULL,
			item TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty >= 0),
			PRIMARY KEY (character_id, item)
		);`,
		`CREATE TABLE IF NOT EXISTS proficiencies (
			character_id TEXT NOT NULL,
			proficiency TEXT NOT NULL,
			PRIMARY KEY (character_id, proficiency)
		);`,
		`CREATE TABLE IF NOT EXISTS buildings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			character_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type_key TEXT NOT NULL,
			tier INTEGER NOT NULL,
			active INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_buildings_character ON buildings(character_id, type_key);`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			character_id TEXT NOT NULL,
			at TEXT NOT NULL,
			operation TEXT NOT NULL,
			direction TEXT NOT NULL,
			args_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_character ON ledger(guild_id, character_id, id);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			scheduled_at TEXT NOT NULL,
			due_at TEXT NOT NULL,
			args_json TEXT NOT NULL,
			failure TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(state, due_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Transaction runs fn inside one sqlite transaction scoped to a
// guild. fn's effects are durable iff it returns nil; a panic inside
// fn is converted to an error rather than lost, so the caller still
// sees the cause.
func (s *Store) Transaction(ctx context.Context, guildID string, fn func(txn.Tx) error) (err error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = dbtx.Rollback()
			err = fmt.Errorf("transaction panic: %v", p)
		}
	}()

	h := &Tx{q: dbtx, guildID: guildID, now: s.now, ctx: ctx}
	if err := fn(h); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// so character loading works both inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ActiveCharacter loads the single active character a player controls
// in a guild.
func (s *Store) ActiveCharacter(ctx context.Context, guildID, playerID string) (character.Character, error) {
	return loadActiveCharacter(ctx, s.db, guildID, playerID)
}

// CharacterByID loads one character regardless of status.
func (s *Store) CharacterByID(ctx context.Context, guildID, id string) (character.Character, error) {
	return loadCharacter(ctx, s.db,
		`SELECT id, guild_id, player_id, name, status, money FROM characters WHERE guild_id = ? AND id = ?`,
		guildID, id)
}

// SaveCharacter inserts or replaces a full character sheet. Character
// creation itself belongs to the guild-management collaborator; this
// entry point serves it and test fixtures.
func (s *Store) SaveCharacter(ctx context.Context, ch character.Character) error {
	return s.Transaction(ctx, ch.GuildID, func(h txn.Tx) error {
		t := h.(*Tx)
		return t.saveCharacter(ctx, ch)
	})
}

// LedgerEntries returns a character's ledger in append order.
func (s *Store) LedgerEntries(ctx context.Context, guildID, characterID string) ([]txn.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, operation, direction, args_json FROM ledger
		 WHERE guild_id = ? AND character_id = ? ORDER BY id`,
		guildID, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []txn.LedgerEntry
	for rows.Next() {
		var at, argsJSON string
		var e txn.LedgerEntry
		if err := rows.Scan(&at, &e.Operation, &e.Direction, &argsJSON); err != nil {
			return nil, err
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("ledger row: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &e.Args); err != nil {
			return nil, fmt.Errorf("ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DueTasks returns SCHEDULED tasks with due_at <= now, oldest first.
func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]schedule.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, type, state, scheduled_at, due_at, args_json, failure FROM tasks
		 WHERE state = ? AND due_at <= ? ORDER BY due_at LIMIT ?`,
		schedule.StateScheduled, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Task loads one task by id.
func (s *Store) Task(ctx context.Context, id string) (schedule.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, type, state, scheduled_at, due_at, args_json, failure FROM tasks WHERE id = ?`, id)
	if err != nil {
		return schedule.Task{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return schedule.Task{}, err
		}
		return schedule.Task{}, sql.ErrNoRows
	}
	return scanTask(rows)
}

func scanTask(rows *sql.Rows) (schedule.Task, error) {
	var t schedule.Task
	var scheduledAt, dueAt, argsJSON string
	if err := rows.Scan(&t.ID, &t.GuildID, &t.Type, &t.State, &scheduledAt, &dueAt, &argsJSON, &t.Failure); err != nil {
		return t, err
	}
	var err error
	if t.ScheduledAt, err = time.Parse(time.RFC3339Nano, scheduledAt); err != nil {
		return t, fmt.Errorf("task row: %w", err)
	}
	if t.DueAt, err = time.Parse(time.RFC3339Nano, dueAt); err != nil {
		return t, fmt.Errorf("task row: %w", err)
	}
	if err := json.Unmarshal([]byte(argsJSON), &t.Args); err != nil {
		return t, fmt.Errorf("task row: %w", err)
	}
	return t, nil
}
