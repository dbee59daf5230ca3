package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultTable is the corpus table used when none is configured.
const DefaultTable = "images"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens a SQLite database with the pure-Go driver.
func OpenSQLite(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn)
}

// SQLiteSource reads a corpus from a table with the columns
// id TEXT, label TEXT and embedding BLOB (little-endian float32 values).
type SQLiteSource struct {
	DB    *sql.DB
	Table string
}

func (s SQLiteSource) table() (string, error) {
	t := s.Table
	if t == "" {
		t = DefaultTable
	}
	if !tableName.MatchString(t) {
		return "", fmt.Errorf("invalid table name %q", t)
	}
	return t, nil
}

// Records loads every row ordered by rowid, so insertion order is preserved.
func (s SQLiteSource) Records(ctx context.Context) ([]Record, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("sqlite source: db is nil")
	}
	table, err := s.table()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, COALESCE(label, ''), embedding FROM `+table+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.Label, &blob); err != nil {
			return nil, err
		}
		if r.Vector, err = DecodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Info().Msgf("Loaded %d rows from sqlite table %s", len(out), table)
	return out, nil
}

// SaveSQLite creates the corpus table if needed and inserts records in one
// transaction, replacing rows with the same id.
func SaveSQLite(ctx context.Context, db *sql.DB, table string, records []Record) error {
	src := SQLiteSource{DB: db, Table: table}
	table, err := src.table()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
    id        TEXT PRIMARY KEY,
    label     TEXT,
    embedding BLOB NOT NULL
)`); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO `+table+`(id, label, embedding) VALUES(?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Label, EncodeEmbedding(r.Vector)); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info().Msgf("Saved %d records to sqlite table %s", len(records), table)
	return nil
}

// EncodeEmbedding encodes a vector as little-endian IEEE 754 float32 values
// without a length prefix.
func EncodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
