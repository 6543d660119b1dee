// Package store implements the disk-backed intermediate tables modules
// spool into during the pull phase and the run manager joins from during
// output. Tables are per-run, namespaced by a shop-derived prefix, and
// dropped on every exit path unless the run keeps them for debugging.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DuplicatePolicy controls what a batched insert does when a row's id
// already exists. Retried pages may replay rows, so pullers normally use
// Update or Ignore.
type DuplicatePolicy int

const (
	Throw DuplicatePolicy = iota
	Update
	Ignore
)

func (p DuplicatePolicy) insertVerb() string {
	switch p {
	case Update:
		return "INSERT OR REPLACE INTO"
	case Ignore:
		return "INSERT OR IGNORE INTO"
	default:
		return "INSERT INTO"
	}
}

// Store owns the run's intermediate database.
type Store struct {
	db     *sql.DB
	prefix string
	tables []string
}

// Open opens (or creates) the intermediate database at path. Use
// ":memory:" for tests. The prefix namespaces every table this run
// creates.
func Open(path string, prefix string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return &Store{db: db, prefix: prefix}, nil
}

// CreateModuleTables creates the module's product and variant tables.
func (s *Store) CreateModuleTables(module string) (*ModuleTables, error) {
	mt := &ModuleTables{
		store:     s,
		prodTable: fmt.Sprintf("%s_%s_prod", s.prefix, module),
		varsTable: fmt.Sprintf("%s_%s_vars", s.prefix, module),
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (id INTEGER PRIMARY KEY, data TEXT)`, mt.prodTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (id INTEGER PRIMARY KEY, parent_id INTEGER, data TEXT)`, mt.varsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_parent" ON "%s" (parent_id)`, mt.varsTable, mt.varsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create %s: %w", module, err)
		}
	}
	s.tables = append(s.tables, mt.prodTable, mt.varsTable)
	return mt, nil
}

// DropAll drops every table this run created.
func (s *Store) DropAll() error {
	var firstErr error
	for _, table := range s.tables {
		if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drop %s: %w", table, err)
		}
	}
	s.tables = nil
	return firstErr
}

// Tables lists the tables created so far.
func (s *Store) Tables() []string {
	out := make([]string, len(s.tables))
	copy(out, s.tables)
	return out
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ModuleTables is one module's pair of staging tables.
type ModuleTables struct {
	store     *Store
	prodTable string
	varsTable string
}

// ProductInserter returns a batch inserter for the product table.
func (mt *ModuleTables) ProductInserter(policy DuplicatePolicy) *Inserter {
	return &Inserter{
		db:      mt.store.db,
		table:   mt.prodTable,
		columns: "(id, data)",
		values:  "(?, ?)",
		verb:    policy.insertVerb(),
	}
}

// VariantInserter returns a batch inserter for the variant table.
func (mt *ModuleTables) VariantInserter(policy DuplicatePolicy) *Inserter {
	return &Inserter{
		db:      mt.store.db,
		table:   mt.varsTable,
		columns: "(id, parent_id, data)",
		values:  "(?, ?, ?)",
		verb:    policy.insertVerb(),
	}
}

// ProductCount returns the number of staged products.
func (mt *ModuleTables) ProductCount() (int64, error) {
	var n int64
	err := mt.store.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, mt.prodTable)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", mt.prodTable, err)
	}
	return n, nil
}

// ProductData fetches one staged product payload.
func (mt *ModuleTables) ProductData(id int64) ([]byte, bool, error) {
	var data []byte
	err := mt.store.db.QueryRow(fmt.Sprintf(`SELECT data FROM "%s" WHERE id = ?`, mt.prodTable), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", mt.prodTable, err)
	}
	return data, true, nil
}

// VariantData fetches one staged variant payload.
func (mt *ModuleTables) VariantData(id int64) ([]byte, bool, error) {
	var data []byte
	err := mt.store.db.QueryRow(fmt.Sprintf(`SELECT data FROM "%s" WHERE id = ?`, mt.varsTable), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", mt.varsTable, err)
	}
	return data, true, nil
}

// Row is one staged record.
type Row struct {
	ID       int64
	ParentID int64
	Data     []byte
}

// Products iterates the product table in ascending id order.
func (mt *ModuleTables) Products() (*Cursor, error) {
	rows, err := mt.store.db.Query(fmt.Sprintf(`SELECT id, data FROM "%s" ORDER BY id ASC`, mt.prodTable))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", mt.prodTable, err)
	}
	return &Cursor{rows: rows, hasParent: false}, nil
}

// ProductsPage returns up to limit products with id > afterID, ascending.
// The output join pages through the table with this instead of pinning a
// connection on a long-lived cursor.
func (mt *ModuleTables) ProductsPage(afterID int64, limit int) ([]Row, error) {
	rows, err := mt.store.db.Query(
		fmt.Sprintf(`SELECT id, data FROM "%s" WHERE id > ? ORDER BY id ASC LIMIT ?`, mt.prodTable), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", mt.prodTable, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", mt.prodTable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VariantsFor returns the staged variants of one parent, ascending by id.
func (mt *ModuleTables) VariantsFor(parentID int64) ([]Row, error) {
	rows, err := mt.store.db.Query(
		fmt.Sprintf(`SELECT id, parent_id, data FROM "%s" WHERE parent_id = ? ORDER BY id ASC`, mt.varsTable), parentID)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", mt.varsTable, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", mt.varsTable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cursor walks a staged table one row at a time.
type Cursor struct {
	rows      *sql.Rows
	hasParent bool
}

// Next returns the next row, or nil at the end of the table.
func (c *Cursor) Next() (*Row, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	var r Row
	var err error
	if c.hasParent {
		err = c.rows.Scan(&r.ID, &r.ParentID, &r.Data)
	} else {
		err = c.rows.Scan(&r.ID, &r.Data)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.rows.Close()
}
