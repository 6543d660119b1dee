package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// batchSize is the number of rows buffered before a multi-value insert is
// issued.
const batchSize = 500

// Inserter buffers rows and writes them in multi-value statements. Not
// safe for concurrent use; each worker builds its own.
type Inserter struct {
	db      *sql.DB
	table   string
	columns string
	values  string
	verb    string

	args  []interface{}
	count int
}

// AddProduct buffers one (id, data) row.
func (in *Inserter) AddProduct(id int64, data []byte) error {
	in.args = append(in.args, id, string(data))
	in.count++
	return in.maybeFlush()
}

// AddVariant buffers one (id, parent_id, data) row.
func (in *Inserter) AddVariant(id, parentID int64, data []byte) error {
	in.args = append(in.args, id, parentID, string(data))
	in.count++
	return in.maybeFlush()
}

func (in *Inserter) maybeFlush() error {
	if in.count >= batchSize {
		return in.Flush()
	}
	return nil
}

// Flush writes any buffered rows.
func (in *Inserter) Flush() error {
	if in.count == 0 {
		return nil
	}
	placeholders := make([]string, in.count)
	for i := range placeholders {
		placeholders[i] = in.values
	}
	stmt := fmt.Sprintf(`%s "%s" %s VALUES %s`, in.verb, in.table, in.columns, strings.Join(placeholders, ", "))

	_, err := in.db.Exec(stmt, in.args...)
	in.args = in.args[:0]
	in.count = 0
	if err != nil {
		return fmt.Errorf("insert %s: %w", in.table, err)
	}
	return nil
}
