package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Record is one student row from the school information system.
type Record struct {
	StudentNo string
	FullName  string
}

// Reader pulls student identities out of the school system's MySQL database.
// Access is read-only; the school system stays the authority on who exists.
type Reader struct {
	db *sql.DB
}

// NewReader opens a connection pool to the school system.
func NewReader(dsn string) (*Reader, error) {
	if dsn == "" {
		return nil, errors.New("roster MySQL DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping roster database: %w", err)
	}

	return &Reader{db: db}, nil
}

// Students returns every student in the roster ordered by student number.
// Rows with an empty number or name are skipped.
func (r *Reader) Students(ctx context.Context) ([]Record, error) {
	query := `
		SELECT student_no, full_name
		FROM students
		ORDER BY student_no
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.StudentNo, &rec.FullName); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if rec.StudentNo == "" || rec.FullName == "" {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// Close closes the connection pool.
func (r *Reader) Close() error {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			return fmt.Errorf("closing roster connection: %w", err)
		}
	}
	return nil
}
