// Package records is the student/address CRUD layer that runs on whichever
// backend is active. Every operation acquires its own connection through the
// router, so work started after a migration lands on the new backend.
package records

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/pool"
)

const (
	studentTable = "student"
	addressTable = "address"
)

// ErrNotFound is returned when no student has the requested id.
var ErrNotFound = errors.New("student not found")

var studentSelect sq.SelectBuilder

func init() {
	studentSelect = sq.
		Select("s.id", "s.name", "a.id AS address_id", "a.sid", "a.address").
		From(studentTable + " s").
		Join(addressTable + " a ON s.id = a.sid").
		OrderBy("s.id")
}

// Address is the single address stored for a student.
type Address struct {
	ID        int64  `json:"id"`
	StudentID int64  `json:"student_id"`
	Address   string `json:"address"`
}

// Student is a student record together with its address.
type Student struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// Counts holds the row totals of both tables.
type Counts struct {
	Students  int64 `json:"students"`
	Addresses int64 `json:"addresses"`
}

type studentRow struct {
	ID        int64          `db:"id"`
	Name      string         `db:"name"`
	AddressID int64          `db:"address_id"`
	SID       int64          `db:"sid"`
	Address   sql.NullString `db:"address"`
}

func (r studentRow) student() Student {
	return Student{
		ID:   r.ID,
		Name: r.Name,
		Address: Address{
			ID:        r.AddressID,
			StudentID: r.SID,
			Address:   r.Address.String,
		},
	}
}

// Acquirer hands out a connection of the active backend for one unit of
// work. router.Router satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (pool.Lease, backend.ID, error)
}

// Store runs record queries on the active backend.
type Store struct {
	acquirer Acquirer
	logger   log.FieldLogger
}

// NewStore returns a store that acquires connections from acquirer.
func NewStore(acquirer Acquirer, logger log.FieldLogger) *Store {
	return &Store{acquirer: acquirer, logger: logger}
}

// withLease runs fn on a connection of the active backend and reports which
// backend served it. The connection is released before withLease returns.
func (s *Store) withLease(ctx context.Context, fn func(pool.Lease) error) (backend.ID, error) {
	lease, id, err := s.acquirer.Acquire(ctx)
	if err != nil {
		return id, errors.Wrap(err, "failed to acquire connection")
	}
	defer lease.Close()

	return id, fn(lease)
}

// Save inserts the student and its address in one transaction and returns
// them with their generated ids.
func (s *Store) Save(ctx context.Context, student Student) (Student, backend.ID, error) {
	id, err := s.withLease(ctx, func(lease pool.Lease) error {
		tx, err := lease.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin transaction")
		}
		defer tx.Rollback()

		student.ID, err = insertReturningID(ctx, tx, sq.
			Insert(studentTable).
			Columns("name").
			Values(student.Name),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to save student %s", student.Name)
		}

		student.Address.StudentID = student.ID
		student.Address.ID, err = insertReturningID(ctx, tx, sq.
			Insert(addressTable).
			Columns("sid", "address").
			Values(student.ID, student.Address.Address),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to save address for student %s[%d]", student.Name, student.ID)
		}

		return errors.Wrap(tx.Commit(), "failed to commit student")
	})
	if err != nil {
		return Student{}, id, err
	}

	s.logger.WithFields(log.Fields{
		"student": student.ID,
		"address": student.Address.ID,
		"backend": id,
	}).Infof("Saved student %s", student.Name)
	return student, id, nil
}

// FindAll returns every student that has an address.
func (s *Store) FindAll(ctx context.Context) ([]Student, backend.ID, error) {
	var rows []studentRow
	id, err := s.withLease(ctx, func(lease pool.Lease) error {
		return selectBuilder(ctx, lease, &rows, studentSelect)
	})
	if err != nil {
		return nil, id, errors.Wrap(err, "failed to query students")
	}

	students := make([]Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.student())
	}
	s.logger.WithFields(log.Fields{"total": len(students), "backend": id}).Debug("Listed students")
	return students, id, nil
}

// FindByID returns one student. A missing student yields ErrNotFound.
func (s *Store) FindByID(ctx context.Context, studentID int64) (Student, backend.ID, error) {
	var row studentRow
	id, err := s.withLease(ctx, func(lease pool.Lease) error {
		return getBuilder(ctx, lease, &row, studentSelect.Where(sq.Eq{"s.id": studentID}))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, id, errors.Wrapf(ErrNotFound, "id %d", studentID)
	}
	if err != nil {
		return Student{}, id, errors.Wrapf(err, "failed to query student %d", studentID)
	}
	return row.student(), id, nil
}

// Count returns the number of rows in both tables.
func (s *Store) Count(ctx context.Context) (Counts, backend.ID, error) {
	var counts Counts
	id, err := s.withLease(ctx, func(lease pool.Lease) error {
		if err := getBuilder(ctx, lease, &counts.Students, sq.Select("COUNT(1)").From(studentTable)); err != nil {
			return errors.Wrap(err, "failed to count students")
		}
		if err := getBuilder(ctx, lease, &counts.Addresses, sq.Select("COUNT(1)").From(addressTable)); err != nil {
			return errors.Wrap(err, "failed to count addresses")
		}
		return nil
	})
	if err != nil {
		return Counts{}, id, err
	}
	return counts, id, nil
}

// ResetSchema drops and recreates both tables on the active backend.
func (s *Store) ResetSchema(ctx context.Context) (backend.ID, error) {
	id, err := s.withLease(ctx, func(lease pool.Lease) error {
		for _, stmt := range schemaFor(lease.DriverName()) {
			if _, err := lease.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "failed to run %q", stmt)
			}
		}
		return nil
	})
	if err != nil {
		return id, err
	}
	s.logger.WithField("backend", id).Info("Record schema reset")
	return id, nil
}

func schemaFor(driver string) []string {
	drop := []string{
		"DROP TABLE IF EXISTS " + addressTable,
		"DROP TABLE IF EXISTS " + studentTable,
	}
	if driver == pool.DriverSQLite {
		return append(drop,
			"CREATE TABLE student (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)",
			"CREATE TABLE address (id INTEGER PRIMARY KEY AUTOINCREMENT, sid INTEGER NOT NULL REFERENCES student (id), address TEXT)",
		)
	}
	return append(drop,
		"CREATE TABLE student (id BIGINT PRIMARY KEY GENERATED ALWAYS AS IDENTITY, name VARCHAR NOT NULL)",
		"CREATE TABLE address (id BIGINT PRIMARY KEY GENERATED ALWAYS AS IDENTITY, sid BIGINT NOT NULL REFERENCES student (id), address VARCHAR)",
	)
}

// rebinder is satisfied by leases and transactions.
type rebinder interface {
	Rebind(query string) string
}

func selectBuilder(ctx context.Context, q sqlx.QueryerContext, dest interface{}, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build query")
	}
	if r, ok := q.(rebinder); ok {
		query = r.Rebind(query)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func getBuilder(ctx context.Context, q sqlx.QueryerContext, dest interface{}, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build query")
	}
	if r, ok := q.(rebinder); ok {
		query = r.Rebind(query)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func insertReturningID(ctx context.Context, tx *sqlx.Tx, b sq.InsertBuilder) (int64, error) {
	query, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "failed to build insert")
	}

	var id int64
	if err := tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
