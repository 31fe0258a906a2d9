package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Store implements IDocumentStore on PostgreSQL or SQLite. Queries are written
// with ? placeholders and rebound for the driver in use.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to the database, verifies the connection and creates the
// schema. driver is "postgres" or "sqlite"; for sqlite dsn is a file path.
func Open(driver, dsn string) (*Store, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, errors.Wrapf(ErrUnsupportedDriver, "driver %q", driver)
	}
	if driver == "sqlite" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	store := &Store{db: db, driver: driver, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create tables")
	}
	return store, nil
}

const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// sqliteDSN appends the connection pragmas to a file path or file: URI that
// may already carry query parameters.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the database driver name.
func (s *Store) Driver() string { return s.driver }

func (s *Store) q(query string) string { return s.db.Rebind(query) }

type documentRow struct {
	ID             string `db:"id"`
	OwnerID        string `db:"owner_id"`
	Title          string `db:"title"`
	Content        string `db:"content"`
	InitialContent string `db:"initial_content"`
	Version        uint64 `db:"version"`
	CreatedAt      string `db:"created_at"`
	UpdatedAt      string `db:"updated_at"`
}

func (r documentRow) toDocument() (*Document, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for document %s", r.ID)
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for document %s", r.ID)
	}
	return &Document{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Title:          r.Title,
		Content:        r.Content,
		InitialContent: r.InitialContent,
		Version:        r.Version,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}, nil
}

const documentColumns = `id, owner_id, title, content, initial_content, version, created_at, updated_at`

func (s *Store) CreateDocument(ctx context.Context, ownerID, title, content string) (*Document, error) {
	now := s.now().UTC()
	row := documentRow{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Title:          title,
		Content:        content,
		InitialContent: content,
		Version:        0,
		CreatedAt:      formatTime(now),
		UpdatedAt:      formatTime(now),
	}

	err := retryOnContention(func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (:id, :owner_id, :title, :content, :initial_content, :version, :created_at, :updated_at)`,
			row)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create document")
	}
	return row.toDocument()
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, errors.Wrap(err, "failed to get document")
	}
	return row.toDocument()
}

// ListDocuments returns the documents userID owns or has been granted a role
// on, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]*Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.owner_id = ?
		   OR EXISTS (SELECT 1 FROM permissions p WHERE p.document_id = d.id AND p.user_id = ?)
		ORDER BY d.updated_at DESC`), userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}

	documents := make([]*Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDocument()
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// DeleteDocument removes a document together with its log, snapshots and
// permissions.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return retryOnContention(func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for _, table := range []string{"permissions", "snapshots", "op_log"} {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE document_id = ?`), id); err != nil {
				return errors.Wrapf(err, "delete from %s", table)
			}
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = ?`), id)
		if err != nil {
			return errors.Wrap(err, "failed to delete document")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to get rows affected")
		}
		if n == 0 {
			return ErrDocumentNotFound
		}
		return tx.Commit()
	})
}

func (s *Store) LoadState(ctx context.Context, id string) (DocumentState, error) {
	var row struct {
		Content string `db:"content"`
		Version uint64 `db:"version"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`SELECT content, version FROM documents WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentState{}, ErrDocumentNotFound
		}
		return DocumentState{}, errors.Wrap(err, "failed to load document state")
	}
	return DocumentState{DocumentID: id, Content: row.Content, Version: row.Version}, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// Compile-time check to ensure Store implements IDocumentStore
var _ IDocumentStore = (*Store)(nil)
