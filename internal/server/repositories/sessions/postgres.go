package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/dbx"
	"github.com/dmitrijs2005/gophdrop/internal/server/migrations"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const finalArtifactRefConstraint = "upload_sessions_final_artifact_ref_key"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// OpenPostgres opens a pgx-backed *sql.DB, verifies connectivity and runs
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db     dbx.DBTX
	pool   *sql.DB
	closer io.Closer
	now    func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX. If
// db is a *sql.DB, Update runs in its own transaction and Close closes it.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	r := &PostgresRepository{db: db, now: time.Now}
	if pool, ok := db.(*sql.DB); ok {
		r.pool = pool
	}
	if c, ok := db.(io.Closer); ok {
		r.closer = c
	}
	return r
}

func (r *PostgresRepository) Create(ctx context.Context, s models.UploadSession) (string, error) {
	prepareNew(&s, r.now().UTC())

	query := `
		INSERT INTO upload_sessions (id, original_name, total_chunks, declared_size, status,
			password_hash, final_artifact_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.OriginalName, s.TotalChunks, s.DeclaredSize, s.Status.String(),
		nullString(s.PasswordHash), nullString(s.FinalArtifactRef), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, finalArtifactRefConstraint) {
			return "", common.ErrArtifactRefConflict
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return s.ID, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query := `
		SELECT id, original_name, total_chunks, declared_size, status,
			password_hash, final_artifact_ref, created_at, updated_at
		FROM upload_sessions WHERE id=$1
	`

	var (
		s              models.UploadSession
		status         string
		password, fref sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.OriginalName, &s.TotalChunks, &s.DeclaredSize,
		&status, &password, &fref, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select session: %w", err)
	}

	if s.Status, err = models.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("database contains invalid status: %w", err)
	}
	s.PasswordHash = password.String
	s.FinalArtifactRef = fref.String
	return &s, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch models.SessionPatch) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	if r.pool == nil {
		return r.update(ctx, r.db, id, patch)
	}
	return dbx.WithTx(ctx, r.pool, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.update(ctx, tx, id, patch)
	})
}

// update locks the row, refuses to touch a completed session and applies
// the patch.
func (r *PostgresRepository) update(ctx context.Context, db dbx.DBTX, id string, patch models.SessionPatch) error {
	var current string
	err := db.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("failed to lock session: %w", err)
	}
	if current == models.StatusCompleted.String() {
		return common.ErrAlreadyCompleted
	}

	var status sql.NullString
	if patch.Status != nil {
		status = sql.NullString{String: patch.Status.String(), Valid: true}
	}

	query := `
		UPDATE upload_sessions SET
			status = COALESCE($2, status),
			password_hash = COALESCE($3, password_hash),
			final_artifact_ref = COALESCE($4, final_artifact_ref),
			updated_at = $5
		WHERE id=$1
	`
	res, err := db.ExecContext(ctx, query, id, status,
		nullStringPtr(patch.PasswordHash), nullStringPtr(patch.FinalArtifactRef), r.now().UTC())
	if err != nil {
		if dbx.IsUniqueViolation(err, finalArtifactRefConstraint) {
			return common.ErrArtifactRefConflict
		}
		return fmt.Errorf("failed to update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
