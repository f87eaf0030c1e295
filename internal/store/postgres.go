package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction. Store calls made with the context
// passed to fn join that transaction; nested calls reuse the outer one.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

const appraisalColumns = `id, user_id, anonymous_session_id, request_id, appraisal_data, payload_hash, created_at`

func (s *PostgresStore) FindByOwnerAndPayload(ctx context.Context, owner Owner, payloadHash string, payload map[string]any) (AppraisalResult, bool, error) {
	if err := owner.Validate(); err != nil {
		return AppraisalResult{}, false, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return AppraisalResult{}, false, fmt.Errorf("marshal appraisal data: %w", err)
	}
	query := `
		SELECT ` + appraisalColumns + `
		FROM appraisal_results
		WHERE ` + ownerColumn(owner) + `=$1 AND payload_hash=$2 AND appraisal_data=$3::jsonb
		ORDER BY created_at ASC
		LIMIT 1
	`
	item, err := scanAppraisal(s.q(ctx).QueryRowContext(ctx, query, owner.ID(), payloadHash, string(data)))
	if errors.Is(err, sql.ErrNoRows) {
		return AppraisalResult{}, false, nil
	}
	if err != nil {
		return AppraisalResult{}, false, fmt.Errorf("find appraisal by payload: %w", err)
	}
	return item, true, nil
}

func (s *PostgresStore) InsertAppraisalResult(ctx context.Context, item AppraisalResult) (AppraisalResult, error) {
	if err := item.Owner().Validate(); err != nil {
		return AppraisalResult{}, err
	}
	data, err := json.Marshal(item.AppraisalData)
	if err != nil {
		return AppraisalResult{}, fmt.Errorf("marshal appraisal data: %w", err)
	}
	err = s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO appraisal_results (id, user_id, anonymous_session_id, request_id, appraisal_data, payload_hash)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING created_at
	`, item.ID, nullable(item.UserID), nullable(item.AnonymousSessionID), nullable(item.RequestID), string(data), item.PayloadHash).Scan(&item.CreatedAt)
	if isUniqueViolation(err) {
		return AppraisalResult{}, ErrDuplicateRequestID
	}
	if err != nil {
		return AppraisalResult{}, fmt.Errorf("insert appraisal result: %w", err)
	}
	return item, nil
}

// ListByAnonymousSession locks the returned rows when called inside WithTx.
func (s *PostgresStore) ListByAnonymousSession(ctx context.Context, sessionID string) ([]AppraisalResult, error) {
	query := `
		SELECT ` + appraisalColumns + `
		FROM appraisal_results
		WHERE anonymous_session_id=$1
		ORDER BY created_at ASC
	`
	if txFrom(ctx) != nil {
		query += ` FOR UPDATE`
	}
	return s.listAppraisals(ctx, "list anonymous appraisals", query, sessionID)
}

// UpdateAppraisalOwner persists the owner of item. No other column is mutable.
func (s *PostgresStore) UpdateAppraisalOwner(ctx context.Context, item AppraisalResult) (AppraisalResult, error) {
	if err := item.Owner().Validate(); err != nil {
		return AppraisalResult{}, err
	}
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE appraisal_results
		SET user_id=$2, anonymous_session_id=$3
		WHERE id=$1
	`, item.ID, nullable(item.UserID), nullable(item.AnonymousSessionID))
	if isUniqueViolation(err) {
		return AppraisalResult{}, ErrDuplicateRequestID
	}
	if err != nil {
		return AppraisalResult{}, fmt.Errorf("update appraisal owner: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return AppraisalResult{}, ErrNotFound
	}
	return item, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]AppraisalResult, error) {
	return s.listAppraisals(ctx, "list user appraisals", `
		SELECT `+appraisalColumns+`
		FROM appraisal_results
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
}

func (s *PostgresStore) GetAppraisalResult(ctx context.Context, owner Owner, id string) (AppraisalResult, error) {
	if err := owner.Validate(); err != nil {
		return AppraisalResult{}, err
	}
	query := `
		SELECT ` + appraisalColumns + `
		FROM appraisal_results
		WHERE id::text=$1 AND ` + ownerColumn(owner) + `=$2
	`
	item, err := scanAppraisal(s.q(ctx).QueryRowContext(ctx, query, id, owner.ID()))
	if errors.Is(err, sql.ErrNoRows) {
		return AppraisalResult{}, ErrNotFound
	}
	if err != nil {
		return AppraisalResult{}, fmt.Errorf("get appraisal result: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAppraisalByRequestID(ctx context.Context, owner Owner, requestID string) (AppraisalResult, error) {
	if err := owner.Validate(); err != nil {
		return AppraisalResult{}, err
	}
	query := `
		SELECT ` + appraisalColumns + `
		FROM appraisal_results
		WHERE request_id=$1 AND ` + ownerColumn(owner) + `=$2
		ORDER BY created_at DESC
		LIMIT 1
	`
	item, err := scanAppraisal(s.q(ctx).QueryRowContext(ctx, query, requestID, owner.ID()))
	if errors.Is(err, sql.ErrNoRows) {
		return AppraisalResult{}, ErrNotFound
	}
	if err != nil {
		return AppraisalResult{}, fmt.Errorf("get appraisal by request id: %w", err)
	}
	return item, nil
}

// SearchAppraisals matches text against the basic-information facts of the owner's records.
func (s *PostgresStore) SearchAppraisals(ctx context.Context, owner Owner, text string, limit int) ([]AppraisalResult, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(text)) + "%"
	query := `
		SELECT ` + appraisalColumns + `
		FROM appraisal_results
		WHERE ` + ownerColumn(owner) + `=$1 AND (
			appraisal_data->'informacion_basica'->>'ciudad' ILIKE $2
			OR appraisal_data->'informacion_basica'->>'tipo_inmueble' ILIKE $2
			OR appraisal_data->'informacion_basica'->>'address' ILIKE $2
			OR appraisal_data->'informacion_basica'->>'estrato' ILIKE $2
			OR request_id ILIKE $2
		)
		ORDER BY created_at DESC
		LIMIT $3
	`
	return s.listAppraisals(ctx, "search appraisals", query, owner.ID(), pattern, limit)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, user.ID, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) listAppraisals(ctx context.Context, op, query string, args ...any) ([]AppraisalResult, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]AppraisalResult, 0)
	for rows.Next() {
		item, err := scanAppraisal(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppraisal(row rowScanner) (AppraisalResult, error) {
	var (
		item               AppraisalResult
		userID             sql.NullString
		anonymousSessionID sql.NullString
		requestID          sql.NullString
		data               []byte
	)
	if err := row.Scan(&item.ID, &userID, &anonymousSessionID, &requestID, &data, &item.PayloadHash, &item.CreatedAt); err != nil {
		return AppraisalResult{}, err
	}
	item.UserID = userID.String
	item.AnonymousSessionID = anonymousSessionID.String
	item.RequestID = requestID.String

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&item.AppraisalData); err != nil {
		return AppraisalResult{}, fmt.Errorf("decode appraisal data: %w", err)
	}
	return item, nil
}

func ownerColumn(owner Owner) string {
	if owner.IsUser() {
		return "user_id"
	}
	return "anonymous_session_id"
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
