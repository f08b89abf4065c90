package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore реализует SessionStore и RecordStore поверх Postgres.
// Все записи идут через upsert по первичному ключу, поэтому конкурирующие
// запросы по одному номеру не плодят дубликатов.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore создаёт хранилище поверх готового подключения.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Компиляторные проверки соответствия интерфейсам.
var (
	_ SessionStore = (*PostgresStore)(nil)
	_ RecordStore  = (*PostgresStore)(nil)
)

// Get возвращает AuthSession по номеру или ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, phone string) (AuthSession, error) {
	const query = `
		SELECT phone_number, api_id, api_hash, code_hash, code_requested_at,
		       phone_registered, session_token
		FROM auth_sessions
		WHERE phone_number = $1
	`

	var (
		sess        AuthSession
		codeHash    sql.NullString
		requestedAt sql.NullTime
		token       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, phone).Scan(
		&sess.PhoneNumber,
		&sess.APIID,
		&sess.APIHash,
		&codeHash,
		&requestedAt,
		&sess.PhoneRegistered,
		&token,
	)
	if err == sql.ErrNoRows {
		return AuthSession{}, ErrNotFound
	}
	if err != nil {
		return AuthSession{}, fmt.Errorf("query auth session: %w", err)
	}

	sess.CodeHash = codeHash.String
	if requestedAt.Valid {
		sess.CodeRequestedAt = requestedAt.Time
	}
	sess.SessionToken = token.String
	return sess, nil
}

// Upsert записывает AuthSession целиком. Пустые CodeHash/SessionToken и нулевое
// время кода сохраняются как NULL, чтобы инвариант «оба поля кода вместе»
// читался прямо из схемы.
func (s *PostgresStore) Upsert(ctx context.Context, sess AuthSession) error {
	const query = `
		INSERT INTO auth_sessions
			(phone_number, api_id, api_hash, code_hash, code_requested_at,
			 phone_registered, session_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (phone_number) DO UPDATE SET
			api_id            = EXCLUDED.api_id,
			api_hash          = EXCLUDED.api_hash,
			code_hash         = EXCLUDED.code_hash,
			code_requested_at = EXCLUDED.code_requested_at,
			phone_registered  = EXCLUDED.phone_registered,
			session_token     = EXCLUDED.session_token,
			updated_at        = now()
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.PhoneNumber,
		sess.APIID,
		sess.APIHash,
		nullString(sess.CodeHash),
		nullTime(sess.CodeRequestedAt),
		sess.PhoneRegistered,
		nullString(sess.SessionToken),
	)
	if err != nil {
		return fmt.Errorf("upsert auth session: %w", err)
	}
	return nil
}

// ClearAuth обнуляет сессию и код. UPDATE по отсутствующему номеру затрагивает
// ноль строк и успешен — это и даёт идемпотентность logout.
func (s *PostgresStore) ClearAuth(ctx context.Context, phone string) error {
	const query = `
		UPDATE auth_sessions
		SET session_token = NULL, code_hash = NULL, code_requested_at = NULL,
		    updated_at = now()
		WHERE phone_number = $1
	`
	if _, err := s.db.ExecContext(ctx, query, phone); err != nil {
		return fmt.Errorf("clear auth session: %w", err)
	}
	return nil
}

// UpsertGroups сохраняет пачку групп с дедупликацией по (owner_phone, group_id).
func (s *PostgresStore) UpsertGroups(ctx context.Context, groups []Group) error {
	const query = `
		INSERT INTO groups
			(owner_phone, group_id, group_name, participants_count, type,
			 is_public, description, invite_link, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_phone, group_id) DO UPDATE SET
			group_name         = EXCLUDED.group_name,
			participants_count = EXCLUDED.participants_count,
			type               = EXCLUDED.type,
			is_public          = EXCLUDED.is_public,
			description        = EXCLUDED.description,
			invite_link        = EXCLUDED.invite_link,
			extracted_at       = EXCLUDED.extracted_at
	`

	for _, g := range groups {
		_, err := s.db.ExecContext(ctx, query,
			g.OwnerPhone, g.GroupID, g.Title, g.ParticipantsCount, g.Type,
			g.IsPublic, g.Description, g.InviteLink, g.ExtractedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert group %d: %w", g.GroupID, err)
		}
	}
	return nil
}

// UpsertContacts сохраняет пачку контактов с дедупликацией по (owner_phone, user_id).
func (s *PostgresStore) UpsertContacts(ctx context.Context, contacts []Contact) error {
	const query = `
		INSERT INTO contacts
			(owner_phone, user_id, first_name, last_name, username,
			 phone_number, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_phone, user_id) DO UPDATE SET
			first_name   = EXCLUDED.first_name,
			last_name    = EXCLUDED.last_name,
			username     = EXCLUDED.username,
			phone_number = EXCLUDED.phone_number,
			extracted_at = EXCLUDED.extracted_at
	`

	for _, c := range contacts {
		_, err := s.db.ExecContext(ctx, query,
			c.OwnerPhone, c.UserID, c.FirstName, c.LastName, c.Username,
			c.PhoneNumber, c.ExtractedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert contact %d: %w", c.UserID, err)
		}
	}
	return nil
}

// Groups возвращает сохранённые группы владельца.
func (s *PostgresStore) Groups(ctx context.Context, ownerPhone string) ([]Group, error) {
	const query = `
		SELECT owner_phone, group_id, group_name, participants_count, type,
		       is_public, description, invite_link, extracted_at
		FROM groups
		WHERE owner_phone = $1
		ORDER BY group_name
	`

	rows, err := s.db.QueryContext(ctx, query, ownerPhone)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var result []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(
			&g.OwnerPhone, &g.GroupID, &g.Title, &g.ParticipantsCount, &g.Type,
			&g.IsPublic, &g.Description, &g.InviteLink, &g.ExtractedAt,
		); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// Contacts возвращает сохранённые контакты владельца.
func (s *PostgresStore) Contacts(ctx context.Context, ownerPhone string) ([]Contact, error) {
	const query = `
		SELECT owner_phone, user_id, first_name, last_name, username,
		       phone_number, extracted_at
		FROM contacts
		WHERE owner_phone = $1
		ORDER BY first_name, last_name
	`

	rows, err := s.db.QueryContext(ctx, query, ownerPhone)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var result []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(
			&c.OwnerPhone, &c.UserID, &c.FirstName, &c.LastName, &c.Username,
			&c.PhoneNumber, &c.ExtractedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// nullString превращает пустую строку в NULL.
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// nullTime превращает нулевое время в NULL.
func nullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v, Valid: !v.IsZero()}
}
