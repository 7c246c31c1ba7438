package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultSearchHistoryLimit = 100

const userColumns = `id, subject, username, email, first_name, last_name, phone_number,
	email_verified, phone_verified, active, account_status, user_type,
	last_login, login_count, timezone, locale, avatar_url, bio, website,
	location, company, job_title, attributes, created_at, updated_at`

const chatColumns = `id, user_id, message_type, content, command, api,
	response_status, response_time_ms, success, error_message, metadata,
	pinned, created_at`

const searchColumns = `id, user_id, query, api, success, metadata, created_at`

const preferenceColumns = `user_id, theme, default_apis, notifications, auto_save_search,
	max_search_history, preferred_language, timezone, created_at, updated_at`

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the retention sweep run alongside live sessions.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		email_verified INTEGER NOT NULL DEFAULT 0,
		phone_verified INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		account_status TEXT NOT NULL DEFAULT 'active',
		user_type TEXT NOT NULL DEFAULT 'standard',
		last_login INTEGER NOT NULL,
		login_count INTEGER NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		locale TEXT NOT NULL DEFAULT 'en',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		job_title TEXT NOT NULL DEFAULT '',
		attributes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		theme TEXT NOT NULL,
		default_apis TEXT NOT NULL,
		notifications INTEGER NOT NULL,
		auto_save_search INTEGER NOT NULL,
		max_search_history INTEGER NOT NULL,
		preferred_language TEXT NOT NULL,
		timezone TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		query TEXT NOT NULL,
		api TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 1,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history(user_id, created_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		api TEXT NOT NULL DEFAULT '',
		response_status INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 1,
		error_message TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		pinned INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_unpinned ON chat_messages(created_at) WHERE pinned = 0;

	CREATE TABLE IF NOT EXISTS api_usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		api TEXT NOT NULL,
		endpoint TEXT NOT NULL DEFAULT '',
		response_status INTEGER NOT NULL DEFAULT 0,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_usage_user ON api_usage(user_id, api);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetOrCreateUser upserts the user keyed by identity subject.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, identity *domain.Identity) (*domain.User, error) {
	if identity == nil || identity.Subject == "" {
		return nil, errors.New("get or create user: identity subject is required")
	}

	attrs, err := encodeJSON(identity.Claims)
	if err != nil {
		return nil, fmt.Errorf("encode claims: %w", err)
	}

	query := `
	INSERT INTO users (id, subject, username, email, first_name, last_name, phone_number,
		email_verified, phone_verified, last_login, login_count, attributes, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	ON CONFLICT(subject) DO UPDATE SET
		email = excluded.email,
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		phone_number = excluded.phone_number,
		email_verified = excluded.email_verified,
		phone_verified = excluded.phone_verified,
		attributes = excluded.attributes,
		last_login = excluded.last_login,
		login_count = users.login_count + 1,
		updated_at = excluded.updated_at`

	now := time.Now().UnixMilli()
	err = shared.RetryOnConflict(ctx, "upsert user", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			uuid.NewString(), identity.Subject, identity.DisplayName(), identity.Email,
			identity.GivenName, identity.FamilyName, identity.PhoneNumber,
			identity.EmailVerified, identity.PhoneVerified,
			now, attrs, now, now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE subject = ?`, identity.Subject)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("load user by subject: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of update.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error) {
	var sets []string
	var args []any
	set := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	set("username", update.Username)
	set("bio", update.Bio)
	set("website", update.Website)
	set("location", update.Location)
	set("company", update.Company)
	set("job_title", update.JobTitle)
	set("avatar_url", update.AvatarURL)
	set("timezone", update.Timezone)
	set("locale", update.Locale)

	if len(sets) == 0 {
		return s.GetUser(ctx, userID)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), userID)
	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	var rows int64
	err := shared.RetryOnConflict(ctx, "update profile", s.retry, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.GetUser(ctx, userID)
}

// GetPreferences returns stored preferences, inserting defaults when none exist.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	prefs, err := s.loadPreferences(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	if err := s.writePreferences(ctx, domain.DefaultPreferences(userID), false); err != nil {
		return nil, fmt.Errorf("create default preferences: %w", err)
	}

	prefs, err = s.loadPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return prefs, nil
}

// SavePreferences merges update into the current preferences.
func (s *SQLiteStore) SavePreferences(ctx context.Context, userID string, update domain.PreferencesUpdate) (*domain.Preferences, error) {
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	update.Apply(prefs)
	prefs.UpdatedAt = time.Now()

	if err := s.writePreferences(ctx, prefs, true); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return s.loadPreferences(ctx, userID)
}

func (s *SQLiteStore) loadPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ?`, userID)

	var p domain.Preferences
	var apis string
	var createdAt, updatedAt int64
	err := row.Scan(
		&p.UserID, &p.Theme, &apis, &p.Notifications, &p.AutoSaveSearch,
		&p.MaxSearchHistory, &p.PreferredLanguage, &p.Timezone, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences row: %w", err)
	}

	if err := json.Unmarshal([]byte(apis), &p.DefaultAPIs); err != nil {
		return nil, fmt.Errorf("decode default apis: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

// writePreferences inserts p. With overwrite an existing row is replaced,
// otherwise it is left alone.
func (s *SQLiteStore) writePreferences(ctx context.Context, p *domain.Preferences, overwrite bool) error {
	apis, err := json.Marshal(p.DefaultAPIs)
	if err != nil {
		return fmt.Errorf("encode default apis: %w", err)
	}

	query := `
	INSERT INTO preferences (` + preferenceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if overwrite {
		query += `
	ON CONFLICT(user_id) DO UPDATE SET
		theme = excluded.theme,
		default_apis = excluded.default_apis,
		notifications = excluded.notifications,
		auto_save_search = excluded.auto_save_search,
		max_search_history = excluded.max_search_history,
		preferred_language = excluded.preferred_language,
		timezone = excluded.timezone,
		updated_at = excluded.updated_at`
	} else {
		query += ` ON CONFLICT(user_id) DO NOTHING`
	}

	return shared.RetryOnConflict(ctx, "write preferences", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.UserID, p.Theme, string(apis), p.Notifications, p.AutoSaveSearch,
			p.MaxSearchHistory, p.PreferredLanguage, p.Timezone,
			p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// SaveSearch records a search and keeps only the newest max_search_history entries.
func (s *SQLiteStore) SaveSearch(ctx context.Context, userID string, search domain.NewSearch) (*domain.SearchRecord, error) {
	meta, err := encodeJSON(search.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode search metadata: %w", err)
	}

	now := time.Now().UnixMilli()
	record := &domain.SearchRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Query:     search.Query,
		Provider:  search.Provider,
		Success:   search.Success,
		Metadata:  search.Metadata,
		CreatedAt: time.UnixMilli(now),
	}

	err = s.withTx(ctx, "save search", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_history (`+searchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID, userID, record.Query, string(record.Provider), record.Success, meta, now,
		); err != nil {
			return fmt.Errorf("insert search: %w", err)
		}

		limit := defaultSearchHistoryLimit
		err := tx.QueryRowContext(ctx,
			`SELECT max_search_history FROM preferences WHERE user_id = ?`, userID,
		).Scan(&limit)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read history limit: %w", err)
		}
		if limit <= 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM search_history
			WHERE user_id = ? AND id NOT IN (
				SELECT id FROM search_history WHERE user_id = ?
				ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, userID, userID, limit); err != nil {
			return fmt.Errorf("trim search history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetSearchHistory returns up to limit searches, newest first. A non-positive limit returns all.
func (s *SQLiteStore) GetSearchHistory(ctx context.Context, userID string, limit int) ([]*domain.SearchRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+searchColumns+` FROM search_history
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query search history: %w", err)
	}
	defer closeRows(rows, "search history")

	var records []*domain.SearchRecord
	for rows.Next() {
		var r domain.SearchRecord
		var api string
		var meta sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &api, &r.Success, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		r.Provider = domain.Provider(api)
		r.CreatedAt = time.UnixMilli(createdAt)
		if r.Metadata, err = decodeJSON(meta); err != nil {
			return nil, fmt.Errorf("decode search metadata: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search history: %w", err)
	}

	return records, nil
}

// DeleteSearch removes one search owned by userID.
func (s *SQLiteStore) DeleteSearch(ctx context.Context, userID, searchID string) error {
	n, err := s.execAffected(ctx, "delete search",
		`DELETE FROM search_history WHERE id = ? AND user_id = ?`, searchID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSearchHistory removes every search owned by userID.
func (s *SQLiteStore) ClearSearchHistory(ctx context.Context, userID string) error {
	_, err := s.execAffected(ctx, "clear search history",
		`DELETE FROM search_history WHERE user_id = ?`, userID)
	return err
}

// SaveChatMessage persists msg for userID.
func (s *SQLiteStore) SaveChatMessage(ctx context.Context, userID string, msg domain.NewChatMessage) (*domain.ChatMessage, error) {
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("save chat message: unknown kind %q", msg.Kind)
	}

	meta, err := encodeJSON(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode message metadata: %w", err)
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UnixMilli()

	_, err = s.execAffected(ctx, "save chat message",
		`INSERT INTO chat_messages (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, userID, string(msg.Kind), msg.Content, msg.Command, string(msg.Provider),
		msg.ResponseStatus, msg.ResponseTimeMs, msg.Success, msg.ErrorText, meta, now,
	)
	if err != nil {
		return nil, err
	}

	return &domain.ChatMessage{
		ID:             id,
		UserID:         userID,
		Kind:           msg.Kind,
		Content:        msg.Content,
		Command:        msg.Command,
		Provider:       msg.Provider,
		ResponseStatus: msg.ResponseStatus,
		ResponseTimeMs: msg.ResponseTimeMs,
		Success:        msg.Success,
		ErrorText:      msg.ErrorText,
		Metadata:       msg.Metadata,
		CreatedAt:      time.UnixMilli(now),
	}, nil
}

// GetChatMessages returns the latest limit messages in chronological order.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, userID string, limit int, kind domain.MessageKind) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}

	filter := `user_id = ?`
	args := []any{userID}
	if kind != "" {
		filter += ` AND message_type = ?`
		args = append(args, string(kind))
	}
	args = append(args, limit)

	query := `
		SELECT ` + chatColumns + ` FROM (
			SELECT ` + chatColumns + `, rowid AS seq FROM chat_messages
			WHERE ` + filter + `
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`

	return s.queryChatMessages(ctx, query, args...)
}

// GetPinnedMessages returns pinned messages, newest first.
func (s *SQLiteStore) GetPinnedMessages(ctx context.Context, userID string) ([]*domain.ChatMessage, error) {
	return s.queryChatMessages(ctx, `
		SELECT `+chatColumns+` FROM chat_messages
		WHERE user_id = ? AND pinned = 1
		ORDER BY created_at DESC, rowid DESC`, userID)
}

func (s *SQLiteStore) queryChatMessages(ctx context.Context, query string, args ...any) ([]*domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer closeRows(rows, "chat messages")

	var messages []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var kind, api string
		var meta sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&m.ID, &m.UserID, &kind, &m.Content, &m.Command, &api,
			&m.ResponseStatus, &m.ResponseTimeMs, &m.Success, &m.ErrorText, &meta,
			&m.Pinned, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.Provider = domain.Provider(api)
		m.CreatedAt = time.UnixMilli(createdAt)
		if m.Metadata, err = decodeJSON(meta); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	return messages, nil
}

// TogglePin flips the pin flag on a message owned by userID.
func (s *SQLiteStore) TogglePin(ctx context.Context, userID, messageID string) (bool, error) {
	var pinned bool
	err := s.withTx(ctx, "toggle pin", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE chat_messages SET pinned = CASE pinned WHEN 1 THEN 0 ELSE 1 END
			WHERE id = ? AND user_id = ?`, messageID, userID)
		if err != nil {
			return fmt.Errorf("flip pin: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.QueryRowContext(ctx,
			`SELECT pinned FROM chat_messages WHERE id = ?`, messageID,
		).Scan(&pinned)
	})
	if err != nil {
		return false, err
	}
	return pinned, nil
}

// ClearChatMessages removes every message owned by userID.
func (s *SQLiteStore) ClearChatMessages(ctx context.Context, userID string) (int64, error) {
	return s.execAffected(ctx, "clear chat messages",
		`DELETE FROM chat_messages WHERE user_id = ?`, userID)
}

// DeleteExpiredChatMessages removes unpinned messages created before now-maxAge.
func (s *SQLiteStore) DeleteExpiredChatMessages(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	return s.execAffected(ctx, "delete expired chat messages",
		`DELETE FROM chat_messages WHERE pinned = 0 AND created_at < ?`, threshold)
}

// RecordUsage appends an API usage row.
func (s *SQLiteStore) RecordUsage(ctx context.Context, usage domain.UsageRecord) error {
	createdAt := usage.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.execAffected(ctx, "record usage", `
		INSERT INTO api_usage (id, user_id, api, endpoint, response_status, response_time_ms, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), usage.UserID, string(usage.Provider), usage.Endpoint,
		usage.ResponseStatus, usage.ResponseTimeMs, usage.ErrorText, createdAt.UnixMilli(),
	)
	return err
}

// GetStats summarizes activity for userID.
func (s *SQLiteStore) GetStats(ctx context.Context, userID string) (*domain.Stats, error) {
	stats := &domain.Stats{
		// Sessions are not tracked per connection; the count reflects one ongoing session.
		TotalChatSessions: 1,
		UsageByProvider:   make(map[domain.Provider]int),
	}

	var lastActivity sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM search_history WHERE user_id = ?),
			(SELECT COUNT(*) FROM chat_messages WHERE user_id = ?),
			(SELECT MAX(created_at) FROM chat_messages WHERE user_id = ?)`,
		userID, userID, userID,
	).Scan(&stats.TotalSearches, &stats.TotalMessages, &lastActivity)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if lastActivity.Valid {
		ts := time.UnixMilli(lastActivity.Int64)
		stats.LastActivity = &ts
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT api, COUNT(*) FROM api_usage WHERE user_id = ? GROUP BY api`, userID)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer closeRows(rows, "usage")

	for rows.Next() {
		var api string
		var count int
		if err := rows.Scan(&api, &count); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		stats.UsageByProvider[domain.Provider(api)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}

	return stats, nil
}

// execAffected runs a write with conflict retries and returns the affected row count.
func (s *SQLiteStore) execAffected(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, op, s.retry, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// withTx runs fn in a transaction, retrying the whole transaction on SQLite conflicts.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := shared.RetryOnConflict(ctx, op, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var attrs sql.NullString
	var lastLogin, createdAt, updatedAt int64

	err := row.Scan(
		&u.ID, &u.Subject, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNumber,
		&u.EmailVerified, &u.PhoneVerified, &u.Active, &u.AccountStatus, &u.UserType,
		&lastLogin, &u.LoginCount, &u.Timezone, &u.Locale, &u.AvatarURL, &u.Bio, &u.Website,
		&u.Location, &u.Company, &u.JobTitle, &attrs, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	u.LastLogin = time.UnixMilli(lastLogin)
	u.CreatedAt = time.UnixMilli(createdAt)
	u.UpdatedAt = time.UnixMilli(updatedAt)
	if u.Attributes, err = decodeJSON(attrs); err != nil {
		return nil, fmt.Errorf("decode user attributes: %w", err)
	}
	return &u, nil
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
