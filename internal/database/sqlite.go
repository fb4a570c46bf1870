package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fict-go/internal/database/migrations"
	"fict-go/internal/fict"
	"fict-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the fict.Store contract on SQLite.
//
// The store contract's "row lock" capability maps onto SQLite's write lock:
// every transaction opens immediate (_txlock=immediate in the DSN), so a
// Locked callback holds the database write lock from BEGIN until commit or
// rollback. That is a superset of the per-row lock the protocol needs, and
// busy_timeout makes competing acquirers block rather than fail.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock fict.Clock
}

// NewSQLiteStore opens a store at path, which may be ":memory:" for tests.
// A nil clock defaults to the real one.
func NewSQLiteStore(path string, clock fict.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = fict.RealClock{}
	}
	return &SQLiteStore{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection. Exported for
// tools and tests that need the same PRAGMA configuration.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection to :memory: would get its own empty
		// database; pin the pool to one connection.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate brings the schema up to the latest embedded migration.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is current without changing it.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Status(s.db)
}

// BackupTo writes a complete copy of the database to destPath.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Path returns the database file path (":memory:" for in-memory stores).
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// dbtx is the subset of *sql.DB and *sql.Tx the shared queries run against.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const storyColumns = `
	id, title, published, world_readable, lock_duration_s, revision_count,
	creation_time, update_time, publish_time, lock_user_id, lock_expiration`

func scanStory(row *sql.Row) (*model.Story, error) {
	var (
		s             model.Story
		title         sql.NullString
		lockDurationS int64
		publishTime   sql.NullTime
		lockUserID    sql.NullInt64
		lockExp       sql.NullTime
	)
	err := row.Scan(
		&s.ID, &title, &s.Published, &s.WorldReadable, &lockDurationS, &s.RevisionCount,
		&s.CreationTime, &s.UpdateTime, &publishTime, &lockUserID, &lockExp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning story: %w", err)
	}

	if title.Valid {
		s.Title = &title.String
	}
	s.LockDuration = time.Duration(lockDurationS) * time.Second
	if publishTime.Valid {
		t := publishTime.Time
		s.PublishTime = &t
	}
	if lockUserID.Valid {
		id := lockUserID.Int64
		s.LockHolderID = &id
	}
	if lockExp.Valid {
		t := lockExp.Time
		s.LockExpiration = &t
	}
	return &s, nil
}

func storyByID(ctx context.Context, q dbtx, id int64) (*model.Story, error) {
	row := q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	return scanStory(row)
}

func userByID(ctx context.Context, q dbtx, id int64) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

func accessGrant(ctx context.Context, q dbtx, storyID, userID int64) (fict.AccessLevel, bool, error) {
	var code int64
	err := q.QueryRowContext(ctx, `
		SELECT access_level_code FROM story_access
		WHERE story_id = ? AND user_id = ?`, storyID, userID).
		Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return fict.NoAccess, false, nil
	}
	if err != nil {
		return fict.NoAccess, false, fmt.Errorf("finding access grant: %w", err)
	}

	level, err := fict.DecodeAccessLevel(code)
	if err != nil {
		return fict.NoAccess, false, err
	}
	return level, true, nil
}

func lastAttempt(ctx context.Context, q dbtx, storyID, userID int64) (int64, bool, error) {
	var revision int64
	err := q.QueryRowContext(ctx, `
		SELECT revision_count FROM contribution_attempts
		WHERE story_id = ? AND user_id = ?`, storyID, userID).
		Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("finding contribution attempt: %w", err)
	}
	return revision, true, nil
}

// Queries implementation on the plain store.

func (s *SQLiteStore) StoryByID(ctx context.Context, id int64) (*model.Story, error) {
	return storyByID(ctx, s.db, id)
}

func (s *SQLiteStore) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return userByID(ctx, s.db, id)
}

func (s *SQLiteStore) AccessGrant(ctx context.Context, storyID, userID int64) (fict.AccessLevel, bool, error) {
	return accessGrant(ctx, s.db, storyID, userID)
}

func (s *SQLiteStore) LastAttempt(ctx context.Context, storyID, userID int64) (int64, bool, error) {
	return lastAttempt(ctx, s.db, storyID, userID)
}

// sqliteTx adapts an open transaction to the fict.Tx view.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) StoryByID(ctx context.Context, id int64) (*model.Story, error) {
	return storyByID(ctx, t.tx, id)
}

func (t *sqliteTx) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return userByID(ctx, t.tx, id)
}

func (t *sqliteTx) AccessGrant(ctx context.Context, storyID, userID int64) (fict.AccessLevel, bool, error) {
	return accessGrant(ctx, t.tx, storyID, userID)
}

func (t *sqliteTx) LastAttempt(ctx context.Context, storyID, userID int64) (int64, bool, error) {
	return lastAttempt(ctx, t.tx, storyID, userID)
}

func (t *sqliteTx) SetLock(ctx context.Context, storyID, holderID int64, expiration time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE stories
		SET lock_user_id = ?, lock_expiration = ?
		WHERE id = ?`, holderID, expiration, storyID)
	if err != nil {
		return fmt.Errorf("setting story lock: %w", err)
	}
	return nil
}

// Locked runs fn inside an immediate transaction. The write lock is taken at
// BEGIN, serializing every lock-protocol transaction against this store; it
// is released automatically on commit or rollback.
func (s *SQLiteStore) Locked(ctx context.Context, fn func(tx fict.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting lock transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lock transaction: %w", err)
	}
	return nil
}

// Story operations.

func (s *SQLiteStore) CreateStory(ctx context.Context, lockDuration time.Duration) (*model.Story, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (lock_duration_s, creation_time, update_time)
		VALUES (?, ?, ?)`, int64(lockDuration/time.Second), now, now)
	if err != nil {
		return nil, fmt.Errorf("creating story: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new story id: %w", err)
	}
	return storyByID(ctx, s.db, id)
}

func (s *SQLiteStore) SaveStory(ctx context.Context, story *model.Story) error {
	var title sql.NullString
	if story.Title != nil {
		title = sql.NullString{String: *story.Title, Valid: true}
	}
	var publishTime sql.NullTime
	if story.PublishTime != nil {
		publishTime = sql.NullTime{Time: *story.PublishTime, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stories
		SET title = ?, published = ?, world_readable = ?, lock_duration_s = ?,
		    revision_count = ?, creation_time = ?, update_time = ?, publish_time = ?
		WHERE id = ?`,
		title, story.Published, story.WorldReadable, int64(story.LockDuration/time.Second),
		story.RevisionCount, story.CreationTime, story.UpdateTime, publishTime,
		story.ID)
	if err != nil {
		return fmt.Errorf("saving story: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving story: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("saving story %d: no matching row", story.ID)
	}
	return nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, storyID, holderID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stories
		SET lock_user_id = NULL, lock_expiration = NULL
		WHERE id = ? AND lock_user_id = ?`, storyID, holderID)
	if err != nil {
		return 0, fmt.Errorf("releasing story lock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("releasing story lock: %w", err)
	}
	return affected, nil
}

// Access grant operations.

func (s *SQLiteStore) UpsertAccess(ctx context.Context, storyID, userID int64, level fict.AccessLevel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_access (story_id, user_id, access_level_code)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, story_id)
		DO UPDATE SET access_level_code = excluded.access_level_code`,
		storyID, userID, level.Encode())
	if err != nil {
		return fmt.Errorf("upserting access grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAccess(ctx context.Context, storyID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM story_access
		WHERE story_id = ? AND user_id = ?`, storyID, userID)
	if err != nil {
		return fmt.Errorf("deleting access grant: %w", err)
	}
	return nil
}

// Contribution attempt operations.

func (s *SQLiteStore) UpsertAttempt(ctx context.Context, storyID, userID, revision int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contribution_attempts (story_id, user_id, revision_count)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, story_id)
		DO UPDATE SET revision_count = excluded.revision_count`,
		storyID, userID, revision)
	if err != nil {
		return fmt.Errorf("upserting contribution attempt: %w", err)
	}
	return nil
}

// Snippet operations.

// CreateSnippet appends the next snippet and bumps the story's revision count
// in one transaction, so a contribution can never be recorded without
// advancing the revision.
func (s *SQLiteStore) CreateSnippet(ctx context.Context, storyID, authorID int64, content string) (*model.Snippet, error) {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting snippet transaction: %w", err)
	}
	defer tx.Rollback()

	var ordinal int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ordinal), 0) + 1 FROM snippets WHERE story_id = ?`, storyID).
		Scan(&ordinal)
	if err != nil {
		return nil, fmt.Errorf("computing snippet ordinal: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snippets (story_id, user_id, ordinal, creation_time, content)
		VALUES (?, ?, ?, ?, ?)`, storyID, authorID, ordinal, now, content)
	if err != nil {
		return nil, fmt.Errorf("inserting snippet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new snippet id: %w", err)
	}

	bump, err := tx.ExecContext(ctx, `
		UPDATE stories
		SET revision_count = revision_count + 1, update_time = ?
		WHERE id = ?`, now, storyID)
	if err != nil {
		return nil, fmt.Errorf("advancing story revision: %w", err)
	}
	if affected, err := bump.RowsAffected(); err != nil {
		return nil, fmt.Errorf("advancing story revision: %w", err)
	} else if affected != 1 {
		return nil, fmt.Errorf("advancing story revision: story %d not found", storyID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snippet transaction: %w", err)
	}

	return &model.Snippet{
		ID:           id,
		StoryID:      storyID,
		AuthorID:     authorID,
		Ordinal:      ordinal,
		CreationTime: now,
		Content:      content,
	}, nil
}

func scanSnippets(rows *sql.Rows) ([]*model.Snippet, error) {
	defer rows.Close()

	var snippets []*model.Snippet
	for rows.Next() {
		var sn model.Snippet
		var authorID sql.NullInt64
		err := rows.Scan(&sn.ID, &sn.StoryID, &authorID, &sn.Ordinal, &sn.CreationTime, &sn.Content)
		if err != nil {
			return nil, fmt.Errorf("scanning snippet: %w", err)
		}
		sn.AuthorID = authorID.Int64
		snippets = append(snippets, &sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snippets: %w", err)
	}
	return snippets, nil
}

func (s *SQLiteStore) MostRecentSnippet(ctx context.Context, storyID int64) (*model.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, user_id, ordinal, creation_time, content
		FROM snippets
		WHERE story_id = ?
		ORDER BY ordinal DESC
		LIMIT 1`, storyID)
	if err != nil {
		return nil, fmt.Errorf("finding most recent snippet: %w", err)
	}

	snippets, err := scanSnippets(rows)
	if err != nil {
		return nil, err
	}
	if len(snippets) == 0 {
		return nil, nil
	}
	return snippets[0], nil
}

func (s *SQLiteStore) SnippetsByStory(ctx context.Context, storyID int64) ([]*model.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, user_id, ordinal, creation_time, content
		FROM snippets
		WHERE story_id = ?
		ORDER BY ordinal ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	return scanSnippets(rows)
}

// User and session operations.

func (s *SQLiteStore) CreateUser(ctx context.Context, name, email string) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, email) VALUES (?, ?)`, name, email)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new user id: %w", err)
	}
	return &model.User{ID: id, Name: name, Email: email}, nil
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding user by email: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, token string, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, creation_time)
		VALUES (?, ?, ?)`, token, userID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionUser(ctx context.Context, token string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	return &u, nil
}

// Compile-time check that SQLiteStore implements the store contract.
var _ fict.Store = (*SQLiteStore)(nil)
