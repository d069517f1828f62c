package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	_ "modernc.org/sqlite"
)

var (
	ErrGroupNotFound = errors.New("group is not found")
	ErrBadCategory   = errors.New("unknown group category")
)

// Categories a study group may be filed under.
var Categories = []string{
	"Programming",
	"Mathematics",
	"Science",
	"Languages",
	"Business",
	"Arts",
	"Other",
}

const schema = `
CREATE TABLE IF NOT EXISTS groups (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL CHECK (length(name) <= 100),
	description TEXT NOT NULL DEFAULT '' CHECK (length(description) <= 500),
	category    TEXT NOT NULL CHECK (category IN ('Programming', 'Mathematics', 'Science', 'Languages', 'Business', 'Arts', 'Other')),
	creator_id  TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
`

type Group struct {
	ID          string
	Name        string
	Description string
	Category    string
	CreatorID   string
}

// Store is the persisted group membership store backing the membership gate.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// pragmas below are per connection
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, `
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateGroup stores the group and records its creator as the first member.
func (s *Store) CreateGroup(ctx context.Context, g Group) error {
	if !validCategory(g.Category) {
		return errors.Join(ErrBadCategory, errors.New(g.Category))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, description, category, creator_id) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.Category, g.CreatorID,
	); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`,
		g.ID, g.CreatorID,
	); err != nil {
		return fmt.Errorf("add creator: %w", err)
	}
	return tx.Commit()
}

// AddMember is idempotent.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`,
		groupID, userID,
	); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// SeedMember records the membership. A group that does not exist yet is
// created in the Other category with the user as its creator.
func (s *Store) SeedMember(ctx context.Context, groupID, userID string) error {
	err := s.AddMember(ctx, groupID, userID)
	if !errors.Is(err, ErrGroupNotFound) {
		return err
	}
	return s.CreateGroup(ctx, Group{
		ID:        groupID,
		Name:      groupID,
		Category:  "Other",
		CreatorID: userID,
	})
}

// RemoveMember revokes the membership. Later joins are denied; rooms
// already joined are not affected.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return n > 0, nil
}

func (s *Store) groupExists(ctx context.Context, groupID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE id = ?`, groupID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	return nil
}

func validCategory(c string) bool {
	return slices.Contains(Categories, c)
}
