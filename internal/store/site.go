package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Record is a piece of site content (post, page, or another type).
type Record struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	AuthorID  int64     `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordFilter narrows ListRecords. Zero values match everything.
type RecordFilter struct {
	Type   string
	Status string
	Search string
	Limit  int
}

// RecordPatch carries the fields UpdateRecord changes; nil fields are kept.
type RecordPatch struct {
	Title   *string
	Content *string
	Status  *string
}

// User is a site account. Email and PasswordHash never leave the store
// through the tool layer.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"-"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// GetOption returns the value of a site option.
func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM site_options WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option: %w", err)
	}
	return v, true, nil
}

// SetOption upserts a site option.
func (s *Store) SetOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO site_options (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, Millis(s.now()))
	if err != nil {
		return fmt.Errorf("set option: %w", err)
	}
	return nil
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		where = append(where, "(title LIKE ? OR content LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT id, type, title, content, status, author_id, created_at, updated_at FROM site_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var r Record
	var created, updated int64
	if err := sc.Scan(&r.ID, &r.Type, &r.Title, &r.Content, &r.Status, &r.AuthorID, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = FromMillis(created)
	r.UpdatedAt = FromMillis(updated)
	return &r, nil
}

// GetRecord returns a record by id, or nil if it does not exist.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, title, content, status, author_id, created_at, updated_at
		FROM site_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// CreateRecord inserts r and returns its id.
func (s *Store) CreateRecord(ctx context.Context, r Record) (int64, error) {
	now := Millis(s.now())
	if r.Type == "" {
		r.Type = "post"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO site_records (type, title, content, status, author_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, r.Type, r.Title, r.Content, r.Status, r.AuthorID, now, now)
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}
	return res.LastInsertId()
}

// UpdateRecord applies p to record id. Returns false if the record is missing.
func (s *Store) UpdateRecord(ctx context.Context, id int64, p RecordPatch) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{Millis(s.now())}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE site_records SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateUser inserts a site account.
func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	if u.Role == "" {
		u.Role = "subscriber"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO site_users (login, display_name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, u.Login, u.DisplayName, u.Email, u.PasswordHash, u.Role, Millis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// ListUsers returns accounts, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, role string, limit int) ([]User, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT id, login, display_name, email, password_hash, role, created_at FROM site_users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.ID, &u.Login, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = FromMillis(created)
		out = append(out, u)
	}
	return out, rows.Err()
}
