package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/artbot/core/logger"
	"github.com/m3rciful/artbot/core/vk"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Store wraps the shared database pool.
type Store struct {
	db *sqlx.DB
}

// NewStore builds a Store over an open pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// UserExists reports whether the user has talked to the bot before.
func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("catalog: user exists: %w", err)
	}
	return exists, nil
}

// CreateUser registers a first-time user.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, is_fem) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Name, u.IsFem)
	if err != nil {
		return fmt.Errorf("catalog: create user: %w", err)
	}
	logger.Debug(ctx, "db", "user.create", slog.Int64("user_id", u.ID))
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT id, name, is_fem, money FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get user: %w", err)
	}
	return &u, nil
}

// IsAdmin reports whether the user is a community manager.
func (s *Store) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM admins WHERE user_id = $1)`, userID)
	if err != nil {
		return false, fmt.Errorf("catalog: is admin: %w", err)
	}
	return exists, nil
}

// SyncAdmins mirrors the community manager list into the admins table.
// Only creators and administrators count; managers without a user row are
// skipped until they talk to the bot.
func (s *Store) SyncAdmins(ctx context.Context, managers []vk.Manager) error {
	added := 0
	for _, m := range managers {
		if m.Role != "creator" && m.Role != "administrator" {
			continue
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO admins (user_id)
			 SELECT id FROM users WHERE id = $1
			 ON CONFLICT (user_id) DO NOTHING`, m.ID)
		if err != nil {
			return fmt.Errorf("catalog: sync admins: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	logger.Info(ctx, "db", "admins.sync",
		slog.Int("managers", len(managers)),
		slog.Int("added", added),
	)
	return nil
}

// AdminIDs lists all admin user ids, for broadcast-style notifications.
func (s *Store) AdminIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM admins ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("catalog: admin ids: %w", err)
	}
	return ids, nil
}

// CountGroups returns the number of groups in the given moderation state.
func (s *Store) CountGroups(ctx context.Context, accepted int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM groups WHERE accepted = $1`, accepted)
	if err != nil {
		return 0, fmt.Errorf("catalog: count groups: %w", err)
	}
	return n, nil
}

// ListGroups returns a page of groups in the given moderation state.
func (s *Store) ListGroups(ctx context.Context, accepted, limit, offset int) ([]Group, error) {
	var groups []Group
	err := s.db.SelectContext(ctx, &groups,
		`SELECT id, name, add_by, accepted, nsfw, likes, views, subs, last_update, last_post, last_scan
		 FROM groups WHERE accepted = $1 ORDER BY subs DESC, id LIMIT $2 OFFSET $3`,
		accepted, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("catalog: list groups: %w", err)
	}
	return groups, nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var g Group
	err := s.db.GetContext(ctx, &g,
		`SELECT id, name, add_by, accepted, nsfw, likes, views, subs, last_update, last_post, last_scan
		 FROM groups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get group: %w", err)
	}
	return &g, nil
}

// SubmitGroup records a group suggested by a user, pending moderation.
// Resubmitting an existing group refreshes its profile fields only.
func (s *Store) SubmitGroup(ctx context.Context, g Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, add_by, accepted, nsfw, subs, last_update)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, subs = EXCLUDED.subs, last_update = EXCLUDED.last_update`,
		g.ID, g.Name, g.AddBy, StatusPending, g.NSFW, g.Subs, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("catalog: submit group: %w", err)
	}
	logger.Info(ctx, "db", "group.submit",
		slog.Int64("group_id", g.ID),
		slog.Int64("user_id", g.AddBy),
	)
	return nil
}

// SetGroupStatus moves a group through moderation.
func (s *Store) SetGroupStatus(ctx context.Context, id int64, accepted int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET accepted = $2 WHERE id = $1`, id, accepted)
	if err != nil {
		return fmt.Errorf("catalog: set group status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPrice fetches a group's price list.
func (s *Store) GetPrice(ctx context.Context, groupID int64) (*Price, error) {
	var p Price
	err := s.db.GetContext(ctx, &p,
		`SELECT group_id, add_by, accepted, last_scan, head, half, com_full
		 FROM prices WHERE group_id = $1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get price: %w", err)
	}
	return &p, nil
}

// UpsertPrice stores or replaces a group's price list, returning it to the
// pending state for re-moderation.
func (s *Store) UpsertPrice(ctx context.Context, p Price) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (group_id, add_by, accepted, last_scan, head, half, com_full)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (group_id) DO UPDATE SET
		   add_by = EXCLUDED.add_by, accepted = EXCLUDED.accepted, last_scan = EXCLUDED.last_scan,
		   head = EXCLUDED.head, half = EXCLUDED.half, com_full = EXCLUDED.com_full`,
		p.GroupID, p.AddBy, StatusPending, time.Now().Unix(), p.Head, p.Half, p.Full)
	if err != nil {
		return fmt.Errorf("catalog: upsert price: %w", err)
	}
	return nil
}

// SubmitArt records a submitted artwork, pending moderation. Duplicate
// submissions (same vk attachment or source url) are rejected as ErrDuplicateArt.
func (s *Store) SubmitArt(ctx context.Context, a Art) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`INSERT INTO arts (vk_id, url, source, add_by, from_group, accepted, add_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		a.VKID, a.URL, a.Source, a.AddBy, a.FromGroup, StatusPending, time.Now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicateArt
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: submit art: %w", err)
	}
	logger.Info(ctx, "db", "art.submit",
		slog.Int64("art_id", id),
		slog.Int64("user_id", a.AddBy),
	)
	return id, nil
}

// ErrDuplicateArt marks a submission that collides with an existing artwork.
var ErrDuplicateArt = errors.New("catalog: duplicate art")

// GetArt fetches an art by id.
func (s *Store) GetArt(ctx context.Context, id int64) (*Art, error) {
	var a Art
	err := s.db.GetContext(ctx, &a,
		`SELECT id, vk_id, url, source, add_by, from_group, accepted, add_time, message_id
		 FROM arts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get art: %w", err)
	}
	return &a, nil
}

// CountArts returns the number of arts in the given moderation state.
func (s *Store) CountArts(ctx context.Context, accepted int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM arts WHERE accepted = $1`, accepted)
	if err != nil {
		return 0, fmt.Errorf("catalog: count arts: %w", err)
	}
	return n, nil
}

// ListArts returns a page of arts in the given moderation state, oldest first.
func (s *Store) ListArts(ctx context.Context, accepted, limit, offset int) ([]Art, error) {
	var arts []Art
	err := s.db.SelectContext(ctx, &arts,
		`SELECT id, vk_id, url, source, add_by, from_group, accepted, add_time, message_id
		 FROM arts WHERE accepted = $1 ORDER BY add_time, id LIMIT $2 OFFSET $3`,
		accepted, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("catalog: list arts: %w", err)
	}
	return arts, nil
}

// SetArtStatus moves an art through moderation.
func (s *Store) SetArtStatus(ctx context.Context, id int64, accepted int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE arts SET accepted = $2 WHERE id = $1`, id, accepted)
	if err != nil {
		return fmt.Errorf("catalog: set art status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logger.Info(ctx, "db", "art.status",
		slog.Int64("art_id", id),
		slog.Int("status", accepted),
	)
	return nil
}

// NextUnposted returns the oldest accepted art that has not yet been
// published on the wall, or ErrNotFound.
func (s *Store) NextUnposted(ctx context.Context) (*Art, error) {
	var a Art
	err := s.db.GetContext(ctx, &a,
		`SELECT id, vk_id, url, source, add_by, from_group, accepted, add_time, message_id
		 FROM arts WHERE accepted = $1 AND message_id = 0 ORDER BY add_time, id LIMIT 1`,
		StatusAccepted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: next unposted: %w", err)
	}
	return &a, nil
}

// MarkArtPosted records the wall post id for a published art and bumps the
// source group's last_post time.
func (s *Store) MarkArtPosted(ctx context.Context, artID, postID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: mark posted: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE arts SET message_id = $2 WHERE id = $1`, artID, postID); err != nil {
		return fmt.Errorf("catalog: mark posted: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE groups SET last_post = $2 WHERE id = (SELECT from_group FROM arts WHERE id = $1)`,
		artID, time.Now().Unix()); err != nil {
		return fmt.Errorf("catalog: mark posted: %w", err)
	}
	return tx.Commit()
}

// ListTags returns the full tag vocabulary.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := s.db.SelectContext(ctx, &tags,
		`SELECT id, title, description FROM tags ORDER BY id`); err != nil {
		return nil, fmt.Errorf("catalog: list tags: %w", err)
	}
	return tags, nil
}

// TagIDsForArt returns the ids of tags attached to an art.
func (s *Store) TagIDsForArt(ctx context.Context, artID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT tag_id FROM art_tags WHERE art_id = $1 ORDER BY tag_id`, artID); err != nil {
		return nil, fmt.Errorf("catalog: tags for art: %w", err)
	}
	return ids, nil
}

// ToggleArtTag attaches the tag if absent, detaches it if present, and
// reports whether the tag is attached after the call.
func (s *Store) ToggleArtTag(ctx context.Context, artID, tagID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM art_tags WHERE art_id = $1 AND tag_id = $2`, artID, tagID)
	if err != nil {
		return false, fmt.Errorf("catalog: toggle tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO art_tags (art_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		artID, tagID); err != nil {
		return false, fmt.Errorf("catalog: toggle tag: %w", err)
	}
	return true, nil
}
