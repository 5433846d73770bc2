// Package republish publishes accepted arts to the community wall on a cron
// schedule, one art per due tick, oldest submission first.
package republish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/m3rciful/artbot/core/catalog"
	coreconfig "github.com/m3rciful/artbot/core/config"
	"github.com/m3rciful/artbot/core/logger"
)

// Catalog is the slice of the store the job needs.
type Catalog interface {
	NextUnposted(ctx context.Context) (*catalog.Art, error)
	GetGroup(ctx context.Context, id int64) (*catalog.Group, error)
	TagIDsForArt(ctx context.Context, artID int64) ([]int64, error)
	ListTags(ctx context.Context) ([]catalog.Tag, error)
	MarkArtPosted(ctx context.Context, artID, postID int64) error
}

// Wall posts to the community wall.
type Wall interface {
	WallPost(ctx context.Context, ownerID int64, text, attachment string) (int64, error)
}

// Enqueue schedules the closure on the outbound worker pool.
type Enqueue func(ctx context.Context, action, method string, run func() error) error

// Job is the scheduled publisher.
type Job struct {
	cfg     coreconfig.RepublishConfig
	groupID int64
	store   Catalog
	wall    Wall
	enqueue Enqueue
}

// New builds the job; the schedule was validated at config load.
func New(cfg coreconfig.RepublishConfig, groupID int64, store Catalog, wall Wall, enqueue Enqueue) *Job {
	return &Job{
		cfg:     cfg,
		groupID: groupID,
		store:   store,
		wall:    wall,
		enqueue: enqueue,
	}
}

// Run sleeps until the next cron tick, publishes one art, and repeats until
// ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	if !j.cfg.Enabled {
		logger.Info(ctx, "republish", "job.disabled")
		return
	}
	logger.Info(ctx, "republish", "job.start", slog.String("schedule", j.cfg.Schedule))

	for {
		next, err := gronx.NextTickAfter(j.cfg.Schedule, time.Now(), false)
		if err != nil {
			logger.Error(ctx, "republish", "schedule.invalid", slog.String("error", err.Error()))
			return
		}

		select {
		case <-ctx.Done():
			logger.Info(ctx, "republish", "job.stop")
			return
		case <-time.After(time.Until(next)):
		}

		if err := j.PostNext(ctx); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			logger.Error(ctx, "republish", "post.failed", slog.String("error", err.Error()))
		}
	}
}

// PostNext publishes the oldest accepted, unposted art. The wall call goes
// through the outbox so a slow VK API never blocks the scheduler loop.
func (j *Job) PostNext(ctx context.Context) error {
	art, err := j.store.NextUnposted(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			logger.Debug(ctx, "republish", "queue.empty")
		}
		return err
	}

	text, err := j.composeText(ctx, art)
	if err != nil {
		return err
	}

	artID := art.ID
	attachment := art.VKID
	err = j.enqueue(ctx, "republish", "wall.post", func() error {
		postID, err := j.wall.WallPost(ctx, j.groupID, text, attachment)
		if err != nil {
			return err
		}
		if err := j.store.MarkArtPosted(ctx, artID, postID); err != nil {
			return err
		}
		logger.Info(ctx, "republish", "post.done",
			slog.Int64("art_id", artID),
			slog.Int64("message_id", postID),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("republish: enqueue: %w", err)
	}
	return nil
}

// composeText builds the post caption: source group credit plus tag hashtags.
func (j *Job) composeText(ctx context.Context, art *catalog.Art) (string, error) {
	var parts []string

	if art.FromGroup != 0 {
		g, err := j.store.GetGroup(ctx, art.FromGroup)
		switch {
		case err == nil:
			parts = append(parts, fmt.Sprintf("Источник: %s", g.Name))
		case !errors.Is(err, catalog.ErrNotFound):
			return "", fmt.Errorf("republish: group lookup: %w", err)
		}
	}

	ids, err := j.store.TagIDsForArt(ctx, art.ID)
	if err != nil {
		return "", fmt.Errorf("republish: tags: %w", err)
	}
	if len(ids) > 0 {
		tags, err := j.store.ListTags(ctx)
		if err != nil {
			return "", fmt.Errorf("republish: tags: %w", err)
		}
		titles := make(map[int64]string, len(tags))
		for _, t := range tags {
			titles[t.ID] = t.Title
		}
		var hashtags []string
		for _, id := range ids {
			if title := titles[id]; title != "" {
				hashtags = append(hashtags, "#"+strings.ReplaceAll(title, " ", "_"))
			}
		}
		if len(hashtags) > 0 {
			parts = append(parts, strings.Join(hashtags, " "))
		}
	}

	return strings.Join(parts, "\n"), nil
}
