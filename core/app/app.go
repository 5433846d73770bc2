// Package app assembles the bot service: database, VK client, outbox,
// conversation state machine, webhook server and the republishing job.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/artbot/core/bootstrap"
	"github.com/m3rciful/artbot/core/bot/dispatch"
	"github.com/m3rciful/artbot/core/bot/menu"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/catalog"
	coreconfig "github.com/m3rciful/artbot/core/config"
	"github.com/m3rciful/artbot/core/logger"
	"github.com/m3rciful/artbot/core/republish"
	"github.com/m3rciful/artbot/core/vk"
	"github.com/m3rciful/artbot/core/vk/outbox"
	"github.com/m3rciful/artbot/core/webhook"
)

// App is the fully wired service.
type App struct {
	cfg    *coreconfig.Config
	db     *sqlx.DB
	client *vk.Client
	outbox *outbox.Outbox
	store  *catalog.Store
	server *webhook.Server
	job    *republish.Job
}

// New bootstraps infrastructure and wires every component together.
func New(cfg *coreconfig.Config) (*App, error) {
	boot, err := bootstrap.Run(bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}

	client := vk.NewClient(cfg.VK, cfg.RateLimit.IntervalMS)
	ob := outbox.New(outbox.Options{})
	store := catalog.NewStore(boot.DB)

	notify := func(ctx context.Context, peerID int64, text string) {
		err := ob.Enqueue(ctx, "notify", "messages.send", func() error {
			_, err := client.SendMessage(ctx, vk.OutboundMessage{PeerID: peerID, Text: text})
			return err
		})
		if err != nil {
			logger.Warn(ctx, "app", "notify.enqueue_failed",
				slog.Int64("peer_id", peerID),
				slog.String("error", err.Error()),
			)
		}
	}

	registry := menu.NewRegistry(menu.Deps{
		Catalog:  store,
		Social:   client,
		Notify:   notify,
		PageSize: cfg.Bot.PageSize,
	})

	buffer := pending.NewBuffer()
	dispatcher := dispatch.New(client, store, registry, buffer, cfg.Bot.RestartKeyword)

	server := webhook.NewServer(cfg.Webhook, cfg.VK.Confirmation, dispatcher, nil)
	job := republish.New(cfg.Republish, cfg.VK.GroupID, store, client, ob.Enqueue)

	return &App{
		cfg:    cfg,
		db:     boot.DB,
		client: client,
		outbox: ob,
		store:  store,
		server: server,
		job:    job,
	}, nil
}

// Run syncs admins, starts the republish job and serves the webhook until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.syncAdmins(ctx)

	go a.job.Run(ctx)

	err := a.server.Run(ctx)

	a.outbox.Close()
	if closeErr := a.db.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("app: close database: %w", closeErr)
	}
	return err
}

// syncAdmins mirrors the community manager list at startup. A failure here
// only delays admin features until the next restart, so it is not fatal.
func (a *App) syncAdmins(ctx context.Context) {
	managers, err := a.client.Admins(ctx)
	if err != nil {
		logger.Warn(ctx, "app", "admins.fetch_failed", slog.String("error", err.Error()))
		return
	}
	if err := a.store.SyncAdmins(ctx, managers); err != nil {
		logger.Warn(ctx, "app", "admins.sync_failed", slog.String("error", err.Error()))
	}
}
