package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m3rciful/artbot/core/bot/keyboard"
	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/catalog"
	"github.com/m3rciful/artbot/core/logger"
)

// maxArtUploads caps one submission batch.
const maxArtUploads = 10

// artNew asks for photo attachments; saving happens in artSave.
func (r *Registry) artNew(ctx context.Context, req *Request) (*Reply, error) {
	kb := keyboard.Build([]keyboard.Button{
		{Label: "сохранить", Delta: delta("art_save"), Color: keyboard.ColorPositive, Row: keyboard.RowAppend},
	}, req.Stack, keyboard.Options{})
	return &Reply{
		Text: fmt.Sprintf("Прикрепите изображения (не больше %d) и отправьте их, "+
			"затем нажмите «сохранить».", maxArtUploads),
		Keyboard: kb.JSON(),
	}, nil
}

// artSave is a transient screen: it pulls photos out of the claimed batch,
// re-uploads them to the community concurrently and files each one for
// moderation. Uploads feed the reply directly, so they are awaited.
func (r *Registry) artSave(ctx context.Context, req *Request) (*Reply, error) {
	urls := photoURLs(req.Batch)
	if len(urls) == 0 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
		return &Reply{
			Text:     "Вы не прислали ни одного изображения. Сначала отправьте фото, потом жмите «сохранить».",
			Keyboard: kb.JSON(),
		}, nil
	}
	if len(urls) > maxArtUploads {
		urls = urls[:maxArtUploads]
	}

	gid, _ := stackInt(req.Stack, "gid")

	type uploaded struct {
		src string
		ref string
		err error
	}
	results := make([]uploaded, len(urls))
	var wg sync.WaitGroup
	for i, src := range urls {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			ref, err := r.deps.Social.UploadPhotoFromURL(ctx, req.Peer, src)
			results[i] = uploaded{src: src, ref: ref, err: err}
		}(i, src)
	}
	wg.Wait()

	var refs []string
	saved := 0
	for _, res := range results {
		if res.err != nil {
			logger.Warn(ctx, "menu", "art_save.upload_failed",
				slog.Int64("peer_id", req.Peer),
				slog.String("error", res.err.Error()),
			)
			continue
		}
		refs = append(refs, res.ref)

		_, err := r.deps.Catalog.SubmitArt(ctx, catalog.Art{
			VKID:      res.ref,
			URL:       res.src,
			AddBy:     req.Peer,
			FromGroup: gid,
		})
		switch {
		case errors.Is(err, catalog.ErrDuplicateArt):
			continue
		case err != nil:
			return nil, fmt.Errorf("art save: %w", err)
		}
		saved++
	}

	if saved > 0 {
		r.notifyAdmins(ctx, fmt.Sprintf("Новых артов на модерации: %d", saved))
	}

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{
		Text:        fmt.Sprintf("Принято изображений: %d. Они отправлены на модерацию.", saved),
		Attachments: refs,
		Keyboard:    kb.JSON(),
	}, nil
}

// photoURLs collects the largest photo size from every buffered message.
func photoURLs(batch []pending.Message) []string {
	var urls []string
	for _, m := range batch {
		for _, att := range m.Attachments {
			if url := att.LargestPhotoURL(); url != "" {
				urls = append(urls, url)
			}
		}
	}
	return urls
}

// moderation is the admin hub: pending counters and queue entry points.
func (r *Registry) moderation(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}

	arts, err := r.deps.Catalog.CountArts(ctx, catalog.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}
	groups, err := r.deps.Catalog.CountGroups(ctx, catalog.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("moderation: %w", err)
	}

	kb := keyboard.Build([]keyboard.Button{
		{Label: fmt.Sprintf("арты (%d)", arts), Delta: delta("mod_arts", payload.Int("offset", 0)), Row: 0},
		{Label: fmt.Sprintf("группы (%d)", groups), Delta: delta("mod_groups", payload.Int("offset", 0)), Row: 0},
	}, req.Stack, keyboard.Options{})

	return &Reply{
		Text:     fmt.Sprintf("Модерация\nАртов в очереди: %d\nГрупп в очереди: %d", arts, groups),
		Keyboard: kb.JSON(),
	}, nil
}

// requireAdmin short-circuits non-admins to the access-error screen.
func (r *Registry) requireAdmin(ctx context.Context, req *Request) (*Reply, error) {
	isAdmin, err := r.deps.Catalog.IsAdmin(ctx, req.Peer)
	if err != nil {
		return nil, fmt.Errorf("admin check: %w", err)
	}
	if !isAdmin {
		return r.noMenu(ctx, req)
	}
	return nil, nil
}

// modArts pages through the pending art queue, oldest first.
func (r *Registry) modArts(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}

	offset := 0
	if leaf, ok := req.Stack.Leaf(); ok {
		if v, ok := leaf.Int("offset"); ok && v > 0 {
			offset = int(v)
		}
	}

	total, err := r.deps.Catalog.CountArts(ctx, catalog.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("mod arts: %w", err)
	}
	page, err := r.deps.Catalog.ListArts(ctx, catalog.StatusPending, r.deps.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("mod arts: %w", err)
	}

	if total == 0 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{})
		return &Reply{Text: "Очередь модерации пуста.", Keyboard: kb.JSON()}, nil
	}

	var buttons []keyboard.Button
	for _, a := range page {
		buttons = append(buttons, keyboard.Button{
			Label: fmt.Sprintf("#%d", a.ID),
			Delta: delta("art_view", payload.Int("aid", a.ID)),
			Row:   keyboard.RowAppend,
		})
	}
	buttons = append(buttons, pageButtons("mod_arts", offset, total, r.deps.PageSize)...)

	kb := keyboard.Build(buttons, req.Stack, keyboard.Options{})
	return &Reply{
		Text:     fmt.Sprintf("На модерации %d артов, показаны %d–%d.", total, offset+1, offset+len(page)),
		Keyboard: kb.JSON(),
	}, nil
}

// artView shows one pending art with its tags; tag buttons toggle inline.
func (r *Registry) artView(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}
	aid, ok := stackInt(req.Stack, "aid")
	if !ok {
		return r.noMenu(ctx, req)
	}

	a, err := r.deps.Catalog.GetArt(ctx, aid)
	if err != nil {
		return nil, fmt.Errorf("art view: %w", err)
	}
	tags, err := r.deps.Catalog.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("art view: %w", err)
	}
	attached, err := r.deps.Catalog.TagIDsForArt(ctx, aid)
	if err != nil {
		return nil, fmt.Errorf("art view: %w", err)
	}
	on := make(map[int64]bool, len(attached))
	for _, id := range attached {
		on[id] = true
	}

	var buttons []keyboard.Button
	for _, tag := range tags {
		label := tag.Title
		color := keyboard.ColorSecondary
		if on[tag.ID] {
			label = "✓ " + label
			color = keyboard.ColorPrimary
		}
		buttons = append(buttons, keyboard.Button{
			Label: label,
			Delta: delta("tag_toggle", payload.Int("tid", tag.ID)),
			Color: color,
			Row:   keyboard.RowAppend,
		})
	}
	buttons = append(buttons,
		keyboard.Button{Label: "принять", Delta: delta("art_accept"), Color: keyboard.ColorPositive, Row: keyboard.RowAppend},
		keyboard.Button{Label: "отклонить", Delta: delta("art_decline"), Color: keyboard.ColorNegative, Row: keyboard.RowAppend},
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Арт #%d от id%d", a.ID, a.AddBy)
	if len(attached) > 0 {
		fmt.Fprintf(&sb, "\nТегов: %d", len(attached))
	}

	kb := keyboard.Build(buttons, req.Stack, keyboard.Options{})
	return &Reply{
		Text:        sb.String(),
		Attachments: []string{a.VKID},
		Keyboard:    kb.JSON(),
	}, nil
}

// tagToggle flips one tag on the art from the stack and re-renders the view.
func (r *Registry) tagToggle(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}
	aid, okA := stackInt(req.Stack, "aid")
	tid, okT := stackInt(req.Stack, "tid")
	if !okA || !okT {
		return r.noMenu(ctx, req)
	}

	attached, err := r.deps.Catalog.ToggleArtTag(ctx, aid, tid)
	if err != nil {
		return nil, fmt.Errorf("tag toggle: %w", err)
	}
	logger.Debug(ctx, "menu", "tag.toggle",
		slog.Int64("art_id", aid),
		slog.Int64("tag_id", tid),
		slog.Bool("attached", attached),
	)

	// Re-render the art screen as if opened directly; drop the toggle frame
	// so the history does not accumulate one frame per tap.
	view := *req
	view.Stack = req.Stack.Drop(1)
	return r.artView(ctx, &view)
}

func (r *Registry) artAccept(ctx context.Context, req *Request) (*Reply, error) {
	return r.artModerate(ctx, req, catalog.StatusAccepted, "Арт принят и попадёт в очередь публикации.")
}

func (r *Registry) artDecline(ctx context.Context, req *Request) (*Reply, error) {
	return r.artModerate(ctx, req, catalog.StatusDeclined, "Арт отклонён.")
}

func (r *Registry) artModerate(ctx context.Context, req *Request, status int, text string) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}
	aid, ok := stackInt(req.Stack, "aid")
	if !ok {
		return r.noMenu(ctx, req)
	}
	if err := r.deps.Catalog.SetArtStatus(ctx, aid, status); err != nil {
		return nil, fmt.Errorf("art moderate: %w", err)
	}

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{Text: text, Keyboard: kb.JSON()}, nil
}

// modGroups pages through communities awaiting moderation.
func (r *Registry) modGroups(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}

	offset := 0
	if leaf, ok := req.Stack.Leaf(); ok {
		if v, ok := leaf.Int("offset"); ok && v > 0 {
			offset = int(v)
		}
	}

	total, err := r.deps.Catalog.CountGroups(ctx, catalog.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("mod groups: %w", err)
	}
	page, err := r.deps.Catalog.ListGroups(ctx, catalog.StatusPending, r.deps.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("mod groups: %w", err)
	}

	if total == 0 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{})
		return &Reply{Text: "Нет групп на модерации.", Keyboard: kb.JSON()}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Группы на модерации (%d):\n", total)
	var buttons []keyboard.Button
	for _, g := range page {
		fmt.Fprintf(&sb, "— %s (%d подписчиков)\n", g.Name, g.Subs)
		buttons = append(buttons,
			keyboard.Button{
				Label: "✓ " + g.Name,
				Delta: delta("group_accept", payload.Int("gid", g.ID)),
				Color: keyboard.ColorPositive,
				Row:   keyboard.RowAppend,
			},
			keyboard.Button{
				Label: "✗ " + g.Name,
				Delta: delta("group_decline", payload.Int("gid", g.ID)),
				Color: keyboard.ColorNegative,
				Row:   keyboard.RowAppend,
			},
		)
	}
	buttons = append(buttons, pageButtons("mod_groups", offset, total, r.deps.PageSize)...)

	kb := keyboard.Build(buttons, req.Stack, keyboard.Options{})
	return &Reply{Text: sb.String(), Keyboard: kb.JSON()}, nil
}

func (r *Registry) groupAccept(ctx context.Context, req *Request) (*Reply, error) {
	return r.groupModerate(ctx, req, catalog.StatusAccepted, "Группа принята.")
}

func (r *Registry) groupDecline(ctx context.Context, req *Request) (*Reply, error) {
	return r.groupModerate(ctx, req, catalog.StatusDeclined, "Группа отклонена.")
}

func (r *Registry) groupModerate(ctx context.Context, req *Request, status int, text string) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}
	gid, ok := stackInt(req.Stack, "gid")
	if !ok {
		return r.noMenu(ctx, req)
	}
	if err := r.deps.Catalog.SetGroupStatus(ctx, gid, status); err != nil {
		return nil, fmt.Errorf("group moderate: %w", err)
	}

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{Text: text, Keyboard: kb.JSON()}, nil
}
