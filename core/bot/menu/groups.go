package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m3rciful/artbot/core/bot/keyboard"
	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/catalog"
)

// groups lists accepted partner communities one page at a time. The offset
// travels inside the leaf frame; prev/next deltas carry pre-clamped offsets.
func (r *Registry) groups(ctx context.Context, req *Request) (*Reply, error) {
	offset := 0
	if leaf, ok := req.Stack.Leaf(); ok {
		if v, ok := leaf.Int("offset"); ok && v > 0 {
			offset = int(v)
		}
	}

	total, err := r.deps.Catalog.CountGroups(ctx, catalog.StatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	page, err := r.deps.Catalog.ListGroups(ctx, catalog.StatusAccepted, r.deps.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}

	var buttons []keyboard.Button
	var sb strings.Builder
	if total == 0 {
		sb.WriteString("Пока нет ни одной группы. Предложите свою!")
	} else {
		fmt.Fprintf(&sb, "Группы (%d–%d из %d):\n", offset+1, offset+len(page), total)
		for i, g := range page {
			fmt.Fprintf(&sb, "%d. %s — %d подписчиков\n", offset+i+1, g.Name, g.Subs)
			buttons = append(buttons, keyboard.Button{
				Label: g.Name,
				Delta: delta("group", payload.Int("gid", g.ID)),
				Row:   keyboard.RowAppend,
			})
		}
	}

	buttons = append(buttons, pageButtons("groups", offset, total, r.deps.PageSize)...)
	buttons = append(buttons, keyboard.Button{
		Label: "предложить группу",
		Delta: delta("group_new"),
		Color: keyboard.ColorPositive,
		Row:   keyboard.RowAppend,
	})

	kb := keyboard.Build(buttons, req.Stack, keyboard.Options{})
	return &Reply{Text: sb.String(), Keyboard: kb.JSON()}, nil
}

// pageButtons emits prev/next controls with offsets clamped to
// [0, lastPageOffset]. Both are omitted when everything fits on one page.
func pageButtons(mid string, offset, total, pageSize int) []keyboard.Button {
	if total <= pageSize {
		return nil
	}
	lastPage := ((total - 1) / pageSize) * pageSize

	var buttons []keyboard.Button
	if offset > 0 {
		prev := offset - pageSize
		if prev < 0 {
			prev = 0
		}
		buttons = append(buttons, keyboard.Button{
			Label: "← назад",
			Delta: delta(mid, payload.Int("offset", int64(prev))),
			Row:   keyboard.RowAppend,
		})
	}
	if offset < lastPage {
		next := offset + pageSize
		if next > lastPage {
			next = lastPage
		}
		buttons = append(buttons, keyboard.Button{
			Label: "вперёд →",
			Delta: delta(mid, payload.Int("offset", int64(next))),
			Row:   keyboard.RowAppend,
		})
	}
	return buttons
}

// groupView shows one community with its price list if moderated in.
func (r *Registry) groupView(ctx context.Context, req *Request) (*Reply, error) {
	gid, ok := stackInt(req.Stack, "gid")
	if !ok {
		return r.noMenu(ctx, req)
	}
	g, err := r.deps.Catalog.GetGroup(ctx, gid)
	if err != nil {
		return nil, fmt.Errorf("group view: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nПодписчиков: %d", g.Name, g.Subs)
	if g.NSFW {
		sb.WriteString("\n18+")
	}

	price, err := r.deps.Catalog.GetPrice(ctx, gid)
	switch {
	case err == nil && price.Accepted == catalog.StatusAccepted:
		fmt.Fprintf(&sb, "\n\nКомиссии:\nпортрет — %d\nполуростовой — %d\nполный рост — %d",
			price.Head, price.Half, price.Full)
	case err != nil && !errors.Is(err, catalog.ErrNotFound):
		return nil, fmt.Errorf("group view: %w", err)
	}

	buttons := []keyboard.Button{
		{Label: "добавить арт", Delta: delta("art_new"), Color: keyboard.ColorPrimary, Row: 0},
		{Label: "прайс", Delta: delta("price_new"), Row: 0},
	}
	kb := keyboard.Build(buttons, req.Stack, keyboard.Options{})
	return &Reply{Text: sb.String(), Keyboard: kb.JSON()}, nil
}

// groupNew asks for community links; the actual parse happens in groupSave
// once the user confirms.
func (r *Registry) groupNew(ctx context.Context, req *Request) (*Reply, error) {
	kb := keyboard.Build([]keyboard.Button{
		{Label: "сохранить", Delta: delta("group_save"), Color: keyboard.ColorPositive, Row: keyboard.RowAppend},
	}, req.Stack, keyboard.Options{})
	return &Reply{
		Text: "Пришлите ссылку или короткое имя группы (можно несколько сообщений), " +
			"затем нажмите «сохранить».",
		Keyboard: kb.JSON(),
	}, nil
}

// groupSave is a transient screen: it consumes the claimed batch, resolves
// each community through the social API and files it for moderation.
func (r *Registry) groupSave(ctx context.Context, req *Request) (*Reply, error) {
	ids := screenNames(req.Batch)
	if len(ids) == 0 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
		return &Reply{
			Text:     "Вы не прислали ни одной ссылки. Сначала отправьте ссылку на группу, потом жмите «сохранить».",
			Keyboard: kb.JSON(),
		}, nil
	}

	infos, err := r.deps.Social.GroupsInfo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("group save: %w", err)
	}

	var saved []string
	for _, info := range infos {
		g := catalog.Group{
			ID:    info.ID,
			Name:  info.Name,
			AddBy: req.Peer,
			Subs:  info.MembersCount,
		}
		if err := r.deps.Catalog.SubmitGroup(ctx, g); err != nil {
			return nil, fmt.Errorf("group save: %w", err)
		}
		saved = append(saved, info.Name)
	}

	r.notifyAdmins(ctx, fmt.Sprintf("Новые группы на модерации: %s", strings.Join(saved, ", ")))

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{
		Text:     fmt.Sprintf("Отправлено на модерацию: %s", strings.Join(saved, ", ")),
		Keyboard: kb.JSON(),
	}, nil
}

// screenNames extracts group ids/screen names from buffered messages,
// stripping common vk link prefixes.
func screenNames(batch []pending.Message) []string {
	var ids []string
	for _, m := range batch {
		for _, tok := range strings.Fields(m.Text) {
			tok = strings.TrimPrefix(tok, "https://")
			tok = strings.TrimPrefix(tok, "http://")
			tok = strings.TrimPrefix(tok, "vk.com/")
			tok = strings.TrimPrefix(tok, "m.vk.com/")
			tok = strings.TrimSuffix(tok, "/")
			if tok != "" {
				ids = append(ids, tok)
			}
		}
	}
	return ids
}

// notifyAdmins fans a short message out to every admin through the outbox.
func (r *Registry) notifyAdmins(ctx context.Context, text string) {
	ids, err := r.deps.Catalog.AdminIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		r.deps.Notify(ctx, id, text)
	}
}
