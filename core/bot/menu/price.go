package menu

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/artbot/core/bot/keyboard"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/catalog"
)

// priceNew asks for a commission price list for the group on the stack.
func (r *Registry) priceNew(ctx context.Context, req *Request) (*Reply, error) {
	if _, ok := stackInt(req.Stack, "gid"); !ok {
		return r.noMenu(ctx, req)
	}
	kb := keyboard.Build([]keyboard.Button{
		{Label: "сохранить", Delta: delta("price_save"), Color: keyboard.ColorPositive, Row: keyboard.RowAppend},
	}, req.Stack, keyboard.Options{})
	return &Reply{
		Text: "Пришлите три числа — цену за портрет, полуростовой и полный рост " +
			"(например: 300 500 800), затем нажмите «сохранить».",
		Keyboard: kb.JSON(),
	}, nil
}

// priceSave is a transient screen parsing the buffered numbers into a price
// row pending moderation.
func (r *Registry) priceSave(ctx context.Context, req *Request) (*Reply, error) {
	gid, ok := stackInt(req.Stack, "gid")
	if !ok {
		return r.noMenu(ctx, req)
	}

	values := numbers(req.Batch)
	if len(values) < 3 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
		return &Reply{
			Text:     "Нужно три числа: портрет, полуростовой, полный рост. Попробуйте ещё раз.",
			Keyboard: kb.JSON(),
		}, nil
	}

	p := catalog.Price{
		GroupID: gid,
		AddBy:   req.Peer,
		Head:    values[0],
		Half:    values[1],
		Full:    values[2],
	}
	if err := r.deps.Catalog.UpsertPrice(ctx, p); err != nil {
		return nil, fmt.Errorf("price save: %w", err)
	}
	r.notifyAdmins(ctx, fmt.Sprintf("Новый прайс для группы %d на модерации.", gid))

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{
		Text:     fmt.Sprintf("Прайс сохранён: %d / %d / %d. Ждёт модерации.", p.Head, p.Half, p.Full),
		Keyboard: kb.JSON(),
	}, nil
}

// numbers extracts positive integers from the buffered messages in order.
func numbers(batch []pending.Message) []int64 {
	var out []int64
	for _, m := range batch {
		for _, tok := range strings.Fields(m.Text) {
			if v, err := strconv.ParseInt(tok, 10, 64); err == nil && v >= 0 {
				out = append(out, v)
			}
		}
	}
	return out
}

// broadcast prompts an admin for an announcement text.
func (r *Registry) broadcast(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}
	kb := keyboard.Build([]keyboard.Button{
		{Label: "отправить", Delta: delta("broadcast_send"), Color: keyboard.ColorNegative, Row: keyboard.RowAppend},
	}, req.Stack, keyboard.Options{})
	return &Reply{
		Text:     "Пришлите текст объявления для всех админов, затем нажмите «отправить».",
		Keyboard: kb.JSON(),
	}, nil
}

// broadcastSend is a transient screen fanning the buffered text out to every
// admin through the outbox.
func (r *Registry) broadcastSend(ctx context.Context, req *Request) (*Reply, error) {
	if reply, err := r.requireAdmin(ctx, req); reply != nil || err != nil {
		return reply, err
	}

	var parts []string
	for _, m := range req.Batch {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	if len(parts) == 0 {
		kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
		return &Reply{
			Text:     "Текст пуст, отправлять нечего.",
			Keyboard: kb.JSON(),
		}, nil
	}
	text := strings.Join(parts, "\n")

	r.notifyAdmins(ctx, text)

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{Transient: true})
	return &Reply{Text: "Объявление отправлено.", Keyboard: kb.JSON()}, nil
}
