package menu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/artbot/core/bot/keyboard"
	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/catalog"
	"github.com/m3rciful/artbot/core/logger"
)

func delta(mid string, params ...payload.Param) *payload.Frame {
	f := payload.NewFrame(mid, params...)
	return &f
}

// noMenu is the access-error screen: reached through unknown action ids and
// unusable payloads. Mutates nothing.
func (r *Registry) noMenu(ctx context.Context, req *Request) (*Reply, error) {
	kb := keyboard.Build(nil, req.Stack, keyboard.Options{})
	return &Reply{
		Text:     "Ошибка доступа. Вернитесь в главное меню.",
		Keyboard: kb.JSON(),
	}, nil
}

// main is the root screen. The moderation entry only appears for admins.
func (r *Registry) main(ctx context.Context, req *Request) (*Reply, error) {
	stack := payload.Stack{payload.NewFrame("main")}

	buttons := []keyboard.Button{
		{Label: "группы", Delta: delta("groups", payload.Int("offset", 0)), Color: keyboard.ColorPrimary, Row: 0},
		{Label: "профиль", Delta: delta("profile"), Row: 0},
	}

	isAdmin, err := r.deps.Catalog.IsAdmin(ctx, req.Peer)
	if err != nil {
		return nil, fmt.Errorf("main: %w", err)
	}
	if isAdmin {
		buttons = append(buttons, keyboard.Button{
			Label: "модерация",
			Delta: delta("moderation"),
			Color: keyboard.ColorPositive,
			Row:   1,
		})
	}

	kb := keyboard.Build(buttons, stack, keyboard.Options{})
	return &Reply{
		Text:     "Сейчас вы в главном меню.",
		Keyboard: kb.JSON(),
	}, nil
}

// newUser registers a first-time participant. Profile fields come from the
// social API; on lookup failure registration still proceeds with a placeholder
// name so the user is never stuck at the door.
func (r *Registry) newUser(ctx context.Context, req *Request) (*Reply, error) {
	name := "аноним"
	isFem := false
	if users, err := r.deps.Social.UsersInfo(ctx, []int64{req.Peer}); err != nil {
		logger.Warn(ctx, "menu", "new_user.lookup_failed",
			slog.Int64("peer_id", req.Peer),
			slog.String("error", err.Error()),
		)
	} else if len(users) > 0 {
		name = users[0].FirstName
		isFem = users[0].Sex == 1
	}

	if err := r.deps.Catalog.CreateUser(ctx, catalog.User{ID: req.Peer, Name: name, IsFem: isFem}); err != nil {
		return nil, fmt.Errorf("new_user: %w", err)
	}

	stack := payload.Stack{payload.NewFrame("main")}
	kb := keyboard.Build([]keyboard.Button{
		{Label: "группы", Delta: delta("groups", payload.Int("offset", 0)), Color: keyboard.ColorPrimary, Row: 0},
		{Label: "профиль", Delta: delta("profile"), Row: 0},
	}, stack, keyboard.Options{})

	return &Reply{
		Text:     fmt.Sprintf("Привет, %s! Это бот арт-сообщества: группы, арты и комиссии.", name),
		Keyboard: kb.JSON(),
	}, nil
}

func (r *Registry) profile(ctx context.Context, req *Request) (*Reply, error) {
	u, err := r.deps.Catalog.GetUser(ctx, req.Peer)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	isAdmin, err := r.deps.Catalog.IsAdmin(ctx, req.Peer)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	text := fmt.Sprintf("Профиль\nИмя: %s\nБаланс: %d", u.Name, u.Money)
	if isAdmin {
		text += "\nСтатус: администратор"
	}

	kb := keyboard.Build(nil, req.Stack, keyboard.Options{})
	return &Reply{Text: text, Keyboard: kb.JSON()}, nil
}
