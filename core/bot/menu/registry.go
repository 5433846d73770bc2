// Package menu holds the closed set of conversation screens. A Registry maps
// an action id (mid) to its handler; resolution never fails, unknown ids land
// on the access-error screen.
package menu

import (
	"context"
	"log/slog"

	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/catalog"
	"github.com/m3rciful/artbot/core/logger"
	"github.com/m3rciful/artbot/core/vk"
)

// Request carries one resolved inbound event into a handler.
type Request struct {
	Peer        int64
	MessageID   int64
	Text        string
	Attachments []vk.Attachment
	// Stack is the decoded navigation history; its leaf selected this handler.
	Stack payload.Stack
	// Batch is the claimed pending input, oldest first. Consumed by this
	// invocation only.
	Batch []pending.Message
}

// Reply is what a handler wants delivered back to the participant.
type Reply struct {
	Text        string
	Attachments []string
	Keyboard    string
}

// Handler renders one screen.
type Handler func(ctx context.Context, req *Request) (*Reply, error)

// Catalog is the persistence surface handlers are allowed to touch.
type Catalog interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	CreateUser(ctx context.Context, u catalog.User) error
	GetUser(ctx context.Context, id int64) (*catalog.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	AdminIDs(ctx context.Context) ([]int64, error)

	CountGroups(ctx context.Context, accepted int) (int, error)
	ListGroups(ctx context.Context, accepted, limit, offset int) ([]catalog.Group, error)
	GetGroup(ctx context.Context, id int64) (*catalog.Group, error)
	SubmitGroup(ctx context.Context, g catalog.Group) error
	SetGroupStatus(ctx context.Context, id int64, accepted int) error

	GetPrice(ctx context.Context, groupID int64) (*catalog.Price, error)
	UpsertPrice(ctx context.Context, p catalog.Price) error

	SubmitArt(ctx context.Context, a catalog.Art) (int64, error)
	GetArt(ctx context.Context, id int64) (*catalog.Art, error)
	CountArts(ctx context.Context, accepted int) (int, error)
	ListArts(ctx context.Context, accepted, limit, offset int) ([]catalog.Art, error)
	SetArtStatus(ctx context.Context, id int64, accepted int) error

	ListTags(ctx context.Context) ([]catalog.Tag, error)
	TagIDsForArt(ctx context.Context, artID int64) ([]int64, error)
	ToggleArtTag(ctx context.Context, artID, tagID int64) (bool, error)
}

// Social is the slice of the VK client handlers need directly: profile and
// community lookups plus the photo re-upload pipeline.
type Social interface {
	GroupsInfo(ctx context.Context, ids []string) ([]vk.GroupInfo, error)
	UsersInfo(ctx context.Context, ids []int64) ([]vk.UserInfo, error)
	UploadPhotoFromURL(ctx context.Context, peerID int64, src string) (string, error)
}

// Notify delivers a fire-and-forget message outside the current reply, e.g.
// admin notifications. Implementations go through the outbox.
type Notify func(ctx context.Context, peerID int64, text string)

// Deps bundles handler collaborators.
type Deps struct {
	Catalog  Catalog
	Social   Social
	Notify   Notify
	PageSize int
}

// Registry resolves action ids to handlers. Membership is fixed at
// construction; there is no runtime registration.
type Registry struct {
	deps     Deps
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry wires the full screen set.
func NewRegistry(deps Deps) *Registry {
	if deps.PageSize <= 0 {
		deps.PageSize = 5
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, int64, string) {}
	}

	r := &Registry{deps: deps}
	r.fallback = r.noMenu
	r.handlers = map[string]Handler{
		"main":     r.main,
		"new_user": r.newUser,
		"profile":  r.profile,

		"groups":     r.groups,
		"group":      r.groupView,
		"group_new":  r.groupNew,
		"group_save": r.groupSave,

		"art_new":  r.artNew,
		"art_save": r.artSave,

		"moderation":    r.moderation,
		"mod_arts":      r.modArts,
		"art_view":      r.artView,
		"art_accept":    r.artAccept,
		"art_decline":   r.artDecline,
		"tag_toggle":    r.tagToggle,
		"mod_groups":    r.modGroups,
		"group_accept":  r.groupAccept,
		"group_decline": r.groupDecline,

		"price_new":  r.priceNew,
		"price_save": r.priceSave,

		"broadcast":      r.broadcast,
		"broadcast_send": r.broadcastSend,
	}
	return r
}

// Resolve returns the handler for mid, or the access-error fallback. It
// never returns nil.
func (r *Registry) Resolve(mid string) Handler {
	if h, ok := r.handlers[mid]; ok {
		return h
	}
	logger.Warn(context.Background(), "menu", "resolve.unknown", slog.String("mid", mid))
	return r.fallback
}

// Fallback returns the access-error handler directly; the dispatcher routes
// here when the payload itself is unusable.
func (r *Registry) Fallback() Handler {
	return r.fallback
}

// NewUser returns the registration handler; the dispatcher routes here for
// unknown participants regardless of payload.
func (r *Registry) NewUser() Handler {
	return r.newUser
}

// Main returns the root handler, used for the restart keyword.
func (r *Registry) Main() Handler {
	return r.main
}

// stackInt finds an integer parameter walking the stack leaf-to-root, so a
// screen can read context set by an ancestor screen.
func stackInt(stack payload.Stack, key string) (int64, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if v, ok := stack[i].Int(key); ok {
			return v, true
		}
	}
	return 0, false
}
