// Package catalog is the persistence layer for the art community: users and
// admins, partner groups with their commission prices, submitted arts and the
// tag vocabulary. All access goes through Store over a shared sqlx pool.
package catalog

// Moderation states shared by groups, prices and arts.
const (
	StatusPending  = 0
	StatusAccepted = 1
	StatusDeclined = 2
)

// User is a person the bot has talked to.
type User struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	IsFem bool   `db:"is_fem"`
	Money int64  `db:"money"`
}

// Group is a partner art community.
type Group struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	AddBy      int64  `db:"add_by"`
	Accepted   int    `db:"accepted"`
	NSFW       bool   `db:"nsfw"`
	Likes      int64  `db:"likes"`
	Views      int64  `db:"views"`
	Subs       int64  `db:"subs"`
	LastUpdate int64  `db:"last_update"`
	LastPost   int64  `db:"last_post"`
	LastScan   int64  `db:"last_scan"`
}

// Price is a group's commission price list.
type Price struct {
	GroupID  int64 `db:"group_id"`
	AddBy    int64 `db:"add_by"`
	Accepted int   `db:"accepted"`
	LastScan int64 `db:"last_scan"`
	Head     int64 `db:"head"`
	Half     int64 `db:"half"`
	Full     int64 `db:"com_full"`
}

// Art is a submitted artwork.
type Art struct {
	ID        int64  `db:"id"`
	VKID      string `db:"vk_id"`
	URL       string `db:"url"`
	Source    string `db:"source"`
	AddBy     int64  `db:"add_by"`
	FromGroup int64  `db:"from_group"`
	Accepted  int    `db:"accepted"`
	AddTime   int64  `db:"add_time"`
	MessageID int64  `db:"message_id"`
}

// Tag is a vocabulary entry arts can be labeled with.
type Tag struct {
	ID          int64  `db:"id"`
	Title       string `db:"title"`
	Description string `db:"description"`
}
