package vk

import "sort"

// Attachment is a single media item carried by an inbound message.
type Attachment struct {
	Type  string `json:"type"`
	Photo *Photo `json:"photo,omitempty"`
}

// Photo describes a VK photo attachment with its size variants.
type Photo struct {
	ID        int64       `json:"id"`
	OwnerID   int64       `json:"owner_id"`
	AccessKey string      `json:"access_key"`
	Sizes     []PhotoSize `json:"sizes"`
}

// PhotoSize is one resolution variant of a photo.
type PhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// LargestPhotoURL returns the URL of the highest-resolution variant of a photo
// attachment, or empty when the attachment is not a photo.
func (a Attachment) LargestPhotoURL() string {
	if a.Type != "photo" || a.Photo == nil || len(a.Photo.Sizes) == 0 {
		return ""
	}
	sizes := append([]PhotoSize(nil), a.Photo.Sizes...)
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Height > sizes[j].Height })
	return sizes[0].URL
}

// Message is a fetched VK message, used when the inbound webhook event arrives
// cropped and the full attachment list must be re-read.
type Message struct {
	ID          int64        `json:"id"`
	PeerID      int64        `json:"peer_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

// OutboundMessage is the reply shape handed to messages.send.
type OutboundMessage struct {
	PeerID int64
	Text   string
	// Attachment is the comma-joined list of media references.
	Attachment string
	// Keyboard is the serialized keyboard descriptor, empty for none.
	Keyboard string
	// ForwardMessages is the comma-joined list of message ids to forward.
	ForwardMessages string
}

// GroupInfo is a community profile returned by groups.getById.
type GroupInfo struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ScreenName   string `json:"screen_name"`
	MembersCount int64  `json:"members_count"`
}

// UserInfo is a user profile returned by users.get.
type UserInfo struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Sex       int    `json:"sex"`
}

// Manager is a community manager entry returned by the admin lookup.
type Manager struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}
