package republish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/artbot/core/catalog"
	coreconfig "github.com/m3rciful/artbot/core/config"
)

type fakeStore struct {
	queue   []catalog.Art
	groups  map[int64]catalog.Group
	tags    []catalog.Tag
	artTags map[int64][]int64
	posted  map[int64]int64
}

func (f *fakeStore) NextUnposted(context.Context) (*catalog.Art, error) {
	for _, a := range f.queue {
		if f.posted[a.ID] == 0 {
			art := a
			return &art, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) GetGroup(_ context.Context, id int64) (*catalog.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &g, nil
}

func (f *fakeStore) TagIDsForArt(_ context.Context, artID int64) ([]int64, error) {
	return f.artTags[artID], nil
}

func (f *fakeStore) ListTags(context.Context) ([]catalog.Tag, error) {
	return f.tags, nil
}

func (f *fakeStore) MarkArtPosted(_ context.Context, artID, postID int64) error {
	f.posted[artID] = postID
	return nil
}

type fakeWall struct {
	posts []struct {
		owner      int64
		text       string
		attachment string
	}
}

func (f *fakeWall) WallPost(_ context.Context, ownerID int64, text, attachment string) (int64, error) {
	f.posts = append(f.posts, struct {
		owner      int64
		text       string
		attachment string
	}{ownerID, text, attachment})
	return int64(len(f.posts)), nil
}

// inline runs enqueued jobs synchronously for deterministic tests.
func inline(_ context.Context, _, _ string, run func() error) error {
	return run()
}

func TestPostNextPublishesOldest(t *testing.T) {
	store := &fakeStore{
		queue: []catalog.Art{
			{ID: 1, VKID: "photo-100_1", FromGroup: 42, Accepted: catalog.StatusAccepted},
			{ID: 2, VKID: "photo-100_2", Accepted: catalog.StatusAccepted},
		},
		groups:  map[int64]catalog.Group{42: {ID: 42, Name: "artclub"}},
		tags:    []catalog.Tag{{ID: 3, Title: "пейзаж маслом"}},
		artTags: map[int64][]int64{1: {3}},
		posted:  map[int64]int64{},
	}
	wall := &fakeWall{}
	j := New(coreconfig.RepublishConfig{Enabled: true, Schedule: "0 * * * *"}, 165142388, store, wall, inline)

	require.NoError(t, j.PostNext(context.Background()))

	require.Len(t, wall.posts, 1)
	assert.EqualValues(t, 165142388, wall.posts[0].owner)
	assert.Equal(t, "photo-100_1", wall.posts[0].attachment)
	assert.Contains(t, wall.posts[0].text, "artclub")
	assert.Contains(t, wall.posts[0].text, "#пейзаж_маслом")
	assert.EqualValues(t, 1, store.posted[1])

	// Next tick moves on to the second art.
	require.NoError(t, j.PostNext(context.Background()))
	require.Len(t, wall.posts, 2)
	assert.Equal(t, "photo-100_2", wall.posts[1].attachment)
}

func TestPostNextEmptyQueue(t *testing.T) {
	store := &fakeStore{posted: map[int64]int64{}}
	j := New(coreconfig.RepublishConfig{Enabled: true, Schedule: "0 * * * *"}, 1, store, &fakeWall{}, inline)

	err := j.PostNext(context.Background())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
