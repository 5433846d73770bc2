package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/artbot/core/bot/menu"
	"github.com/m3rciful/artbot/core/bot/payload"
	"github.com/m3rciful/artbot/core/bot/pending"
	"github.com/m3rciful/artbot/core/vk"
)

type fakeSocial struct {
	mu       sync.Mutex
	sent     []vk.OutboundMessage
	reads    []int64
	fetched  *vk.Message
	sendErr  error
	fetchErr error
}

func (f *fakeSocial) SendMessage(_ context.Context, out vk.OutboundMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, out)
	return int64(len(f.sent)), nil
}

func (f *fakeSocial) MarkRead(_ context.Context, peerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, peerID)
	return nil
}

func (f *fakeSocial) FetchMessage(_ context.Context, messageID int64) (*vk.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetched, nil
}

func (f *fakeSocial) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeUsers struct {
	known map[int64]bool
	err   error
}

func (f *fakeUsers) UserExists(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[id], nil
}

// recordingRegistry captures which handler ran and with what request.
type recordingRegistry struct {
	mu       sync.Mutex
	calls    []string
	lastReq  *menu.Request
	faultMid string
}

func (r *recordingRegistry) handler(name string) menu.Handler {
	return func(_ context.Context, req *menu.Request) (*menu.Reply, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.lastReq = req
		r.mu.Unlock()
		if name == r.faultMid {
			return nil, errors.New("boom")
		}
		return &menu.Reply{Text: "ok: " + name}, nil
	}
}

func (r *recordingRegistry) Resolve(mid string) menu.Handler { return r.handler(mid) }
func (r *recordingRegistry) NewUser() menu.Handler           { return r.handler("new_user") }
func (r *recordingRegistry) Main() menu.Handler              { return r.handler("main") }

func (r *recordingRegistry) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestDispatcher(soc *fakeSocial, users *fakeUsers, reg *recordingRegistry) (*Dispatcher, *pending.Buffer) {
	buf := pending.NewBuffer()
	return New(soc, users, reg, buf, "restart"), buf
}

func TestNoPayloadIsBuffered(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	outcome, err := d.Dispatch(context.Background(), Event{PeerID: 1, MessageID: 10, Text: "привет"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBuffered, outcome)
	assert.Empty(t, reg.called())
	assert.Equal(t, 0, soc.sentCount())
	assert.Equal(t, 1, buf.Len(1))
}

func TestPayloadClaimsBufferedBatch(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	buf.Append(1, pending.Message{PeerID: 1, Text: "первое"})
	buf.Append(1, pending.Message{PeerID: 1, Text: "второе"})

	outcome, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 11,
		Payload:   `[{"mid":"main"}]`,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplied, outcome)
	assert.Equal(t, []string{"main"}, reg.called())
	require.Len(t, reg.lastReq.Batch, 2)
	assert.Equal(t, "первое", reg.lastReq.Batch[0].Text)
	assert.Equal(t, "второе", reg.lastReq.Batch[1].Text)
	assert.Equal(t, 0, buf.Len(1))
	assert.Equal(t, 1, soc.sentCount())
}

func TestRestartKeywordBypassesBuffer(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	buf.Append(1, pending.Message{PeerID: 1, Text: "черновик"})

	outcome, err := d.Dispatch(context.Background(), Event{PeerID: 1, MessageID: 12, Text: "restart"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplied, outcome)
	assert.Equal(t, []string{"main"}, reg.called())
	assert.Empty(t, reg.lastReq.Batch)
	assert.Equal(t, payload.Stack{payload.NewFrame("main")}, reg.lastReq.Stack)
	// Restart does not claim: the draft stays buffered.
	assert.Equal(t, 1, buf.Len(1))
}

func TestRestartKeywordExactMatchOnly(t *testing.T) {
	for _, text := range []string{"Restart", " restart", "restart ", "RESTART"} {
		soc := &fakeSocial{}
		reg := &recordingRegistry{}
		d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

		outcome, err := d.Dispatch(context.Background(), Event{PeerID: 1, MessageID: 19, Text: text})
		require.NoError(t, err)

		assert.Equal(t, OutcomeBuffered, outcome, "text %q", text)
		assert.Empty(t, reg.called(), "text %q", text)
		assert.Equal(t, 1, buf.Len(1), "text %q", text)
	}
}

func TestUnknownUserRoutedToRegistration(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, _ := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{}}, reg)

	outcome, err := d.Dispatch(context.Background(), Event{
		PeerID:    2,
		MessageID: 13,
		Payload:   `[{"mid":"groups"}]`,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplied, outcome)
	assert.Equal(t, []string{"new_user"}, reg.called())
}

func TestMalformedPayloadTreatedAsNoPayload(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	outcome, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 14,
		Text:      "просто текст",
		Payload:   `{"mid":`,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBuffered, outcome)
	assert.Empty(t, reg.called())
	assert.Equal(t, 1, buf.Len(1))
}

func TestHandlerFaultConsumesBatchSilently(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{faultMid: "groups"}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	buf.Append(1, pending.Message{PeerID: 1, Text: "пропадёт"})

	outcome, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 15,
		Payload:   `[{"mid":"main"},{"mid":"groups"}]`,
	})
	require.Error(t, err)

	assert.Equal(t, OutcomeFault, outcome)
	// No reply sent, batch not restored.
	assert.Equal(t, 0, soc.sentCount())
	assert.Equal(t, 0, buf.Len(1))
}

func TestMarkReadRunsForHandledEvents(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, _ := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	_, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 16,
		Payload:   `[{"mid":"main"}]`,
	})
	require.NoError(t, err)

	soc.mu.Lock()
	defer soc.mu.Unlock()
	assert.Equal(t, []int64{1}, soc.reads)
}

func TestMarkReadRunsForBufferedEvents(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	outcome, err := d.Dispatch(context.Background(), Event{PeerID: 1, MessageID: 20, Text: "черновик"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBuffered, outcome)
	assert.Equal(t, 1, buf.Len(1))
	soc.mu.Lock()
	defer soc.mu.Unlock()
	assert.Equal(t, []int64{1}, soc.reads)
}

func TestCroppedEventRefetched(t *testing.T) {
	soc := &fakeSocial{fetched: &vk.Message{
		ID:     17,
		PeerID: 1,
		Text:   "полный текст",
		Attachments: []vk.Attachment{
			{Type: "photo", Photo: &vk.Photo{Sizes: []vk.PhotoSize{{Height: 10, URL: "u"}}}},
		},
	}}
	reg := &recordingRegistry{}
	d, buf := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	outcome, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 17,
		Cropped:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBuffered, outcome)
	claimed := buf.Claim(1)
	require.Len(t, claimed, 1)
	assert.Equal(t, "полный текст", claimed[0].Text)
	require.Len(t, claimed[0].Attachments, 1)
}

func TestStackLeafSelectsHandler(t *testing.T) {
	soc := &fakeSocial{}
	reg := &recordingRegistry{}
	d, _ := newTestDispatcher(soc, &fakeUsers{known: map[int64]bool{1: true}}, reg)

	_, err := d.Dispatch(context.Background(), Event{
		PeerID:    1,
		MessageID: 18,
		Payload:   `[{"mid":"main"},{"mid":"groups","offset":5}]`,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"groups"}, reg.called())
	require.Len(t, reg.lastReq.Stack, 2)
	offset, ok := reg.lastReq.Stack[1].Int("offset")
	require.True(t, ok)
	assert.EqualValues(t, 5, offset)
}
