package payload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	stack := Stack{
		NewFrame("main"),
		NewFrame("groups", Int("offset", 5), String("sort", "subs")),
		NewFrame("group_view", Int("gid", 165142388), Bool("nsfw", true)),
	}

	encoded := Encode(stack)
	require.LessOrEqual(t, len(encoded), MaxEncodedLen)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, stack, decoded)
}

func TestEncodeSingleFrameWireForm(t *testing.T) {
	encoded := Encode(Stack{NewFrame("main")})
	assert.Equal(t, `[{"mid":"main"}]`, string(encoded))
}

func TestEncodeDropsOldestFramesKeepsLeaf(t *testing.T) {
	// Six frames of roughly fifty bytes each overflow the 255-byte bound.
	var stack Stack
	for i := 0; i < 6; i++ {
		stack = stack.Push(NewFrame("menu", String("filler", strings.Repeat("x", 30)), Int("step", int64(i))))
	}
	require.Greater(t, len(marshalFrames(stack)), MaxEncodedLen)

	encoded := Encode(stack)
	require.LessOrEqual(t, len(encoded), MaxEncodedLen)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.NotEmpty(t, decoded)

	// The leaf survives and the retained frames are the newest suffix.
	leaf := decoded[len(decoded)-1]
	step, ok := leaf.Int("step")
	require.True(t, ok)
	assert.Equal(t, int64(5), step)
	assert.Equal(t, stack[len(stack)-len(decoded):], decoded)
}

func TestEncodeOversizedLeafDropsParamsFrontFirst(t *testing.T) {
	leaf := NewFrame("save",
		String("huge", strings.Repeat("a", 300)),
		Int("gid", 42),
	)
	encoded := Encode(Stack{leaf})
	require.LessOrEqual(t, len(encoded), MaxEncodedLen)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "save", decoded[0].MID)

	// The oversized front param is gone, the small one survives.
	_, hasHuge := decoded[0].String("huge")
	assert.False(t, hasHuge)
	gid, ok := decoded[0].Int("gid")
	require.True(t, ok)
	assert.Equal(t, int64(42), gid)
}

func TestEncodeOversizedLeafDegradesToBareMID(t *testing.T) {
	leaf := NewFrame("save", String("a", strings.Repeat("x", 300)), String("b", strings.Repeat("y", 300)))
	encoded := Encode(Stack{leaf})
	assert.Equal(t, `[{"mid":"save"}]`, string(encoded))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          "not-json",
		"object not array":  `{"mid":"main"}`,
		"frame without mid": `[{"offset":1}]`,
		"numeric mid":       `[{"mid":5}]`,
		"nested value":      `[{"mid":"main","x":{"y":1}}]`,
		"null value":        `[{"mid":"main","x":null}]`,
		"trailing data":     `[{"mid":"main"}]extra`,
		"truncated":         `[{"mid":"ma`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeEmptyArray(t *testing.T) {
	stack, err := Decode([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, stack)
}

func TestStackDeriveDoesNotMutate(t *testing.T) {
	base := Stack{NewFrame("main")}
	pushed := base.Push(NewFrame("groups"))
	popped := pushed.Drop(1)

	assert.Len(t, base, 1)
	assert.Len(t, pushed, 2)
	assert.Equal(t, base, popped)
	assert.Equal(t, "groups", pushed.MID())
	assert.Equal(t, "main", base.MID())
}

func TestStackDropBeyondLength(t *testing.T) {
	s := Stack{NewFrame("main")}
	assert.Empty(t, s.Drop(2))
	assert.Equal(t, "", Stack{}.MID())
}

func TestDecodeNumberKinds(t *testing.T) {
	stack, err := Decode([]byte(`[{"mid":"m","i":7,"f":1.5}]`))
	require.NoError(t, err)
	i, ok := stack[0].Int("i")
	require.True(t, ok)
	assert.Equal(t, int64(7), i)
	f, ok := stack[0].Param("f")
	require.True(t, ok)
	assert.Equal(t, 1.5, f)
}
