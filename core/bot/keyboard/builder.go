// Package keyboard renders reply keyboards: a flat button list plus the
// current navigation stack becomes a row-bounded VK keyboard where every
// button carries its own encoded history. Build is pure; layout and payload
// truncation are deterministic.
package keyboard

import (
	"encoding/json"

	"github.com/m3rciful/artbot/core/bot/payload"
)

// Button colors of the VK keyboard wire format.
const (
	ColorPrimary   = "primary"
	ColorSecondary = "secondary"
	ColorPositive  = "positive"
	ColorNegative  = "negative"
)

const (
	rowCapStandard = 4
	rowCapInline   = 3

	backLabel = "назад"
	homeLabel = "домой"
)

// RowAppend places the button on the last opened row.
const RowAppend = -1

// Button is a logical button before layout. A nil Delta reuses the current
// stack unchanged; otherwise the frame is pushed on top of it.
type Button struct {
	Label string
	Delta *payload.Frame
	Color string
	Row   int
}

// Options controls layout of a built keyboard.
type Options struct {
	// Inline renders the keyboard under the message (3 per row) instead of
	// the persistent bottom panel (4 per row).
	Inline  bool
	OneTime bool
	// Transient marks the current screen as excluded from history: the back
	// control skips one extra frame so back lands on the screen that
	// preceded this one.
	Transient bool
	// NoNav omits the trailing back/home block.
	NoNav bool
}

// Rendered is one laid-out button with its final encoded payload.
type Rendered struct {
	Label   string
	Color   string
	Payload []byte
}

// Markup is a finished keyboard layout.
type Markup struct {
	OneTime bool
	Inline  bool
	Rows    [][]Rendered
}

// Build lays out buttons into capacity-bounded rows over the given stack and
// appends the navigation block. It never fails: oversized payloads degrade
// through the codec's truncation rules.
func Build(buttons []Button, stack payload.Stack, opts Options) Markup {
	if opts.Inline {
		// VK rejects one_time on inline keyboards.
		opts.OneTime = false
	}
	capacity := rowCapStandard
	if opts.Inline {
		capacity = rowCapInline
	}

	var rows [][]Rendered
	for _, b := range buttons {
		target := stack
		if b.Delta != nil {
			target = stack.Push(*b.Delta)
		}
		r := Rendered{
			Label:   b.Label,
			Color:   b.Color,
			Payload: payload.Encode(target),
		}
		if r.Color == "" {
			r.Color = ColorSecondary
		}
		rows = place(rows, r, b.Row, capacity)
	}

	if !opts.NoNav {
		if nav := navigationRow(stack, opts.Transient); len(nav) > 0 {
			rows = append(rows, nav)
		}
	}

	return Markup{OneTime: opts.OneTime, Inline: opts.Inline, Rows: rows}
}

// place puts one rendered button on its requested row, opening implicit rows
// when the target is full or the hint points past the layout.
func place(rows [][]Rendered, r Rendered, hint, capacity int) [][]Rendered {
	if hint >= 0 {
		for hint >= len(rows) {
			rows = append(rows, nil)
		}
		if len(rows[hint]) < capacity {
			rows[hint] = append(rows[hint], r)
			return rows
		}
		// Requested row is full, fall through to an implicit trailing row.
	}
	if len(rows) == 0 || len(rows[len(rows)-1]) >= capacity {
		rows = append(rows, nil)
	}
	rows[len(rows)-1] = append(rows[len(rows)-1], r)
	return rows
}

// navigationRow builds the trailing back/home block. Back pops one frame, or
// two when the current screen is transient, and is omitted once there is
// nothing left to return to. Home always resets to the root menu.
func navigationRow(stack payload.Stack, transient bool) []Rendered {
	skip := 1
	if transient {
		skip = 2
	}

	var nav []Rendered
	if back := stack.Drop(skip); len(back) > 0 {
		nav = append(nav, Rendered{
			Label:   backLabel,
			Color:   ColorSecondary,
			Payload: payload.Encode(back),
		})
	}
	home := payload.Stack{payload.NewFrame("main")}
	nav = append(nav, Rendered{
		Label:   homeLabel,
		Color:   ColorSecondary,
		Payload: payload.Encode(home),
	})
	return nav
}

type wireAction struct {
	Type    string `json:"type"`
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

type wireButton struct {
	Action wireAction `json:"action"`
	Color  string     `json:"color"`
}

type wireKeyboard struct {
	OneTime bool           `json:"one_time"`
	Inline  bool           `json:"inline"`
	Buttons [][]wireButton `json:"buttons"`
}

// JSON serializes the markup to the VK keyboard wire format. Empty rows are
// dropped; button payloads are embedded as JSON strings.
func (m Markup) JSON() string {
	wire := wireKeyboard{
		OneTime: m.OneTime,
		Inline:  m.Inline,
		Buttons: make([][]wireButton, 0, len(m.Rows)),
	}
	for _, row := range m.Rows {
		if len(row) == 0 {
			continue
		}
		out := make([]wireButton, 0, len(row))
		for _, b := range row {
			out = append(out, wireButton{
				Action: wireAction{Type: "text", Label: b.Label, Payload: string(b.Payload)},
				Color:  b.Color,
			})
		}
		wire.Buttons = append(wire.Buttons, out)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		// Only reachable through invalid UTF-8 in labels; send an empty
		// keyboard rather than failing the reply.
		return `{"one_time":false,"inline":false,"buttons":[]}`
	}
	return string(data)
}
