// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/util"
)

// =============================================================================
// TERMINAL DISPLAY
// =============================================================================

// TerminalDisplay renders a response into a terminal and redraws it in
// place as fragments arrive. Only the current response area is ever
// erased; earlier output stays untouched.
type TerminalDisplay struct {
	r   *Renderer
	out *termenv.Output

	mu      sync.Mutex
	order   []string
	regions map[string]string
	text    string // placeholder text, when shown
	lines   int    // rows currently occupied by the response area
}

// NewTerminalDisplay creates a display writing to w.
func NewTerminalDisplay(w io.Writer, r *Renderer) *TerminalDisplay {
	return &TerminalDisplay{
		r:       r,
		out:     termenv.NewOutput(w),
		regions: make(map[string]string),
	}
}

func (d *TerminalDisplay) Placeholder(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = nil
	d.regions = make(map[string]string)
	d.text = d.r.Placeholder(text)
	d.redraw()
}

func (d *TerminalDisplay) Update(id string, msg model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.regions[id]; !ok {
		d.order = append(d.order, id)
	}
	d.regions[id] = strings.TrimRight(d.r.Live(msg), "\n")
	d.text = ""
	d.redraw()
}

func (d *TerminalDisplay) Replace(msgs []model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.erase()
	if out := strings.TrimRight(d.r.Messages(msgs), "\n"); out != "" {
		d.out.WriteString(out + "\n")
	}
	d.order = nil
	d.regions = make(map[string]string)
	d.text = ""
	d.lines = 0
}

// redraw erases the response area and writes it again. Caller holds mu.
func (d *TerminalDisplay) redraw() {
	d.erase()

	var block string
	if d.text != "" {
		block = d.text
	} else {
		parts := make([]string, 0, len(d.order))
		for _, id := range d.order {
			if s := d.regions[id]; s != "" {
				parts = append(parts, s)
			}
		}
		block = strings.Join(parts, "\n")
	}
	if block == "" {
		return
	}
	d.out.WriteString(block + "\n")
	d.lines = util.DisplayLines(block, d.r.Width())
}

// erase clears the rows written by the last redraw. Caller holds mu.
func (d *TerminalDisplay) erase() {
	if d.lines == 0 {
		return
	}
	d.out.ClearLines(d.lines)
	d.lines = 0
}

// =============================================================================
// PLAIN DISPLAY
// =============================================================================

// PlainDisplay writes only final responses. It is used when output is not
// a terminal, so pipes receive clean text.
type PlainDisplay struct {
	r  *Renderer
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplay creates a display writing to w.
func NewPlainDisplay(w io.Writer, r *Renderer) *PlainDisplay {
	return &PlainDisplay{r: r, w: w}
}

func (d *PlainDisplay) Placeholder(string) {}

func (d *PlainDisplay) Update(string, model.Message) {}

func (d *PlainDisplay) Replace(msgs []model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if out := strings.TrimRight(d.r.Messages(msgs), "\n"); out != "" {
		io.WriteString(d.w, out+"\n")
	}
}
