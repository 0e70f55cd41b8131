package cmds

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/render"
)

// livePrinter writes assistant content to w as it is published, then the
// structured payload once the exchange settles.
type livePrinter struct {
	w        io.Writer
	renderer *render.Renderer

	mu      sync.Mutex
	current string
	shown   string
	last    *chat.Message
	printed bool
}

func newLivePrinter(w io.Writer, renderer *render.Renderer) *livePrinter {
	return &livePrinter{w: w, renderer: renderer}
}

func (p *livePrinter) Observe(s chat.Snapshot) {
	tail, ok := chat.Tail(s.Messages)
	if !ok || !tail.IsAssistant() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tail.ID != p.current {
		if p.shown != "" && !p.printed {
			_, _ = fmt.Fprintln(p.w)
		}
		p.current = tail.ID
		p.shown = ""
		p.printed = false
	}
	if d := render.Delta(p.shown, tail.Content); d != "" {
		_, _ = io.WriteString(p.w, d)
		p.printed = false
	}
	p.shown = tail.Content
	p.last = &tail
}

// Finish ends the current answer and prints its payload once.
func (p *livePrinter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || p.printed {
		return
	}
	p.printed = true
	_, _ = fmt.Fprintln(p.w)
	if out := p.renderer.Payload(p.last.Payload); out != "" {
		_, _ = io.WriteString(p.w, out)
	}
}

// Suggestions returns the suggestions of the most recent answer.
func (p *livePrinter) Suggestions() []chat.Suggestion {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || p.last.Payload == nil {
		return nil
	}
	return p.last.Payload.Suggestions
}
