package render

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	reasonStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#AFAFAF")).MarginLeft(2)
	chipStyle      = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

type Options struct {
	// Styled enables markdown rendering and colours. Leave it off when the
	// output is not a terminal.
	Styled bool
	Width  int
	Style  string
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Renderer formats transcript messages for the terminal.
type Renderer struct {
	opts Options
	md   *glamour.TermRenderer
}

func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 {
		opts.Width = 100
	}
	if opts.Style == "" {
		opts.Style = "dark"
	}
	r := &Renderer{opts: opts}
	if opts.Styled {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(opts.Style),
			glamour.WithWordWrap(opts.Width),
		)
		if err != nil {
			return nil, errors.Wrap(err, "markdown renderer")
		}
		r.md = md
	}
	return r, nil
}

func (r *Renderer) Transcript(msgs []chat.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.Message(m))
	}
	return strings.Join(parts, "\n")
}

func (r *Renderer) Message(m chat.Message) string {
	var b strings.Builder
	b.WriteString(r.label(m.Role))
	b.WriteString("\n")
	b.WriteString(r.content(m.Content))
	if !m.Payload.IsEmpty() {
		b.WriteString(r.Payload(m.Payload))
	}
	return b.String()
}

// Payload renders media items, the recommendation reason and numbered
// suggestions. Suggestion numbers start at 1 and match Suggestions order.
func (r *Renderer) Payload(p *chat.Payload) string {
	if p.IsEmpty() {
		return ""
	}
	var b strings.Builder
	for _, item := range p.MediaItems {
		b.WriteString(r.media(item))
	}
	if p.RecommendationReason != "" {
		b.WriteString(r.style(reasonStyle, p.RecommendationReason))
		b.WriteString("\n")
	}
	if len(p.Suggestions) > 0 {
		chips := make([]string, 0, len(p.Suggestions))
		for i, s := range p.Suggestions {
			label := fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(s.Icon+" "+s.Text))
			if r.opts.Styled {
				chips = append(chips, chipStyle.Render(label))
			} else {
				chips = append(chips, "["+label+"]")
			}
		}
		if r.opts.Styled {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, chips...))
		} else {
			b.WriteString(strings.Join(chips, " "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) media(item chat.MediaItem) string {
	head := item.Title
	if item.ReleaseYear > 0 {
		head += " (" + strconv.Itoa(item.ReleaseYear) + ")"
	}
	var facts []string
	if len(item.Genre) > 0 {
		facts = append(facts, strings.Join(item.Genre, ", "))
	}
	if item.Rating > 0 {
		facts = append(facts, "★ "+strconv.FormatFloat(item.Rating, 'f', 1, 64))
	}
	if item.Duration != "" {
		facts = append(facts, item.Duration)
	}
	if item.Director != "" {
		facts = append(facts, "dir. "+item.Director)
	}

	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(r.style(titleStyle, head))
	if len(facts) > 0 {
		b.WriteString("  ")
		b.WriteString(r.style(dimStyle, strings.Join(facts, " · ")))
	}
	b.WriteString("\n")
	if d := item.Description(); d != "" {
		b.WriteString("    ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

func (r *Renderer) label(role chat.Role) string {
	if role == chat.RoleUser {
		return r.style(userStyle, "you")
	}
	return r.style(assistantStyle, "assistant")
}

func (r *Renderer) content(s string) string {
	if r.md != nil {
		if out, err := r.md.Render(s); err == nil {
			return out
		}
	}
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func (r *Renderer) style(st lipgloss.Style, s string) string {
	if !r.opts.Styled {
		return s
	}
	return st.Render(s)
}

// Delta returns what to print after prev has been shown so the screen reads
// next. Published content only grows, so this is normally a suffix; anything
// else restarts on a fresh line.
func Delta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return "\n" + next
}
