package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	sprig "github.com/Masterminds/sprig/v3"

	"github.com/l0p7/hnedge/internal/hn"
)

//go:embed html/*.tmpl
var builtin embed.FS

// NavEntry is one link of the site navigation.
type NavEntry struct {
	Path  string
	Label string
}

var navigation = []NavEntry{
	{Path: "/news", Label: "top"},
	{Path: "/newest", Label: "new"},
	{Path: "/best", Label: "best"},
	{Path: "/ask", Label: "ask"},
	{Path: "/show", Label: "show"},
	{Path: "/jobs", Label: "jobs"},
}

// Renderer holds the parsed page set. Each page is the shared layout plus the
// page's own "content" definition. Pages found in the sandbox replace the
// embedded ones by file name (for example feed.tmpl).
type Renderer struct {
	sandbox *Sandbox
	now     func() time.Time
	pages   map[string]*template.Template
}

// NewRenderer parses every page up front so template errors surface at start
// up rather than on the first request. sandbox may be nil.
func NewRenderer(sandbox *Sandbox) (*Renderer, error) {
	r := &Renderer{sandbox: sandbox, now: time.Now, pages: make(map[string]*template.Template, len(pageNames))}

	layout, err := r.source("layout")
	if err != nil {
		return nil, err
	}
	base, err := template.New("base").Funcs(r.funcMap()).Option("missingkey=zero").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("templates: compile layout: %w", err)
	}
	for _, name := range pageNames {
		src, err := r.source(name)
		if err != nil {
			return nil, err
		}
		page, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("templates: clone layout: %w", err)
		}
		if _, err := page.Parse(src); err != nil {
			return nil, fmt.Errorf("templates: compile %q: %w", name, err)
		}
		r.pages[name] = page
	}
	return r, nil
}

func (r *Renderer) Sandbox() *Sandbox { return r.sandbox }

// Render executes page with data and writes the full HTML document to w.
func (r *Renderer) Render(w io.Writer, page string, data any) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("templates: unknown page %q", page)
	}
	// Buffer so a failing template never leaves a half-written document.
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("templates: execute %q: %w", page, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// RenderBytes is Render into a byte slice.
func (r *Renderer) RenderBytes(page string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, page, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) source(name string) (string, error) {
	file := name + ".tmpl"
	override, ok, err := r.sandbox.ReadOverride(file)
	if err != nil {
		return "", err
	}
	if ok {
		return string(override), nil
	}
	contents, err := builtin.ReadFile("html/" + file)
	if err != nil {
		return "", fmt.Errorf("templates: builtin %q: %w", file, err)
	}
	return string(contents), nil
}

func (r *Renderer) funcMap() template.FuncMap {
	funcs := sprig.FuncMap()
	// Templates must not read the process environment or the filesystem.
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	funcs["navigation"] = func() []NavEntry { return navigation }
	funcs["domain"] = func(item *hn.Item) string { return item.Domain() }
	funcs["plural"] = plural
	funcs["timeago"] = func(unix int64) string { return timeAgo(r.now(), unix) }
	funcs["isoTime"] = func(unix int64) string { return time.Unix(unix, 0).UTC().Format(time.RFC3339) }
	// HN serves comment and profile text as already-escaped HTML.
	funcs["trusted"] = func(s string) template.HTML { return template.HTML(s) }
	return funcs
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func timeAgo(now time.Time, unix int64) string {
	if unix <= 0 {
		return ""
	}
	elapsed := now.Sub(time.Unix(unix, 0))
	var (
		n    int
		unit string
	)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		n, unit = int(elapsed/time.Minute), "minute"
	case elapsed < 24*time.Hour:
		n, unit = int(elapsed/time.Hour), "hour"
	case elapsed < 30*24*time.Hour:
		n, unit = int(elapsed/(24*time.Hour)), "day"
	case elapsed < 365*24*time.Hour:
		n, unit = int(elapsed/(30*24*time.Hour)), "month"
	default:
		n, unit = int(elapsed/(365*24*time.Hour)), "year"
	}
	return strings.Join([]string{strconv.Itoa(n), plural(n, unit, unit+"s"), "ago"}, " ")
}
