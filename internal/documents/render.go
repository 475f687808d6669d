package documents

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one titled part of a generated document. The leading part of a
// document that comes before any title has an empty Title.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const maxTitleWords = 8

var (
	markdownTitle = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`)
	numberedTitle = regexp.MustCompile(`^\d{1,2}[.)]\s+(.+)$`)
	boldTitle     = regexp.MustCompile(`^(?:\*\*|__)(.+?)(?:\*\*|__):?$`)
)

// only what RenderHTML emits survives
var documentPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("section", "h2", "p", "br")
	return p
}()

// Process splits raw model output into sections and strips markdown from
// each title and body.
func Process(raw string) []Section {
	split := SplitSections(raw)
	out := make([]Section, 0, len(split))
	for _, s := range split {
		s.Title = strings.TrimSpace(StripMarkdown(s.Title))
		s.Body = strings.TrimSpace(StripMarkdown(s.Body))
		if s.Title == "" && s.Body == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SplitSections cuts text at title lines: markdown headings, short numbered
// lines such as "2. Purchase Price", bold-only lines and short lines ending
// in a colon. Lines inside code fences are never titles.
func SplitSections(raw string) []Section {
	var (
		out     []Section
		current Section
		body    []string
		inFence bool
	)
	flush := func() {
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Title != "" || current.Body != "" {
			out = append(out, current)
		}
		current, body = Section{}, nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			body = append(body, line)
			continue
		}
		if !inFence {
			if title, ok := headingTitle(trimmed); ok {
				flush()
				current.Title = title
				continue
			}
		}
		body = append(body, line)
	}
	flush()
	return out
}

func headingTitle(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	if m := markdownTitle.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := boldTitle.FindStringSubmatch(line); m != nil && shortTitle(m[1]) {
		return m[1], true
	}
	if m := numberedTitle.FindStringSubmatch(line); m != nil {
		t := m[1]
		if shortTitle(t) && !strings.HasSuffix(t, ".") {
			return strings.TrimSuffix(t, ":"), true
		}
		return "", false
	}
	if strings.HasSuffix(line, ":") && shortTitle(line) {
		return strings.TrimSuffix(line, ":"), true
	}
	return "", false
}

func shortTitle(s string) bool {
	n := len(strings.Fields(s))
	return n > 0 && n <= maxTitleWords
}

type block struct {
	text  string
	tight bool
}

// StripMarkdown returns the plain text of a markdown fragment: heading
// markers, emphasis, inline code, fences, list bullets and raw HTML are
// removed. Paragraphs stay separated by a blank line, tight list items by a
// single newline.
func StripMarkdown(s string) string {
	src := []byte(s)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var blocks []block
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.Heading, *ast.Paragraph:
			var b strings.Builder
			inlineText(n, src, &b)
			blocks = append(blocks, block{text: b.String()})
			return ast.WalkSkipChildren, nil
		case *ast.TextBlock:
			var b strings.Builder
			inlineText(n, src, &b)
			blocks = append(blocks, block{text: b.String(), tight: true})
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			var b strings.Builder
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			blocks = append(blocks, block{text: b.String()})
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	var out strings.Builder
	prevTight := false
	for _, bl := range blocks {
		t := strings.TrimSpace(bl.text)
		if t == "" {
			continue
		}
		if out.Len() > 0 {
			if bl.tight && prevTight {
				out.WriteString("\n")
			} else {
				out.WriteString("\n\n")
			}
		}
		out.WriteString(t)
		prevTight = bl.tight
	}
	return out.String()
}

func inlineText(n ast.Node, src []byte, b *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(src))
		case *ast.RawHTML:
		default:
			inlineText(c, src, b)
		}
	}
}

// RenderHTML renders sections as sanitized HTML. Blank lines in a body start
// a new paragraph and single newlines become line breaks.
func RenderHTML(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString("<section>")
		if s.Title != "" {
			b.WriteString("<h2>")
			b.WriteString(html.EscapeString(s.Title))
			b.WriteString("</h2>")
		}
		for _, para := range paragraphs(s.Body) {
			lines := strings.Split(para, "\n")
			for i := range lines {
				lines[i] = html.EscapeString(strings.TrimSpace(lines[i]))
			}
			b.WriteString("<p>")
			b.WriteString(strings.Join(lines, "<br/>"))
			b.WriteString("</p>")
		}
		b.WriteString("</section>")
	}
	return documentPolicy.Sanitize(b.String())
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
