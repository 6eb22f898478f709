package emailer

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sells-group/research-agent/internal/model"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
)

// tocEntry is one table-of-contents line derived from a markdown heading.
type tocEntry struct {
	title string
	slug  string
	level int
}

// renderHTML turns the markdown report into the full HTML mail document:
// styled container, table of contents with heading anchors, report body,
// and the shopping-list section when sanitized products exist.
func renderHTML(report model.ReportData, products []model.ProductItem) (string, error) {
	entries := buildTOC(report.MarkdownReport)

	var body bytes.Buffer
	if err := markdown.Convert([]byte(report.MarkdownReport), &body); err != nil {
		return "", eris.Wrap(err, "emailer: render markdown")
	}

	htmlBody := injectHeadingIDs(body.String(), entries)
	htmlBody = strings.ReplaceAll(htmlBody, "<table>", `<table class="table">`)

	title := extractTitle(report.MarkdownReport)

	var doc strings.Builder
	doc.WriteString("<html><head><meta charset=\"utf-8\" />")
	doc.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\" />")
	doc.WriteString("<style>")
	doc.WriteString(mailStyles)
	doc.WriteString("</style></head><body><div class=\"email-container\">")

	doc.WriteString("<header><h1>")
	doc.WriteString(html.EscapeString(title))
	doc.WriteString("</h1><p class=\"intro\">Premium DIY-Report, automatisch generiert, bitte lokal pruefen.</p></header>")

	doc.WriteString(renderTOC(entries))

	doc.WriteString("<div class=\"content\">")
	doc.WriteString(htmlBody)
	doc.WriteString("</div>")

	doc.WriteString(renderShoppingList(products))

	doc.WriteString("<footer><p class=\"footer-note\">Zu lang? Kopiere den Inhalt in deinen Editor oder oeffne die HTML-Datei im Browser.</p></footer>")
	doc.WriteString("</div></body></html>")

	return doc.String(), nil
}

// buildTOC collects H2/H3 headings in document order.
func buildTOC(md string) []tocEntry {
	var entries []tocEntry
	for _, line := range strings.Split(md, "\n") {
		switch {
		case strings.HasPrefix(line, "### "):
			text := strings.TrimSpace(line[4:])
			entries = append(entries, tocEntry{title: text, slug: slugify(text), level: 3})
		case strings.HasPrefix(line, "## "):
			text := strings.TrimSpace(line[3:])
			entries = append(entries, tocEntry{title: text, slug: slugify(text), level: 2})
		}
	}
	return entries
}

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func slugify(text string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if slug == "" {
		return "section"
	}
	return slug
}

// injectHeadingIDs rewrites the first rendered occurrence of each TOC
// heading to carry its anchor id.
func injectHeadingIDs(htmlBody string, entries []tocEntry) string {
	for _, e := range entries {
		plain := fmt.Sprintf("<h%d>%s</h%d>", e.level, html.EscapeString(e.title), e.level)
		anchored := fmt.Sprintf("<h%d id=%q>%s</h%d>", e.level, e.slug, html.EscapeString(e.title), e.level)
		htmlBody = strings.Replace(htmlBody, plain, anchored, 1)
	}
	return htmlBody
}

func renderTOC(entries []tocEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`<nav class="toc"><h2>Inhalt</h2><ul>`)
	for _, e := range entries {
		class := "toc-item"
		if e.level == 3 {
			class = "toc-subitem"
		}
		fmt.Fprintf(&sb, `<li class=%q><a href="#%s">%s</a></li>`, class, e.slug, html.EscapeString(e.title))
	}
	sb.WriteString("</ul></nav>")
	return sb.String()
}

// renderShoppingList renders the sanitized product records. URLs reach this
// point already canonicalized and allow-listed.
func renderShoppingList(products []model.ProductItem) string {
	if len(products) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`<section class="shopping"><h2>Einkaufsliste (Bauhaus-Links)</h2><ul>`)
	for _, p := range products {
		sb.WriteString("<li>")
		fmt.Fprintf(&sb, `<a href=%q>%s</a>`, p.URL, html.EscapeString(p.Title))
		if p.PriceText != "" {
			fmt.Fprintf(&sb, ` <span class="price">%s</span>`, html.EscapeString(p.PriceText))
		}
		if p.Note != "" {
			fmt.Fprintf(&sb, ` <span class="note">%s</span>`, html.EscapeString(p.Note))
		}
		sb.WriteString("</li>")
	}
	sb.WriteString("</ul></section>")
	return sb.String()
}

// extractTitle returns the first H1 of the report, or a generic fallback.
func extractTitle(md string) string {
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return "DIY-Projekt"
}

const mailStyles = `
body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif;
  margin: 0;
  padding: 2rem;
  background: #f4f6f9;
  color: #1f2933;
}
.email-container {
  max-width: 960px;
  margin: 0 auto;
  background: #ffffff;
  border-radius: 16px;
  padding: 2.5rem;
  box-shadow: 0 20px 60px rgba(15, 23, 42, 0.12);
  line-height: 1.7;
}
header h1 {
  font-size: 2.4rem;
  margin-bottom: 0.5rem;
}
.intro {
  color: #64748b;
  margin-top: 0;
}
.toc {
  margin: 2rem 0;
  padding: 1.5rem;
  background: rgba(99, 102, 241, 0.08);
  border-radius: 12px;
}
.toc ul {
  list-style: none;
  padding-left: 1rem;
  margin: 0;
}
.toc a {
  color: #4338ca;
  text-decoration: none;
}
h2 {
  margin-top: 2.5rem;
  font-size: 1.8rem;
  border-bottom: 2px solid rgba(99, 102, 241, 0.3);
  padding-bottom: 0.4rem;
}
h3 {
  margin-top: 1.8rem;
  font-size: 1.3rem;
}
blockquote {
  border-left: 4px solid rgba(99, 102, 241, 0.6);
  padding: 0.8rem 1.2rem;
  margin: 1.2rem 0;
  background: rgba(99, 102, 241, 0.08);
  border-radius: 8px;
  font-style: italic;
}
table {
  width: 100%;
  border-collapse: collapse;
  margin: 1.5rem 0;
}
table th,
table td {
  border: 1px solid rgba(148, 163, 184, 0.4);
  padding: 0.75rem;
  text-align: left;
}
table thead {
  background: rgba(99, 102, 241, 0.12);
}
.shopping .price {
  color: #047857;
  margin-left: 0.5rem;
}
.shopping .note {
  color: #64748b;
  margin-left: 0.5rem;
  font-size: 0.9rem;
}
.footer-note {
  margin-top: 3rem;
  font-size: 0.85rem;
  color: #94a3b8;
}
`
