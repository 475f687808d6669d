package documents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSectionsHeadingStyles(t *testing.T) {
	raw := "Intro line.\n" +
		"## Business Overview\n" +
		"A regional maker of widgets.\n" +
		"\n" +
		"1. Purchase Price\n" +
		"To be agreed.\n" +
		"**Ideal Buyer**\n" +
		"A trade buyer.\n" +
		"Key figures:\n" +
		"Revenue: 3.5M\n"

	sections := SplitSections(raw)
	require.Len(t, sections, 5)
	assert.Equal(t, Section{Body: "Intro line."}, sections[0])
	assert.Equal(t, "Business Overview", sections[1].Title)
	assert.Equal(t, "A regional maker of widgets.", sections[1].Body)
	assert.Equal(t, "Purchase Price", sections[2].Title)
	assert.Equal(t, "Ideal Buyer", sections[3].Title)
	assert.Equal(t, "Key figures", sections[4].Title)
	assert.Equal(t, "Revenue: 3.5M", sections[4].Body)
}

func TestSplitSectionsIgnoresSentencesAndFences(t *testing.T) {
	raw := "## Terms\n" +
		"1. The buyer acquires all shares of the company on closing.\n" +
		"```\n" +
		"# not a title\n" +
		"```\n"

	sections := SplitSections(raw)
	require.Len(t, sections, 1)
	assert.Equal(t, "Terms", sections[0].Title)
	assert.Contains(t, sections[0].Body, "acquires all shares")
	assert.Contains(t, sections[0].Body, "# not a title")
}

func TestStripMarkdown(t *testing.T) {
	in := "Some **bold** and *italic* text with `code`.\n" +
		"\n" +
		"- first item\n" +
		"- second _item_\n" +
		"\n" +
		"<div>raw html</div>\n" +
		"\n" +
		"See <https://example.com>."

	out := StripMarkdown(in)
	assert.Equal(t,
		"Some bold and italic text with code.\n\nfirst item\nsecond item\n\nSee https://example.com.",
		out)
}

func TestStripMarkdownKeepsFencedContent(t *testing.T) {
	out := StripMarkdown("```text\nline one\nline two\n```")
	assert.Equal(t, "line one\nline two", out)
}

func TestProcessAndRenderHTML(t *testing.T) {
	raw := "## Financial *Highlights*\n" +
		"Revenue grew **12%**.\n" +
		"Margins & cash flow are stable.\n" +
		"\n" +
		"Second paragraph <script>alert(1)</script>\n"

	sections := Process(raw)
	require.Len(t, sections, 1)
	assert.Equal(t, "Financial Highlights", sections[0].Title)

	html := RenderHTML(sections)
	assert.Contains(t, html, "<section><h2>Financial Highlights</h2>")
	assert.Contains(t, html, "<p>Revenue grew 12%.<br/>Margins &amp; cash flow are stable.</p>")
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "alert(1)</script>")
}

func TestRenderHTMLEscapesText(t *testing.T) {
	html := RenderHTML([]Section{{Title: "<b>Title</b>", Body: "<img src=x onerror=alert(1)>"}})
	assert.NotContains(t, html, "<b>")
	assert.NotContains(t, html, "<img")
	assert.Contains(t, html, "&lt;b&gt;Title&lt;/b&gt;")
}

func TestProcessDropsEmptyOutput(t *testing.T) {
	assert.Empty(t, Process("```\n```\n"))
	assert.Empty(t, Process("   \n\n"))
}
