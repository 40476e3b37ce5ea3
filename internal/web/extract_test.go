package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `
<html>
<head><title>  Release   Notes </title><script>tracking()</script></head>
<body>
	<nav><a href="/home">Home</a></nav>
	<h1>Version 2.0</h1>
	<p>See the <a href="/changelog">full changelog</a> for details.</p>
	<h2>Highlights</h2>
	<ul>
		<li>Faster <strong>startup</strong></li>
		<li>New <code>exec</code> backend</li>
	</ul>
	<ol>
		<li>First</li>
		<li>Second</li>
	</ol>
	<blockquote>Upgrade before June.</blockquote>
	<pre>pip install execbox
execbox serve</pre>
	<p><em>Published</em> yesterday</p>
	<img src="/diagram.png" alt="Architecture">
	<footer>Copyright</footer>
</body>
</html>`

// TestExtractMarkdownDocument tests the full block rendering of a page
func TestExtractMarkdownDocument(t *testing.T) {
	out, ok := ExtractMarkdown(articleHTML)
	require.True(t, ok)

	want := "# Release Notes\n\n" +
		"# Version 2.0\n\n" +
		"See the [full changelog](/changelog) for details.\n\n" +
		"## Highlights\n\n" +
		"- Faster **startup**\n- New `exec` backend\n\n" +
		"- First\n- Second\n\n" +
		"> Upgrade before June.\n\n" +
		"```\npip install execbox\nexecbox serve\n```\n\n" +
		"*Published* yesterday\n\n" +
		"![Architecture](/diagram.png)"
	assert.Equal(t, want, out)
}

// TestExtractMarkdownStripsChrome tests removal of scripts and navigation
func TestExtractMarkdownStripsChrome(t *testing.T) {
	out, ok := ExtractMarkdown(articleHTML)
	require.True(t, ok)
	assert.NotContains(t, out, "tracking")
	assert.NotContains(t, out, "Home")
	assert.NotContains(t, out, "Copyright")
}

// TestExtractMarkdownNothingUseful tests the failure signal for flat pages
func TestExtractMarkdownNothingUseful(t *testing.T) {
	_, ok := ExtractMarkdown("<html><body><div>loose text</div></body></html>")
	assert.False(t, ok)

	_, ok = ExtractMarkdown("")
	assert.False(t, ok)
}

// TestExtractMarkdownTitleOnly tests that a bare title still extracts
func TestExtractMarkdownTitleOnly(t *testing.T) {
	out, ok := ExtractMarkdown("<html><head><title>Just a Title</title></head><body></body></html>")
	require.True(t, ok)
	assert.Equal(t, "# Just a Title", out)
}

// TestExtractMarkdownAnchorFallbacks tests link rendering without text or href
func TestExtractMarkdownAnchorFallbacks(t *testing.T) {
	out, ok := ExtractMarkdown(`<html><body><p><a href="https://x.io/a"></a> and <a>bare</a></p></body></html>`)
	require.True(t, ok)
	assert.Equal(t, "[https://x.io/a](https://x.io/a) and bare", out)
}

// TestExtractMarkdownNestedList tests that list blocks inside items collapse
func TestExtractMarkdownNestedList(t *testing.T) {
	out, ok := ExtractMarkdown(`<html><body><ul><li>outer <ul><li>inner</li></ul></li></ul></body></html>`)
	require.True(t, ok)
	assert.Contains(t, out, "- outer inner")
}

// TestAddError tests both marker placements
func TestAddError(t *testing.T) {
	assert.Equal(t, "body\n\n<error>cut</error>", addError("body", "cut", true))
	assert.Equal(t, "<error>bad</error>\n\nbody", addError("body", "bad", false))
}

// TestCollapseSpace tests whitespace normalization
func TestCollapseSpace(t *testing.T) {
	assert.Equal(t, "a b c", collapseSpace("  a \t b\n\n c "))
	assert.Equal(t, "", collapseSpace(" \n\t "))
}
