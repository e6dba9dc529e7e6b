package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
  <title>Sources Sought: IT Modernization</title>
  <meta name="description" content="Market research notice for cloud services.">
  <script>trackPageView();</script>
  <style>.banner { color: red; }</style>
</head>
<body>
  <nav><a href="/">Home</a><a href="/search">Search</a></nav>
  <header>Site banner text</header>
  <h1>IT Modernization Support</h1>
  <p>The <strong>General Services Administration</strong> seeks sources for cloud migration.</p>
  <h2>Requirements</h2>
  <ul>
    <li>FedRAMP Moderate authorization</li>
    <li>Active facility clearance</li>
  </ul>
  <footer>Contact webmaster@example.gov</footer>
</body>
</html>`

func TestExtractHTML_VisibleTextOnly(t *testing.T) {
	result, err := extractHTML([]byte(testPage))

	require.NoError(t, err)

	assert.Equal(t, "Sources Sought: IT Modernization", result.Metadata["title"])
	assert.Equal(t, "Market research notice for cloud services.", result.Metadata["description"])

	// Scripts, styles, nav, header, and footer are invisible.
	assert.NotContains(t, result.FullText, "trackPageView")
	assert.NotContains(t, result.FullText, "banner")
	assert.NotContains(t, result.FullText, "Home")
	assert.NotContains(t, result.FullText, "webmaster")

	assert.Contains(t, result.FullText, "IT Modernization Support")
	assert.Contains(t, result.FullText, "The General Services Administration seeks sources for cloud migration.")
}

func TestExtractHTML_Structure(t *testing.T) {
	result, err := extractHTML([]byte(testPage))

	require.NoError(t, err)

	var headings, listItems []string
	for _, b := range result.Structure {
		switch b.Kind {
		case BlockHeading:
			headings = append(headings, b.Text)
		case BlockListItem:
			listItems = append(listItems, b.Text)
		}
	}

	assert.Equal(t, []string{"IT Modernization Support", "Requirements"}, headings)
	assert.Equal(t, []string{"FedRAMP Moderate authorization", "Active facility clearance"}, listItems)
}

func TestExtractHTML_TitleLeadsFullText(t *testing.T) {
	e := NewExtractor(Config{})

	result := e.Extract(context.Background(), []byte(testPage), "notice.html")

	require.True(t, result.Success)
	assert.Equal(t, FormatHTML, result.Format)
	assert.True(t, len(result.FullText) > 0)
	assert.Contains(t, result.FullText, "Sources Sought: IT Modernization")
}

func TestExtractHTML_InlineTagsDoNotSplitParagraphs(t *testing.T) {
	page := `<html><body><p>alpha <em>beta</em> gamma</p></body></html>`

	result, err := extractHTML([]byte(page))

	require.NoError(t, err)
	require.Len(t, result.Structure, 1)
	assert.Equal(t, "alpha beta gamma", result.Structure[0].Text)
}
