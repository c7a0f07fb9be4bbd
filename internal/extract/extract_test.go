package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/harvest/internal/domain"
)

const page = `<html><body>
<div id="main">
  <h1 class="title">  The   Title </h1>
  <a class="link" href="/title/tt0001/?ref=x">link</a>
  <ul class="chips"><li>Drama</li><li> </li><li>Crime</li></ul>
  <table><tr><td>A</td><td>B</td><td>C</td></tr></table>
</div>
</body></html>`

func TestText_HitAndNormalize(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	v, ok := Text(doc.Selection, CSS("h1.title"))
	require.True(t, ok)
	require.Equal(t, "The Title", v)

	href, ok := Text(doc.Selection, CSS("a.link").WithAttr("href"))
	require.True(t, ok)
	require.Equal(t, "/title/tt0001/?ref=x", href)

	cell, ok := Text(doc.Selection, CSS("td").At(2))
	require.True(t, ok)
	require.Equal(t, "C", cell)
}

func TestText_MissIsNotAnError(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	cases := []Locator{
		CSS("h2.nope"),
		CSS("a.link").WithAttr("data-missing"),
		CSS("td").At(9),
		CSS("td").At(-1),
		CSS(""),
		CSS("div[[[bad"),
	}
	for _, loc := range cases {
		_, ok := Text(doc.Selection, loc)
		require.False(t, ok, "locator=%s", loc)
	}
	_, ok := Text(nil, CSS("h1"))
	require.False(t, ok)
}

func TestTextOr_MapsToSentinel(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	require.Equal(t, domain.NotFound, TextOr(doc.Selection, CSS(".missing"), domain.FieldText))
	require.Equal(t, domain.ZeroVotes, TextOr(doc.Selection, CSS(".missing"), domain.FieldVoteCount))
	require.Equal(t, domain.Anonymous, TextOr(doc.Selection, CSS(".missing"), domain.FieldReviewer))
	require.Equal(t, "The Title", TextOr(doc.Selection, CSS("h1.title"), domain.FieldReviewer))
}

func TestTexts_SkipsBlankKeepsOrder(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	require.Equal(t, []string{"Drama", "Crime"}, Texts(doc.Selection, CSS("ul.chips li")))
	require.Empty(t, Texts(doc.Selection, CSS("ol li")))
}

func TestFirstOf_FallsBack(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	v, ok := FirstOf(doc.Selection, CSS("#main > section > div"), CSS("h1.title"))
	require.True(t, ok)
	require.Equal(t, "The Title", v)

	_, ok = FirstOf(doc.Selection, CSS(".a"), CSS(".b"))
	require.False(t, ok)
}

func TestAll_ReturnsEachBlock(t *testing.T) {
	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	require.Len(t, All(doc.Selection, "td"), 3)
	require.Empty(t, All(doc.Selection, ""))
}
