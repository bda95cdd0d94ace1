package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInventory(t *testing.T) {
	html := `<html><head><title> Shop </title></head><body>
<header><nav>
  <a href="/">Home</a>
  <a id="cart-link" href="/cart">Cart</a>
  <a href="#">skip</a>
</nav></header>
<form>
  <input name="email" type="email" placeholder="you@example.com">
  <input type="hidden" name="csrf" value="x">
  <textarea class="note big"></textarea>
  <select id="size"><option>M</option></select>
  <input type="submit" value="Buy now">
</form>
<div><span><button>Two</button><button>Three</button></span></div>
<a href="javascript:void(0)">noop</a>
</body></html>`

	inv, err := ParseInventory(html)
	require.NoError(t, err)
	assert.Equal(t, "Shop", inv.Title)
	assert.False(t, inv.IsSPA)

	byType := map[string][]Element{}
	for _, el := range inv.Elements {
		byType[el.Type] = append(byType[el.Type], el)
	}

	require.Len(t, byType["email"], 1)
	assert.Equal(t, `[name="email"]`, byType["email"][0].Selector)
	assert.Equal(t, "you@example.com", byType["email"][0].Placeholder)

	require.Len(t, byType["text"], 1)
	assert.Equal(t, "textarea.note.big", byType["text"][0].Selector)

	require.Len(t, byType["select"], 1)
	assert.Equal(t, "#size", byType["select"][0].Selector)

	require.Len(t, byType["button"], 3)
	assert.Equal(t, "Buy now", byType["button"][0].Text)
	assert.Equal(t, "body > div:nth-child(3) > span:nth-child(1) > button:nth-child(2)", byType["button"][2].Selector)

	for _, el := range byType["link"] {
		assert.NotContains(t, el.Selector, "javascript")
	}

	require.Len(t, inv.Navigation, 2)
	assert.Equal(t, `a[href="/"]`, inv.Navigation[0].Selector)
	assert.Equal(t, "#cart-link", inv.Navigation[1].Selector)
}

func TestParseInventoryDetectsSPA(t *testing.T) {
	inv, err := ParseInventory(`<html><body><div id="__next"></div></body></html>`)
	require.NoError(t, err)
	assert.True(t, inv.IsSPA)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b", clip("  a \n  b ", 10))
	assert.Equal(t, "héllo", clip("héllo world", 5))
}
