package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Inventory is a summary of what a page offers for interaction. It feeds
// script drafting.
type Inventory struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Elements   []Element `json:"elements"`
	Navigation []NavItem `json:"navigation"`
	IsSPA      bool      `json:"isSPA"`
}

// Element is an interactive element found on the page.
type Element struct {
	Selector    string `json:"selector"`
	Type        string `json:"type"` // button, input type, link, select
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
}

// NavItem is a link inside the page navigation.
type NavItem struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Href     string `json:"href"`
}

const (
	maxElementText = 50
	maxNavText     = 30
)

// Inventory snapshots the current page markup and catalogues it.
func (e *Engine) Inventory(ctx context.Context, pageID string) (*Inventory, error) {
	html, err := e.GetContent(ctx, pageID)
	if err != nil {
		return nil, err
	}
	u, err := e.ExecuteScript(ctx, `() => window.location.href`, pageID)
	if err != nil {
		return nil, err
	}
	inv, err := ParseInventory(html)
	if err != nil {
		return nil, err
	}
	inv.URL, _ = u.(string)
	return inv, nil
}

// ParseInventory catalogues the interactive elements in html.
func ParseInventory(html string) (*Inventory, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	inv := &Inventory{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		IsSPA: detectSPA(doc),
	}
	seen := make(map[string]bool)
	add := func(el Element) {
		if seen[el.Selector] {
			return
		}
		seen[el.Selector] = true
		inv.Elements = append(inv.Elements, el)
	}

	doc.Find(`button, [role="button"], input[type="submit"], input[type="button"]`).Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			text = s.AttrOr("value", "")
		}
		add(Element{
			Selector: selectorFor(doc, s),
			Type:     "button",
			Text:     clip(text, maxElementText),
			ID:       s.AttrOr("id", ""),
			Name:     s.AttrOr("name", ""),
		})
	})

	doc.Find(`input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea`).Each(func(_ int, s *goquery.Selection) {
		typ := s.AttrOr("type", "")
		if typ == "" {
			typ = "text"
		}
		add(Element{
			Selector:    selectorFor(doc, s),
			Type:        typ,
			Placeholder: s.AttrOr("placeholder", ""),
			ID:          s.AttrOr("id", ""),
			Name:        s.AttrOr("name", ""),
		})
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		add(Element{
			Selector: selectorFor(doc, s),
			Type:     "link",
			Text:     clip(s.Text(), maxElementText),
			ID:       s.AttrOr("id", ""),
		})
	})

	doc.Find("select").Each(func(_ int, s *goquery.Selection) {
		add(Element{
			Selector: selectorFor(doc, s),
			Type:     "select",
			ID:       s.AttrOr("id", ""),
			Name:     s.AttrOr("name", ""),
		})
	})

	hrefs := make(map[string]bool)
	doc.Find(`nav a, header a, [role="navigation"] a`).Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") || hrefs[href] {
			return
		}
		hrefs[href] = true
		sel := `a[href="` + href + `"]`
		if id := s.AttrOr("id", ""); id != "" {
			sel = "#" + id
		}
		inv.Navigation = append(inv.Navigation, NavItem{
			Selector: sel,
			Text:     clip(s.Text(), maxNavText),
			Href:     href,
		})
	})

	return inv, nil
}

var (
	// css identifiers usable without escaping
	plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	spaMarkers = []string{"[data-reactroot]", "#__next", "[ng-version]", "app-root", "#app[data-v-app]", "[data-svelte-h]"}
)

func detectSPA(doc *goquery.Document) bool {
	for _, m := range spaMarkers {
		if doc.Find(m).Length() > 0 {
			return true
		}
	}
	return false
}

// selectorFor derives a selector that matches s, preferring id, then
// name, then a unique class pair, then an nth-child chain.
func selectorFor(doc *goquery.Document, s *goquery.Selection) string {
	if id := s.AttrOr("id", ""); plainIdent.MatchString(id) {
		return "#" + id
	}
	if name := s.AttrOr("name", ""); name != "" {
		return `[name="` + name + `"]`
	}

	tag := goquery.NodeName(s)
	var classes []string
	for _, c := range strings.Fields(s.AttrOr("class", "")) {
		if plainIdent.MatchString(c) {
			classes = append(classes, c)
		}
		if len(classes) == 2 {
			break
		}
	}
	if len(classes) > 0 {
		sel := tag + "." + strings.Join(classes, ".")
		if doc.Find(sel).Length() == 1 {
			return sel
		}
	}

	parent := s.Parent()
	if parent.Length() == 0 || goquery.NodeName(parent) == "html" {
		return tag
	}
	index := s.PrevAll().Length() + 1
	return selectorFor(doc, parent) + " > " + tag + ":nth-child(" + strconv.Itoa(index) + ")"
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
