// Package locator finds UI controls through ordered fallback strategies.
package locator

import (
	"context"
	"errors"
	"strings"

	"github.com/shehryarbajwa/flowreel/internal/page"
)

// ErrNotFound is returned when no strategy in a chain matched
var ErrNotFound = errors.New("element not found")

// Locator is one named strategy. Find returns nil without error on a miss.
type Locator struct {
	Name string
	Find func(ctx context.Context, p page.Page) (*page.Element, error)
}

// Chain tries locators in order; the first hit wins
type Chain []Locator

// First returns the first match and the name of the strategy that found it.
// A closed page aborts the chain; other query errors count as a miss.
func (c Chain) First(ctx context.Context, p page.Page) (*page.Element, string, error) {
	var lastErr error
	for _, l := range c {
		el, err := l.Find(ctx, p)
		if err != nil {
			if errors.Is(err, page.ErrClosed) || ctx.Err() != nil {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		if el != nil {
			return el, l.Name, nil
		}
	}
	if lastErr != nil {
		return nil, "", errors.Join(ErrNotFound, lastErr)
	}
	return nil, "", ErrNotFound
}

// ByCSS matches the first visible element for css
func ByCSS(css string) Locator {
	return Locator{
		Name: "css:" + css,
		Find: func(ctx context.Context, p page.Page) (*page.Element, error) {
			elems, err := p.Query(ctx, css)
			if err != nil {
				return nil, err
			}
			return firstVisible(elems, nil), nil
		},
	}
}

// ByPlaceholder matches css elements whose placeholder contains fragment
func ByPlaceholder(css, fragment string) Locator {
	return ByAttrContains(css, "placeholder", fragment)
}

// ByAttrContains matches css elements whose attr contains fragment, ignoring case
func ByAttrContains(css, attr, fragment string) Locator {
	frag := strings.ToLower(fragment)
	return Locator{
		Name: attr + ":" + fragment,
		Find: func(ctx context.Context, p page.Page) (*page.Element, error) {
			elems, err := p.Query(ctx, css)
			if err != nil {
				return nil, err
			}
			return firstVisible(elems, func(e page.Element) bool {
				return strings.Contains(strings.ToLower(e.Attr(attr)), frag)
			}), nil
		},
	}
}

// OnlyOfType matches when css has exactly one visible element on the page
func OnlyOfType(css string) Locator {
	return Locator{
		Name: "only:" + css,
		Find: func(ctx context.Context, p page.Page) (*page.Element, error) {
			elems, err := p.Query(ctx, css)
			if err != nil {
				return nil, err
			}
			var only *page.Element
			for i := range elems {
				if !elems[i].Visible {
					continue
				}
				if only != nil {
					return nil, nil
				}
				only = &elems[i]
			}
			return only, nil
		},
	}
}

// TextOptions narrow a text match
type TextOptions struct {
	// Exclude drops elements whose text contains any of these fragments
	Exclude []string
	// SkipNav drops elements inside navigation chrome
	SkipNav bool
	// Exact requires the trimmed text to equal the wanted text
	Exact bool
}

// ByText matches css elements by visible text. Texts are tried in order so
// earlier entries take priority.
func ByText(css string, texts []string, opts TextOptions) Locator {
	return Locator{
		Name: "text:" + strings.Join(texts, "|"),
		Find: func(ctx context.Context, p page.Page) (*page.Element, error) {
			elems, err := p.Query(ctx, css)
			if err != nil {
				return nil, err
			}
			return MatchText(elems, texts, opts), nil
		},
	}
}

// MatchText applies ByText's rules to an already queried list
func MatchText(elems []page.Element, texts []string, opts TextOptions) *page.Element {
	for _, want := range texts {
		w := strings.ToLower(want)
		el := firstVisible(elems, func(e page.Element) bool {
			if opts.SkipNav && e.InNav {
				return false
			}
			text := strings.ToLower(strings.TrimSpace(e.Text))
			if ContainsAny(text, opts.Exclude) {
				return false
			}
			if opts.Exact {
				return text == w
			}
			return strings.Contains(text, w)
		})
		if el != nil {
			return el
		}
	}
	return nil
}

// ContainsAny reports whether s contains any fragment, ignoring case
func ContainsAny(s string, fragments []string) bool {
	s = strings.ToLower(s)
	for _, f := range fragments {
		if f != "" && strings.Contains(s, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func firstVisible(elems []page.Element, match func(page.Element) bool) *page.Element {
	for i := range elems {
		if !elems[i].Visible {
			continue
		}
		if match == nil || match(elems[i]) {
			return &elems[i]
		}
	}
	return nil
}
