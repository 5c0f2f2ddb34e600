// Package locator finds page elements by trying ordered selector candidates,
// so a markup change on the target site only has to be absorbed here.
package locator

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/tablecast/internal/browser"
)

// Querier is the part of browser.Page a strategy needs.
type Querier interface {
	Query(ctx context.Context, selector string) ([]browser.Element, error)
}

// Predicate filters the nodes a selector matched.
type Predicate func(browser.Element) bool

// Candidate is one lookup rule. A nil Match accepts any node.
type Candidate struct {
	Selector string
	Match    Predicate
}

func (c Candidate) accepts(e browser.Element) bool {
	return c.Match == nil || c.Match(e)
}

// Strategy is an ordered list of candidates. It holds no state and can be
// shared by concurrent requests.
type Strategy struct {
	Name       string
	Candidates []Candidate
}

// New builds a strategy that applies match to each selector in order.
func New(name string, match Predicate, selectors ...string) Strategy {
	s := Strategy{Name: name, Candidates: make([]Candidate, 0, len(selectors))}
	for _, sel := range selectors {
		s.Candidates = append(s.Candidates, Candidate{Selector: sel, Match: match})
	}
	return s
}

// Find returns the first node, in candidate order then document order, that
// its candidate accepts. A miss is (zero, false, nil); an error means the
// session or ctx is gone.
func (s Strategy) Find(ctx context.Context, q Querier) (browser.Element, bool, error) {
	for _, c := range s.Candidates {
		els, err := q.Query(ctx, c.Selector)
		if err != nil {
			return browser.Element{}, false, err
		}
		for _, e := range els {
			if c.accepts(e) {
				return e, true, nil
			}
		}
	}
	return browser.Element{}, false, nil
}

// FindAll returns every accepted node across all candidates without
// duplicates, stopping once limit nodes are collected. limit <= 0 means no limit.
func (s Strategy) FindAll(ctx context.Context, q Querier, limit int) ([]browser.Element, error) {
	var (
		out  []browser.Element
		seen = make(map[string]struct{})
	)
	for _, c := range s.Candidates {
		els, err := q.Query(ctx, c.Selector)
		if err != nil {
			return out, err
		}
		for _, e := range els {
			if _, dup := seen[e.Ref]; dup || !c.accepts(e) {
				continue
			}
			seen[e.Ref] = struct{}{}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Await polls Find until it succeeds or timeout passes. Running out of time
// is a miss, not an error.
func (s Strategy) Await(ctx context.Context, q Querier, timeout, poll time.Duration) (browser.Element, bool, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		e, ok, err := s.Find(ctx, q)
		if err != nil || ok {
			return e, ok, err
		}
		if !time.Now().Before(deadline) {
			return browser.Element{}, false, nil
		}
		select {
		case <-ctx.Done():
			return browser.Element{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s Strategy) String() string {
	sels := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		sels[i] = c.Selector
	}
	return s.Name + "[" + strings.Join(sels, ", ") + "]"
}

// -- Predicates --

func Visible(e browser.Element) bool { return e.Visible }

func Enabled(e browser.Element) bool { return e.Enabled }

// Interactable accepts nodes a user could click or type into.
func Interactable(e browser.Element) bool { return e.Visible && e.Enabled }

// Editable accepts text fields and contenteditable nodes.
func Editable(e browser.Element) bool { return e.Editable }

// Any accepts every node.
func Any(browser.Element) bool { return true }

// TextContains matches a case-insensitive substring of the node text against any of words.
func TextContains(words ...string) Predicate {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return func(e browser.Element) bool {
		text := strings.ToLower(e.Text)
		for _, w := range lowered {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
}

// TitleIs matches the title attribute exactly.
func TitleIs(title string) Predicate {
	return func(e browser.Element) bool { return e.Title == title }
}

// MinSize accepts nodes strictly larger than w by h.
func MinSize(w, h float64) Predicate {
	return func(e browser.Element) bool { return e.Width > w && e.Height > h }
}

// All accepts nodes every predicate accepts.
func All(preds ...Predicate) Predicate {
	return func(e browser.Element) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}

// EitherOf accepts nodes any predicate accepts.
func EitherOf(preds ...Predicate) Predicate {
	return func(e browser.Element) bool {
		for _, p := range preds {
			if p != nil && p(e) {
				return true
			}
		}
		return false
	}
}
