package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/FeedStalk/internal/config"
)

// Default selectors for the stock feed markup. These are isolated here
// because the feed changes its DOM frequently; alternate markups are
// profiled through config instead of code.
const (
	defaultItemSelector    = `article[data-testid="tweet"]`
	defaultAuthorSelector  = `[data-testid="User-Name"] span`
	defaultContentSelector = `[data-testid="tweetText"]`
	defaultTimeSelector    = `time`

	// datetimeAttr carries the machine-readable instant on the time element.
	datetimeAttr = "datetime"
)

// Rule locates one element, by CSS selector or XPath expression.
type Rule struct {
	Type     string // css (default), xpath
	Selector string
}

// Profile describes how to locate posts and their fields in feed markup.
type Profile struct {
	Item    Rule
	Author  Rule
	Content Rule
	Time    Rule
}

// DefaultProfile returns the selector profile for the stock feed markup.
func DefaultProfile() Profile {
	return Profile{
		Item:    Rule{Type: "css", Selector: defaultItemSelector},
		Author:  Rule{Type: "css", Selector: defaultAuthorSelector},
		Content: Rule{Type: "css", Selector: defaultContentSelector},
		Time:    Rule{Type: "css", Selector: defaultTimeSelector},
	}
}

// ProfileFromConfig builds a Profile from the configured selector rules.
func ProfileFromConfig(sc config.SelectorsConfig) Profile {
	return Profile{
		Item:    ruleFromConfig(sc.Item, defaultItemSelector),
		Author:  ruleFromConfig(sc.Author, defaultAuthorSelector),
		Content: ruleFromConfig(sc.Content, defaultContentSelector),
		Time:    ruleFromConfig(sc.Time, defaultTimeSelector),
	}
}

func ruleFromConfig(r config.SelectorRule, fallback string) Rule {
	rule := Rule{Type: r.Type, Selector: r.Selector}
	if rule.Selector == "" {
		rule.Selector = fallback
	}
	if rule.Type == "" {
		rule.Type = "css"
	}
	return rule
}

// selectItems returns all feed item elements in document order.
func selectItems(doc *goquery.Document, rule Rule) (*goquery.Selection, error) {
	switch rule.Type {
	case "xpath":
		if len(doc.Selection.Nodes) == 0 {
			return doc.FindNodes(), nil
		}
		nodes, err := htmlquery.QueryAll(doc.Selection.Nodes[0], rule.Selector)
		if err != nil {
			return nil, fmt.Errorf("invalid item xpath %q: %w", rule.Selector, err)
		}
		return doc.FindNodes(nodes...), nil
	default:
		return doc.Find(rule.Selector), nil
	}
}

// selectFirst resolves a field rule inside one item element and returns the
// first match, or nil when the item has no such element.
func selectFirst(item *goquery.Selection, rule Rule, logger *slog.Logger) *goquery.Selection {
	switch rule.Type {
	case "xpath":
		if len(item.Nodes) == 0 {
			return nil
		}
		node, err := htmlquery.Query(item.Nodes[0], rule.Selector)
		if err != nil {
			logger.Warn("invalid xpath", "selector", rule.Selector, "error", err)
			return nil
		}
		if node == nil {
			return nil
		}
		return selectionFromNode(item, node)
	default:
		found := item.Find(rule.Selector)
		if found.Length() == 0 {
			return nil
		}
		return found.First()
	}
}

// fieldText resolves a rule to the trimmed text of its first match.
func fieldText(item *goquery.Selection, rule Rule, logger *slog.Logger) string {
	found := selectFirst(item, rule, logger)
	if found == nil {
		return ""
	}
	if rule.Type == "xpath" && len(found.Nodes) > 0 {
		return strings.TrimSpace(htmlquery.InnerText(found.Nodes[0]))
	}
	return strings.TrimSpace(found.Text())
}

// fieldAttr resolves a rule to an attribute of its first match.
func fieldAttr(item *goquery.Selection, rule Rule, attr string, logger *slog.Logger) string {
	found := selectFirst(item, rule, logger)
	if found == nil {
		return ""
	}
	if rule.Type == "xpath" && len(found.Nodes) > 0 {
		return htmlquery.SelectAttr(found.Nodes[0], attr)
	}
	return found.AttrOr(attr, "")
}

// selectionFromNode wraps a raw node back into the goquery tree so both rule
// types flow through the same downstream handling.
func selectionFromNode(scope *goquery.Selection, node *html.Node) *goquery.Selection {
	sel := scope.FindNodes(node)
	if sel.Length() == 0 {
		// The node may be the scope element itself rather than a descendant.
		return scope.FilterNodes(node)
	}
	return sel
}
