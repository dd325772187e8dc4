// Package processor turns Confluence page HTML into clean Markdown.
package processor

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// stripSelector lists elements that never carry page content. Images are
// dropped because only text is indexed.
const stripSelector = "script, style, button, noscript, img"

var blankLines = regexp.MustCompile(`\n{3,}`)

// Processor converts HTML content to Markdown.
type Processor struct{}

// New creates a new HTML to Markdown processor.
func New() *Processor {
	return &Processor{}
}

// Convert cleans an HTML document or fragment and transforms it into Markdown.
func (p *Processor) Convert(htmlContent string) (string, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	return p.ConvertSelection(doc.Find("body"))
}

// ConvertSelection converts the selected nodes. The selection's document is
// left untouched.
func (p *Processor) ConvertSelection(sel *goquery.Selection) (string, error) {
	if sel.Length() == 0 {
		return "", nil
	}

	cleaned := sel.Clone()
	cleaned.Find(stripSelector).Remove()

	var b strings.Builder
	for i := range cleaned.Nodes {
		fragment, err := goquery.OuterHtml(cleaned.Eq(i))
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}

	markdown, err := htmltomarkdown.ConvertString(b.String())
	if err != nil {
		return "", err
	}

	return Tidy(markdown), nil
}

// Tidy collapses runs of blank lines and trims surrounding whitespace.
func Tidy(markdown string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(markdown, "\n\n"))
}

// ExtractTitle extracts the <title> content from HTML.
func (p *Processor) ExtractTitle(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var title string
	var findTitle func(*html.Node) bool
	findTitle = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				title = n.FirstChild.Data
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if findTitle(c) {
				return true
			}
		}
		return false
	}
	findTitle(doc)

	// Confluence titles look like "Page - Space - Confluence".
	title = strings.TrimSpace(title)
	if i := strings.Index(title, " - "); i > 0 {
		title = title[:i]
	}
	return title
}
