package processor

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestProcessor_ConvertHTMLToMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		contains []string // Expected substrings in output
	}{
		{
			name: "converts headings",
			html: `<html><body><h1>Title</h1><h2>Subtitle</h2></body></html>`,
			contains: []string{
				"# Title",
				"## Subtitle",
			},
		},
		{
			name: "converts paragraphs",
			html: `<html><body><p>배포 절차입니다.</p><p>Second paragraph.</p></body></html>`,
			contains: []string{
				"배포 절차입니다.",
				"Second paragraph.",
			},
		},
		{
			name: "converts links",
			html: `<html><body><p>Check <a href="https://example.com">this link</a>.</p></body></html>`,
			contains: []string{
				"[this link](https://example.com)",
			},
		},
		{
			name: "converts code blocks",
			html: `<html><body><pre><code>func main() {}</code></pre></body></html>`,
			contains: []string{
				"func main() {}",
			},
		},
		{
			name: "converts lists",
			html: `<html><body><ul><li>Item 1</li><li>Item 2</li></ul></body></html>`,
			contains: []string{
				"- Item 1",
				"- Item 2",
			},
		},
		{
			name: "fragment without body",
			html: `<h2>Runbook</h2><p>Restart the worker.</p>`,
			contains: []string{
				"## Runbook",
				"Restart the worker.",
			},
		},
	}

	p := New()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Convert(tt.html)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}

			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("expected output to contain %q, got:\n%s", expected, result)
				}
			}
		})
	}
}

func TestProcessor_StripsNonContent(t *testing.T) {
	html := `<div>
		<script>alert("x")</script>
		<style>.a { color: red }</style>
		<button>Edit</button>
		<img src="diagram.png" alt="diagram">
		<p>Visible text</p>
	</div>`

	result, err := New().Convert(html)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if result != "Visible text" {
		t.Errorf("Convert() = %q, want %q", result, "Visible text")
	}
}

func TestProcessor_ConvertSelection_LeavesDocumentIntact(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div id="main-content"><p>Body</p><button>Edit</button></div>`))
	if err != nil {
		t.Fatalf("NewDocumentFromReader() error = %v", err)
	}

	result, err := New().ConvertSelection(doc.Find("#main-content"))
	if err != nil {
		t.Fatalf("ConvertSelection() error = %v", err)
	}

	if result != "Body" {
		t.Errorf("ConvertSelection() = %q, want %q", result, "Body")
	}
	if n := doc.Find("button").Length(); n != 1 {
		t.Errorf("source document should keep its button, found %d", n)
	}
}

func TestProcessor_ConvertSelection_Empty(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<p>x</p>`))
	if err != nil {
		t.Fatalf("NewDocumentFromReader() error = %v", err)
	}

	result, err := New().ConvertSelection(doc.Find("#missing"))
	if err != nil {
		t.Fatalf("ConvertSelection() error = %v", err)
	}
	if result != "" {
		t.Errorf("ConvertSelection() on empty selection = %q, want empty", result)
	}
}

func TestTidy(t *testing.T) {
	if got := Tidy("\n\na\n\n\n\n\nb\n\n"); got != "a\n\nb" {
		t.Errorf("Tidy() = %q, want %q", got, "a\n\nb")
	}
	if got := Tidy("a\nb"); got != "a\nb" {
		t.Errorf("Tidy() = %q, want %q", got, "a\nb")
	}
}

func TestProcessor_ConvertHTMLToMarkdown_EmptyInput(t *testing.T) {
	result, err := New().Convert("   ")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if result != "" {
		t.Errorf("Convert() of blank input = %q, want empty", result)
	}
}

func TestProcessor_ExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"plain", `<html><head><title>Page Title</title></head><body></body></html>`, "Page Title"},
		{"confluence suffix", `<html><head><title>배포 가이드 - DEV - Confluence</title></head></html>`, "배포 가이드"},
		{"no title", `<html><body><p>No title here</p></body></html>`, ""},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ExtractTitle(tt.html); got != tt.want {
				t.Errorf("ExtractTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}
