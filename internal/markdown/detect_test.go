package markdown

import (
	"reflect"
	"testing"
)

func TestIsMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"heading", "# Title\n\nBody", true},
		{"heading later in text", "intro\n\n## Setup\nsteps", true},
		{"unordered list", "Steps:\n- one\n- two", true},
		{"ordered list", "1. first\n2. second", true},
		{"link", "see [docs](https://example.com)", true},
		{"table", "| a | b |\n|---|---|\n| 1 | 2 |", true},
		{"code fence", "```go\nfmt.Println()\n```", true},
		{"html document", "<!DOCTYPE html><html><body># no</body></html>", false},
		{"html fragment", "<div># Title</div>", false},
		{"plain prose", "이 문서는 배포 절차를 설명합니다. 자세한 내용은 담당자에게 문의하세요.", false},
		{"empty", "", false},
		{"whitespace", "  \n\t", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarkdown(tt.content); got != tt.want {
				t.Errorf("IsMarkdown(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestHeadingLevels(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []int
	}{
		{"none", "plain text", nil},
		{"mixed", "## B\ntext\n# A\n### C\n## D", []int{1, 2, 3}},
		{"hash without space", "#hashtag\n## Real", []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HeadingLevels(tt.content); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("HeadingLevels() = %v, want %v", got, tt.want)
			}
		})
	}
}
