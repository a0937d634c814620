// ABOUTME: HTML rendering of bot replies for Matrix formatted bodies
// ABOUTME: Uses goldmark with hard line breaks; reply text is escaped so it renders literally

package matrix

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/taskbot/internal/bot"
)

var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

const markdownPunct = "\\`*_{}[]()#+-.!<>|~"

func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(markdownPunct, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatHTML renders text and buttons as HTML: the text keeps its line
// breaks and the buttons become an ordered list.
func formatHTML(text string, buttons []bot.Button) (string, error) {
	var md strings.Builder
	md.WriteString(escapeMarkdown(text))
	if len(buttons) > 0 {
		md.WriteString("\n\n")
		for i, btn := range buttons {
			fmt.Fprintf(&md, "%d. %s\n", i+1, escapeMarkdown(btn.Label))
		}
		md.WriteString("\n*Reply with a number to choose.*")
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md.String()), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
