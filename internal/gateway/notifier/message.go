package notifier

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Telegram rejects messages over 4096 characters; leave room for markup.
const maxMessageRunes = 3800

// MessageSection is one titled block of alert lines.
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage is an operator alert rendered as Telegram Markdown. Lines
// of the form key=value are aligned into a two-column block.
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Timestamp time.Time
}

func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	var blocks []string
	for _, sec := range m.Sections {
		if block := renderSection(sec); block != "" {
			blocks = append(blocks, block)
		}
	}
	if len(blocks) > 0 {
		b.WriteString("```\n")
		b.WriteString(strings.Join(blocks, "\n"))
		b.WriteString("```\n\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("at " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return truncateRunes(strings.TrimSpace(b.String()), maxMessageRunes)
}

func renderSection(sec MessageSection) string {
	type row struct{ key, val string }
	var rows []row
	width := 0
	for _, line := range sec.Lines {
		line = escapeFence(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		r := row{val: line}
		if k, v, ok := strings.Cut(line, "="); ok && k != "" && !strings.ContainsAny(k, " \t") {
			r = row{key: k, val: v}
			width = max(width, len(k))
		}
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	if title := escapeFence(strings.TrimSpace(sec.Title)); title != "" {
		b.WriteString(title + "\n")
	}
	for _, r := range rows {
		if r.key == "" {
			b.WriteString("- " + r.val + "\n")
			continue
		}
		fmt.Fprintf(&b, "  %-*s %s\n", width+1, r.key+":", r.val)
	}
	return b.String()
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// truncateRunes cuts on a rune boundary so multi-byte text stays valid UTF-8.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
