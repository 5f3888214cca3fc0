package email

import (
	"strings"

	"github.com/k3a/html2text"
)

// htmlToText renders an HTML body as plain text for messages that carry no
// text/plain alternative.
func htmlToText(htmlContent string) string {
	if strings.TrimSpace(htmlContent) == "" {
		return ""
	}
	return collapseBlankLines(html2text.HTML2Text(htmlContent), 2)
}

// collapseBlankLines keeps at most max consecutive blank lines and trims
// the result.
func collapseBlankLines(text string, max int) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var b strings.Builder
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > max {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
