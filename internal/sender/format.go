package sender

import (
	"fmt"
	"strings"
)

// FormatErrors renders attempt errors as a markdown report.
func FormatErrors(errs []ResponsiveError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Request failed after %d attempt(s).**\n\n", len(errs))
	b.WriteString("| # | Component | Reason | Message |\n")
	b.WriteString("|---|---|---|---|\n")
	for i, e := range errs {
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, cell(e.Component), cell(e.Reason), cell(e.Message))
	}

	var tips []string
	seen := make(map[string]bool)
	for _, e := range errs {
		if e.Suggestion != "" && !seen[e.Suggestion] {
			seen[e.Suggestion] = true
			tips = append(tips, e.Suggestion)
		}
	}
	if len(tips) > 0 {
		b.WriteString("\n**Suggestions:**\n")
		for _, tip := range tips {
			fmt.Fprintf(&b, "- %s\n", tip)
		}
	}
	return b.String()
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
