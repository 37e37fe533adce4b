package command

import (
	"unicode/utf8"

	"github.com/malbeclabs/slack-calculator/slack/internal/calculator"
	"github.com/slack-go/slack"
)

const (
	headingSuccess     = "*Success*"
	headingError       = "*Error*"
	headingExpression  = "*Expression*"
	headingCalculation = "*Calculation*"

	// Slack rejects text objects longer than 3000 characters.
	maxTextLen = 2900
)

// successBlocks renders the expression and its result as a section with four
// fields laid out as a two-column table.
func successBlocks(expr calculator.Expression, result float64) []slack.Block {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, headingExpression, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, headingCalculation, false, false),
		slack.NewTextBlockObject(slack.PlainTextType, expr.String(), false, false),
		slack.NewTextBlockObject(slack.PlainTextType, calculator.FormatNumber(result), false, false),
	}
	heading := slack.NewTextBlockObject(slack.MarkdownType, headingSuccess, false, false)
	return []slack.Block{slack.NewSectionBlock(heading, fields, nil)}
}

func errorBlocks(message string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, headingError, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, TruncateString(message, maxTextLen), false, false), nil, nil),
	}
}

// TruncateString shortens s to at most maxLen runes, adding "..." if truncated.
// Multi-byte characters are never split.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
