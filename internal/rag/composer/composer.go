package composer

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/bookrag/models"
)

// DefaultContentCap bounds how many characters of each retrieved passage
// enter the prompt, so prompt size stays deterministic regardless of
// document length.
const DefaultContentCap = 500

// Composer renders retrieved passages, conversation history and the user
// query into a single prompt payload. Composition is pure: no I/O.
type Composer struct {
	contentCap int
}

func New(contentCap int) *Composer {
	if contentCap <= 0 {
		contentCap = DefaultContentCap
	}
	return &Composer{contentCap: contentCap}
}

// Compose builds the prompt. Selected text is appended as an explicitly
// labeled addendum after the query, never merged into the context block,
// so the model can distinguish background context from what the user is
// pointing at right now.
func (c *Composer) Compose(query string, results []models.RetrievedResult, turns []models.ConversationTurn, selectedText string) string {
	var b strings.Builder

	b.WriteString("Use the context to answer the user's question.\n\nContext:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "Document %d - %s\n%s\n\n", i+1, sourceLabel(res), c.excerpt(res.Content))
	}

	if len(turns) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range turns {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(turn.Role), turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User Query: %s", query)

	if selectedText != "" {
		fmt.Fprintf(&b, "\nUser highlighted: %s", selectedText)
	}

	return b.String()
}

// excerpt truncates passage content to the content cap with an ellipsis
// marker when cut. The cap counts runes so truncation never produces
// invalid UTF-8.
func (c *Composer) excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= c.contentCap {
		return content
	}
	return string(runes[:c.contentCap]) + "..."
}

func sourceLabel(res models.RetrievedResult) string {
	if res.Title != "" {
		return res.Title
	}
	if res.URL != "" {
		return res.URL
	}
	return "Unknown source"
}

func roleLabel(role string) string {
	if role == "" {
		return "User"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
