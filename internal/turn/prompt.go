package turn

import (
	"fmt"
	"strings"

	"supportchat/internal/search"
)

const groundingPreamble = "You are a support assistant. Answer the user's question using ONLY the " +
	"numbered context passages below. Cite passages inline by their number, like [1] or [2]. " +
	"If the passages do not contain the answer, say you could not find it in the documentation; " +
	"do not invent information. End your answer with a \"Sources:\" list of the passages you used."

const noContextPreamble = "You are a support assistant. No documentation passages matched the user's " +
	"question. Say that you could not find relevant documentation, and suggest how the user might " +
	"rephrase. Do not invent information."

// buildGroundingPrompt renders the retrieved passages into the system
// instruction: numbered, with title, URL, section, heading path, and
// excerpt.
func buildGroundingPrompt(results []search.Result) string {
	if len(results) == 0 {
		return noContextPreamble
	}

	var b strings.Builder
	b.WriteString(groundingPreamble)
	b.WriteString("\n\nContext passages:\n")
	for i, r := range results {
		p := r.Passage
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, p.Title)
		fmt.Fprintf(&b, "URL: %s\n", p.URL)
		if p.Section != "" {
			fmt.Fprintf(&b, "Section: %s\n", p.Section)
		}
		if len(p.HeadingPath) > 0 {
			fmt.Fprintf(&b, "Path: %s\n", strings.Join(p.HeadingPath, " > "))
		}
		fmt.Fprintf(&b, "Excerpt: %s\n", r.Snippet)
	}
	return b.String()
}

// deriveTitle turns the first user message into a thread title: whitespace
// collapsed, truncated to 80 runes.
func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		title = strings.TrimSpace(string(runes[:80])) + "…"
	}
	return title
}
