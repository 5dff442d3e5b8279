package intent

import (
	"fmt"
	"strings"

	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/registry"
)

// buildPrompt assembles the classification prompt section by section: the
// agent catalog, the recent conversation, then the output-contract
// instructions.
func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are the routing oracle for a supervisor that forwards student requests to one of several specialist agents.\n\n")

	b.WriteString(buildCatalogSection(req.Catalog))
	b.WriteString("\n")
	b.WriteString(buildHistorySection(req.History))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Student message: %q\n\n", req.UserMessage))
	b.WriteString(buildContractSection())

	return b.String()
}

func buildCatalogSection(catalog []registry.Snapshot) string {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range catalog {
		b.WriteString(fmt.Sprintf("- id: %s | description: %s | keywords: %s | required_params: %s\n",
			a.ID, a.Description, strings.Join(a.Keywords, ", "), strings.Join(a.RequiredParams, ", ")))
	}
	return b.String()
}

func buildHistorySection(history []memory.Turn) string {
	if len(history) == 0 {
		return "Conversation history: none.\n"
	}
	var b strings.Builder
	b.WriteString("Recent conversation (oldest first):\n")
	for _, t := range history {
		b.WriteString(fmt.Sprintf("- %s: %s\n", t.Role, t.Content))
	}
	return b.String()
}

func buildContractSection() string {
	return `Respond with a single JSON object and nothing else (no markdown fences, no commentary):
{
  "agent_id": "<id from the catalog above, or empty if unsure>",
  "confidence": <float 0.0-1.0>,
  "reasoning": "<one sentence>",
  "extracted_params": {"<param name>": "<value>"},
  "clarifying_questions": ["<question>", "..."],
  "alternative_agents": ["<other catalog ids that could also handle it, best first>"]
}
Leave clarifying_questions empty unless the message is genuinely ambiguous between two or more agents, or a required parameter is missing and cannot be inferred.`
}
