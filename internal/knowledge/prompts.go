package knowledge

import (
	"fmt"
	"strings"
)

const securityInstruction = "Redact any API keys, passwords, secrets, or tokens with `[REDACTED]`. Never output real credential values."

// maxPromptContent bounds the source text sent along with a summary request.
const maxPromptContent = 6000

const summarySystemPrompt = `You are a technical analyst.
If the content is CODE: summarize the core logic in one clear sentence focusing on WHAT it does and its algorithmic complexity.
If the content is DOCUMENTATION (like a README): summarize the project's purpose, main features, or setup instructions in one clear sentence.
If the content is pure boilerplate or empty, return: SKIP
` + securityInstruction

// ConflictSystemPrompt frames the explanation of a legacy conflict.
const ConflictSystemPrompt = `You are a software architect reviewing dependency risk.
A recently changed unit depends on a unit that has not been touched for a long time.
In at most three sentences, explain the likely risk of this dependency and what a reviewer should check.
` + securityInstruction

// ConflictInfo is the lightweight description of one side of a conflict.
type ConflictInfo struct {
	Identifier string
	Kind       string
	Summary    string
	AgeDays    int
	// Dependents counts the units that call or import this one directly.
	Dependents int
}

func buildSummaryPrompt(filePath, name, kind, content string) string {
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}
	return fmt.Sprintf("File: %s\nName: %s\nType: %s\nContent:\n%s", filePath, name, kind, content)
}

// BuildConflictPrompt describes a conflict by summaries only; source text is
// never included.
func BuildConflictPrompt(source, target ConflictInfo, hops int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Active unit: %s (%s), last changed %d days ago.\n", source.Identifier, source.Kind, source.AgeDays)
	if source.Summary != "" {
		fmt.Fprintf(&sb, "  Summary: %s\n", source.Summary)
	}
	fmt.Fprintf(&sb, "Legacy unit: %s (%s), last changed %d days ago.\n", target.Identifier, target.Kind, target.AgeDays)
	if target.Summary != "" {
		fmt.Fprintf(&sb, "  Summary: %s\n", target.Summary)
	}
	if target.Dependents > 1 {
		fmt.Fprintf(&sb, "  %d units depend on it directly; changes to it have a wide blast radius.\n", target.Dependents)
	}
	if hops <= 1 {
		sb.WriteString("The active unit depends on the legacy unit directly.\n")
	} else {
		fmt.Fprintf(&sb, "The active unit reaches the legacy unit through %d dependency hops.\n", hops)
	}
	return sb.String()
}
