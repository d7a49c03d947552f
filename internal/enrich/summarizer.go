// Package enrich generates summaries for ingested content and tags it
// with known threat actors and tools.
package enrich

import (
	"context"
	"fmt"
)

// Prompt types understood by the summarizers.
const (
	PromptThreatIntelSummary = "threat_intel_summary"
)

var systemPrompts = map[string]string{
	PromptThreatIntelSummary: "You are a cybersecurity analyst. Summarize the following article in 3-5 sentences " +
		"for a threat intelligence briefing. Focus on the threat actors involved, the malware or tools used, " +
		"the vulnerabilities exploited, and the affected organizations or sectors. " +
		"State only facts from the article. Do not add commentary or recommendations.",
}

// Summarizer generates a summary of an article for the given prompt type.
type Summarizer interface {
	Generate(ctx context.Context, promptType, article string) (string, error)
}

func buildPrompt(promptType, article string) (string, error) {
	system, ok := systemPrompts[promptType]
	if !ok {
		return "", fmt.Errorf("unknown prompt type %q", promptType)
	}
	return fmt.Sprintf("Human: %s\n\nArticle: %s", system, article), nil
}
