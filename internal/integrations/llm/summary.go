package llm

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"devstatus/internal/domain"
)

type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Summarizer writes a short operator-facing narrative for a set of group
// reports. The numbers themselves always come from the classifier.
type Summarizer struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

const summarySystemPrompt = `You write a short status note for an operations team that monitors field devices.
Each device group has been classified Green (recently reporting), Yellow (stale but inside the grace window) or Red (inactive or no data).
Use only the numbers provided. Do not recompute percentages.
Write at most 5 bullet lines in Slack mrkdwn. Call out the groups with the highest Red share first.`

// BuildSummaryPrompt renders reports as the user prompt.
func BuildSummaryPrompt(teamName string, reports []domain.StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Team: %s\n", teamName)
	for _, r := range reports {
		fmt.Fprintf(&b, "Group %s as of %s (thresholds %s), %d devices:\n",
			r.GroupID, r.ReferenceDate, r.Thresholds, r.Total)
		for _, s := range r.Labels {
			fmt.Fprintf(&b, "  %s: %d (%.2f%%)\n", s.Label, s.Count, s.Percentage)
		}
	}
	return b.String()
}

func (s Summarizer) Summarize(ctx context.Context, teamName string, reports []domain.StatusReport) (string, LLMUsage, error) {
	if len(reports) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no reports to summarize")
	}
	log.Printf("llm summary provider=anthropic model=%s groups=%d", s.Model, len(reports))
	return s.callAnthropic(ctx, summarySystemPrompt, BuildSummaryPrompt(teamName, reports))
}

func (s Summarizer) callAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.Model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
			return strings.TrimSpace(block.Text), usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}
