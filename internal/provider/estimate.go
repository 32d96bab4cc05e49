package provider

import "github.com/cloudwego/eino/schema"

// EstimatedSource and ProviderSource tag a TokenUsage event with how its
// counts were obtained, per spec.md §6.
const (
	EstimatedSource = "estimated"
	ProviderSource  = "provider"
)

// charsPerToken is the rough heuristic used when a provider response
// carries no usage block: roughly 4 characters per token for English text,
// the same ballpark estimate most LLM tooling falls back to.
const charsPerToken = 4

// TokenEstimate is the result of estimating token counts for a message
// when the provider did not return a usage block.
type TokenEstimate struct {
	Prompt     int
	Completion int
	Total      int
	Source     string
}

// EstimateTokens derives an approximate prompt/completion split from the
// rune length of the request and response messages. It is only ever used
// when response.usage is absent; Source is always EstimatedSource.
func EstimateTokens(requestMessages []*schema.Message, responseMessage *schema.Message) TokenEstimate {
	prompt := estimateMessagesTokens(requestMessages)
	completion := 0
	if responseMessage != nil {
		completion = estimateTextTokens(responseMessage.Content)
	}
	return TokenEstimate{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
		Source:     EstimatedSource,
	}
}

func estimateMessagesTokens(messages []*schema.Message) int {
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += estimateTextTokens(m.Content)
	}
	return total
}

// estimateTextTokens applies the runes/4 heuristic, rounding up so empty
// non-empty strings never estimate to zero tokens.
func estimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	runeCount := 0
	for range text {
		runeCount++
	}
	tokens := runeCount / charsPerToken
	if runeCount%charsPerToken != 0 {
		tokens++
	}
	return tokens
}
