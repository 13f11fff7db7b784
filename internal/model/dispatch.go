// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// DISPATCH REQUEST
// =============================================================================

// DispatchRequest is the assembled, provider-agnostic request for one call.
// It is built fresh per call and treated as immutable once assembled.
type DispatchRequest struct {
	Tier         Tier      `json:"tier"`
	SystemPrompt string    `json:"system_prompt"`
	ContextBlock string    `json:"context_block"`
	History      []Message `json:"history"`
	UserMessage  string    `json:"user_message"`
}

// Messages returns the upstream message list in wire order: system prompt,
// context block as a second system message when non-empty, history, then
// the user message.
func (r DispatchRequest) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+3)
	msgs = append(msgs, NewSystemMessage(r.SystemPrompt))
	if r.ContextBlock != "" {
		msgs = append(msgs, NewSystemMessage(r.ContextBlock))
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, NewUserMessage(r.UserMessage))
	return msgs
}

// =============================================================================
// DISPATCH RESULT
// =============================================================================

// DispatchResult is the terminal record of a successful dispatch.
// The router does not retain it; callers persist or log it as they see fit.
type DispatchResult struct {
	RequestID        string  `json:"request_id"`
	Tier             Tier    `json:"tier"`
	ProviderID       string  `json:"provider_id"`
	ResponseText     string  `json:"response_text"`
	CostUSD          float64 `json:"cost_usd"`
	LatencyMs        int64   `json:"latency_ms"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Attempts         int     `json:"attempts"`

	// Degraded is set when a 2xx response was missing content or usage. Fields
	// that were present are still filled in.
	Degraded bool `json:"degraded,omitempty"`

	// Intent and Confidence are filled in by the orchestrator.
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TotalTokens returns prompt plus completion tokens.
func (r *DispatchResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}
