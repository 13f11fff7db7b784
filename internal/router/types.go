// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "fmt"

// ============================================================================
// INTENT TYPE
// ============================================================================

// IntentType is the classified purpose of a user's message.
type IntentType string

const (
	IntentTimerCommand        IntentType = "timer_command"
	IntentTimingQuestion      IntentType = "timing_question"
	IntentTemperatureQuestion IntentType = "temperature_question"
	IntentSimpleQuestion      IntentType = "simple_question"
	IntentSubstitution        IntentType = "substitution_request"
	IntentIngredientQuestion  IntentType = "ingredient_question"
	IntentScalingQuestion     IntentType = "scaling_question"
	IntentStepClarification   IntentType = "step_clarification"
	IntentTechniqueQuestion   IntentType = "technique_question"
	IntentModificationReport  IntentType = "modification_report"
	IntentPreference          IntentType = "preference_statement"
	IntentTroubleshooting     IntentType = "troubleshooting"
	IntentGeneralChat         IntentType = "general_chat"
)

// AllIntentTypes lists the closed set of categories.
var AllIntentTypes = []IntentType{
	IntentTimerCommand,
	IntentTimingQuestion,
	IntentTemperatureQuestion,
	IntentSimpleQuestion,
	IntentSubstitution,
	IntentIngredientQuestion,
	IntentScalingQuestion,
	IntentStepClarification,
	IntentTechniqueQuestion,
	IntentModificationReport,
	IntentPreference,
	IntentTroubleshooting,
	IntentGeneralChat,
}

// String returns the wire name of the intent type.
func (t IntentType) String() string {
	return string(t)
}

// IsValid reports whether t belongs to the closed category set.
func (t IntentType) IsValid() bool {
	_, ok := intentFlags[t]
	return ok
}

// ParseIntentType converts a category name to an IntentType.
func ParseIntentType(s string) (IntentType, error) {
	t := IntentType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown intent type %q", s)
	}
	return t, nil
}

// flags holds the fixed (requiresContext, requiresRAG) pair for a category.
type flags struct {
	context bool
	rag     bool
}

// intentFlags is the category -> flags table. It is fixed, never derived at
// call time.
var intentFlags = map[IntentType]flags{
	IntentTimerCommand:        {context: false, rag: false},
	IntentTimingQuestion:      {context: true, rag: false},
	IntentTemperatureQuestion: {context: true, rag: false},
	IntentSimpleQuestion:      {context: true, rag: false},
	IntentSubstitution:        {context: true, rag: true},
	IntentIngredientQuestion:  {context: true, rag: false},
	IntentScalingQuestion:     {context: true, rag: false},
	IntentStepClarification:   {context: true, rag: true},
	IntentTechniqueQuestion:   {context: false, rag: true},
	IntentModificationReport:  {context: true, rag: false},
	IntentPreference:          {context: false, rag: false},
	IntentTroubleshooting:     {context: true, rag: true},
	IntentGeneralChat:         {context: false, rag: false},
}

// ============================================================================
// INTENT
// ============================================================================

// Intent is the result of classifying one message.
type Intent struct {
	Type            IntentType `json:"type"`
	Confidence      float64    `json:"confidence"`
	RequiresContext bool       `json:"requires_context"`
	RequiresRAG     bool       `json:"requires_rag"`
}

// NewIntent builds an Intent with the category's fixed flags.
func NewIntent(t IntentType, confidence float64) Intent {
	f := intentFlags[t]
	return Intent{
		Type:            t,
		Confidence:      confidence,
		RequiresContext: f.context,
		RequiresRAG:     f.rag,
	}
}

// String returns a compact representation for logs.
func (i Intent) String() string {
	return fmt.Sprintf("%s(%.2f)", i.Type, i.Confidence)
}
