// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "github.com/jeranaias/sous/internal/model"

// ============================================================================
// TIER SELECTION
// ============================================================================

// EscalationThreshold is the confidence below which the mid tier is forced.
const EscalationThreshold = 0.7

// categoryTiers maps categories to tiers. Categories absent from the table
// fall back to the cheap tier.
var categoryTiers = map[IntentType]model.Tier{
	IntentTimingQuestion:      model.TierCheap,
	IntentTemperatureQuestion: model.TierCheap,
	IntentSimpleQuestion:      model.TierCheap,
	IntentModificationReport:  model.TierCheap,
	IntentPreference:          model.TierCheap,
	IntentTimerCommand:        model.TierCheap,

	IntentSubstitution:       model.TierMid,
	IntentIngredientQuestion: model.TierMid,
	IntentTechniqueQuestion:  model.TierMid,
	IntentScalingQuestion:    model.TierMid,
	IntentStepClarification:  model.TierMid,

	IntentTroubleshooting: model.TierTop,
}

// Select picks the tier for an intent.
//
// Selection rules (in order of priority):
//  1. Confidence below 0.7: mid tier, regardless of category. This also
//     applies to troubleshooting, which is moved down from top to mid.
//  2. Category table: cheap, mid, or top (troubleshooting only).
//  3. Unmapped category: cheap tier.
func Select(intent Intent) model.Tier {
	if intent.Confidence < EscalationThreshold {
		return model.TierMid
	}
	if tier, ok := categoryTiers[intent.Type]; ok {
		return tier
	}
	return model.TierCheap
}

// Decision pairs an intent with its selected tier.
type Decision struct {
	Intent Intent     `json:"intent"`
	Tier   model.Tier `json:"tier"`
}

// Decide classifies a message and selects its tier in one call.
func Decide(message string) Decision {
	intent := Classify(message)
	return Decision{Intent: intent, Tier: Select(intent)}
}
