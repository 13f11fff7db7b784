// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier represents a cost/quality class of upstream language model.
// Ordered by cost: Cheap < Mid < Top.
type Tier int

const (
	// TierCheap is the fast, inexpensive tier for high-frequency questions.
	TierCheap Tier = iota
	// TierMid is the balanced tier for nuanced but boundable answers.
	TierMid
	// TierTop is the most capable tier, reserved for troubleshooting.
	TierTop
)

// AllTiers lists every tier in cost order.
var AllTiers = []Tier{TierCheap, TierMid, TierTop}

// String returns the canonical name of the tier.
func (t Tier) String() string {
	switch t {
	case TierCheap:
		return "cheap"
	case TierMid:
		return "mid"
	case TierTop:
		return "top"
	default:
		return fmt.Sprintf("Tier(%d)", t)
	}
}

// IsValid reports whether t is one of the known tiers.
func (t Tier) IsValid() bool {
	return t >= TierCheap && t <= TierTop
}

// Order returns the numeric order of the tier for comparison.
// Lower values mean cheaper tiers.
func (t Tier) Order() int {
	return int(t)
}

// MarshalText implements encoding.TextMarshaler so tiers serialize by name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier converts a tier name to a Tier. Matching is case-insensitive.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cheap":
		return TierCheap, nil
	case "mid":
		return TierMid, nil
	case "top":
		return TierTop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}
