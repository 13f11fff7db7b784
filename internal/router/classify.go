// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ============================================================================
// CONFIDENCE CONSTANTS
// ============================================================================

// Confidence reflects how specific a category's patterns are.
const (
	ConfidenceTimerCommand       = 0.95
	ConfidenceTroubleshooting    = 0.85
	ConfidenceTiming             = 0.90
	ConfidenceTemperature        = 0.90
	ConfidenceSubstitution       = 0.90
	ConfidenceScaling            = 0.88
	ConfidenceIngredient         = 0.75
	ConfidenceStepClarification  = 0.80
	ConfidenceTechnique          = 0.80
	ConfidenceModificationReport = 0.85
	ConfidencePreference         = 0.85
	ConfidenceGeneralChat        = 0.70

	// ConfidenceDefault is used when no rule matches.
	ConfidenceDefault = 0.60
)

// ============================================================================
// RULES
// ============================================================================

// Rule is one entry of the classification cascade.
type Rule struct {
	Type       IntentType
	Confidence float64
	Match      func(normalized string) bool
}

// techniqueVerbs are cooking techniques that make a "how do I" question a
// technique question.
const techniqueVerbs = `fold|whisk|knead|sear|saut[eé]|braise|deglaze|temper|blanch|poach|julienne|dice|mince|chop|zest|cream|emulsif|caramel[iy][sz]|proof|baste|render|truss|butterfl|flamb[eé]|sous vide|roux|meringue|stiff peaks|soft peaks|bloom|brine|cure|smoke|score`

// rules is the ordered cascade. The first matching rule wins, so order is part
// of the classification contract:
//  1. Timer command: set/start/stop a timer, "remind me in"
//  2. Troubleshooting: burnt, curdled, too salty, won't thicken
//  3. Timing: "how long", "is it done", "how many minutes"
//  4. Temperature: temp, degrees, preheat, "medium heat"
//  5. Substitution: substitute, instead of, "I'm out of"
//  6. Scaling: double, halve, "for 6 people", servings
//  7. Ingredient: "how much", units, "do I need"
//  8. Step clarification: "what does this mean", "repeat that"
//  9. Technique: "how do I fold", "what is a roux"
//  10. Modification report: "I used", "I skipped"
//  11. Preference statement: "I prefer", "I'm vegetarian", allergies
//  12. General chat: greetings and acknowledgements
//  13. Simple question: default fallback
var rules = []Rule{
	{
		Type:       IntentTimerCommand,
		Confidence: ConfidenceTimerCommand,
		Match: anyOf(
			`\b(set|start|stop|cancel|pause|reset|add)\b.{0,20}\btimers?\b`,
			`\btimers?\s+(for|to)\b`,
			`^timer\b`,
			`\bremind me (in|after)\b`,
		),
	},
	{
		Type:       IntentTroubleshooting,
		Confidence: ConfidenceTroubleshooting,
		Match: anyOf(
			`\b(burnt|burned|burning|scorch(ed|ing)?|curdl(ed|ing)|splitting|separat(ed|ing)|lumpy|soggy|gummy|rubbery|mushy|collapsed|sunk|sank|undercooked|overcooked|ruined)\b`,
			`\b(has|have|is|it) split\b`,
			`\braw in the middle\b`,
			`\b(not|isn'?t|aren'?t) (rising|thickening|setting|browning|crisping)\b`,
			`\b(won'?t|didn'?t|doesn'?t|will not|did not) (rise|thicken|set|brown|crisp|work|come together)\b`,
			`\bwent wrong\b`,
			`\btoo (salty|sweet|spicy|thick|thin|runny|dry|watery|bitter|sour|greasy|oily)\b`,
			`\bhow (do|can) i (fix|save|rescue)\b`,
		),
	},
	{
		Type:       IntentTimingQuestion,
		Confidence: ConfidenceTiming,
		Match: anyOf(
			`\bhow long\b`,
			`\bhow many (minutes|mins|hours|seconds)\b`,
			`\bhow much (longer|more time)\b`,
			`\b(is|are) (it|this|they) (done|ready)\b`,
			`\b(done|ready) yet\b`,
			`\bwhen (is|will) (it|this|they) be (done|ready)\b`,
			`\bhow do i know (when|if) (it'?s|its|it is|they'?re|they are) (done|ready|cooked)\b`,
		),
	},
	{
		Type:       IntentTemperatureQuestion,
		Confidence: ConfidenceTemperature,
		Match: anyOf(
			`\b(temp|temps|temperature|degrees|fahrenheit|celsius|preheat|preheated)\b`,
			`\d+\s*°`,
			`°\s*[cf]\b`,
			`\bhow hot\b`,
			`\b(high|medium|low|medium-high|medium-low) heat\b`,
			`\bwhat heat\b`,
		),
	},
	{
		Type:       IntentSubstitution,
		Confidence: ConfidenceSubstitution,
		Match: anyOf(
			`\bsubstitut(e|es|ion|ions)\b`,
			`\breplace(ment)?\b`,
			`\binstead of\b`,
			`\bswap\b`,
			`\b(don'?t|do not) have\b`,
			`\b(ran|run|i'?m|we'?re|all) out of\b`,
			`\balternatives? (to|for)\b`,
			`\bcan i use\b`,
		),
	},
	{
		Type:       IntentScalingQuestion,
		Confidence: ConfidenceScaling,
		Match: anyOf(
			`\b(double|triple|quadruple|halve)\b`,
			`\bhalf (the|a) (recipe|batch)\b`,
			`\bscal(e|ing)\b`,
			`\bfor \d+ (people|persons|guests|servings)\b`,
			`\b(serves?|feed) \d+\b`,
			`\bmore (people|servings|portions)\b`,
			`\bservings?\b`,
			`\bportions?\b`,
		),
	},
	{
		Type:       IntentIngredientQuestion,
		Confidence: ConfidenceIngredient,
		Match: anyOf(
			`\bhow (much|many)\b`,
			`\bingredients?\b`,
			`\b(cups?|grams?|tablespoons?|tbsp|teaspoons?|tsp|ounces?|oz|ml|pinch)\b`,
			`\bwhat (kind|type) of\b`,
			`\bdo i need\b`,
		),
	},
	{
		Type:       IntentStepClarification,
		Confidence: ConfidenceStepClarification,
		Match: anyOf(
			`\bwhat (does|do) (this|that|it|they) mean\b`,
			`\bwhat do you mean\b`,
			`\b(clarify|confused|confusing)\b`,
			`\b(don'?t|do not) understand\b`,
			`\bexplain (this|that|the) step\b`,
			`\b(repeat|say) (that|this|the step)\b`,
			`\b(this|that|which|next|previous) step\b`,
		),
	},
	{
		Type:       IntentTechniqueQuestion,
		Confidence: ConfidenceTechnique,
		Match: anyOf(
			`\bhow (do|should|can|would) (i|you)\b.*\b(`+techniqueVerbs+`)`,
			`\bhow to\b.*\b(`+techniqueVerbs+`)`,
			`\bwhat('s| is| does| are)( a| an| the)? (`+techniqueVerbs+`)`,
			`\b(technique|properly|the right way|correct way)\b`,
		),
	},
	{
		Type:       IntentModificationReport,
		Confidence: ConfidenceModificationReport,
		Match: anyOf(
			`\bi (used|added|swapped|replaced|substituted|skipped|omitted|left out|forgot|doubled|halved|changed|switched|put in|threw in)\b`,
			`\bi (didn'?t|did not) (add|use|have|include)\b`,
			`\bi'?m (using|adding|skipping|leaving out)\b`,
			`\bi'?ve (used|added|swapped|replaced|substituted|skipped|changed)\b`,
		),
	},
	{
		Type:       IntentPreference,
		Confidence: ConfidencePreference,
		Match: anyOf(
			`\bi (really )?(don'?t|do not|never|always|can'?t|cannot) (like|eat|stand|tolerate)\b`,
			`\bi (really )?(love|hate|prefer|like|dislike|enjoy)\b`,
			`\b(i'?m|i am) (a )?(vegan|vegetarian|pescatarian|lactose intolerant|gluten[- ]free|celiac|coeliac|keto|diabetic|allergic)\b`,
			`\ballerg(y|ic|ies)\b`,
			`\bmake it (less|more|extra) \w+\b`,
		),
	},
	{
		Type:       IntentGeneralChat,
		Confidence: ConfidenceGeneralChat,
		Match: anyOf(
			`^(hi|hello|hey|yo|thanks|thank you|thx|ok|okay|cool|great|awesome|perfect|got it|sounds good|nice|yum|good (morning|afternoon|evening))( there)?( so much)?( sous| chef)?[\s!.,:)]*$`,
		),
	},
}

// anyOf compiles the patterns once and returns a predicate matching any of them.
func anyOf(patterns ...string) func(string) bool {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return func(s string) bool {
		for _, re := range compiled {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// Rules returns a copy of the ordered classification cascade.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Normalize prepares a message for matching: Unicode NFKC, curly apostrophes
// folded to ASCII, trimmed and lowercased.
func Normalize(message string) string {
	s := norm.NFKC.String(message)
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify returns the intent of a message.
// It is deterministic, performs no I/O and never fails: a message that matches
// no rule, including the empty string, is a simple_question.
func Classify(message string) Intent {
	return classifyWith(rules, message)
}

func classifyWith(cascade []Rule, message string) Intent {
	normalized := Normalize(message)
	if normalized == "" {
		return NewIntent(IntentSimpleQuestion, ConfidenceDefault)
	}
	for _, r := range cascade {
		if r.Match(normalized) {
			return NewIntent(r.Type, r.Confidence)
		}
	}
	return NewIntent(IntentSimpleQuestion, ConfidenceDefault)
}
