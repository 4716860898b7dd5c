package emotion

import "strings"

// Wheel is the three-level wheel of emotions: primary mood -> secondary
// moods -> tertiary moods. Read-only for the process lifetime.
type Wheel map[string]map[string][]string

// wheelOfEmotions is the fixed taxonomy the agent probes against.
var wheelOfEmotions = Wheel{
	"happy": {
		"playful":    {"aroused", "cheeky"},
		"content":    {"free", "joyful"},
		"interested": {"curious", "inquisitive"},
		"proud":      {"confident", "successful"},
		"accepted":   {"valued", "respected"},
		"powerful":   {"courageous", "creative"},
		"peaceful":   {"loving", "thankful"},
		"trusting":   {"sensitive", "intimate"},
		"optimistic": {"hopeful", "inspired"},
	},
	"sad": {
		"lonely":     {"isolated", "abandoned"},
		"vulnerable": {"victimized", "fragile"},
		"despair":    {"grief", "powerless"},
		"guilty":     {"ashamed", "remorseful"},
		"depressed":  {"empty", "inferior"},
		"hurt":       {"disappointed", "embarrassed"},
	},
	"disgusted": {
		"disapproving": {"judgmental", "embarrassed"},
		"disappointed": {"appalled", "revolted"},
		"awful":        {"nauseated", "detestable"},
		"repelled":     {"horrified", "hesitant"},
	},
	"angry": {
		"let down":   {"betrayed", "resentful"},
		"humiliated": {"disrespected", "ridiculed"},
		"bitter":     {"indignant", "violated"},
		"mad":        {"furious", "jealous"},
		"aggressive": {"hostile", "provoked"},
		"frustrated": {"annoyed", "infuriated"},
		"distant":    {"withdrawn", "numb"},
		"critical":   {"skeptical", "dismissive"},
	},
	"surprised": {
		"startled": {"shocked", "dismayed"},
		"confused": {"perplexed", "disillusioned"},
		"amazed":   {"astonished", "awe"},
		"excited":  {"eager", "energetic"},
	},
	"fearful": {
		"scared":     {"helpless", "frightened"},
		"anxious":    {"worried", "overwhelmed"},
		"insecure":   {"inadequate", "inferior"},
		"weak":       {"worthless", "insignificant"},
		"rejected":   {"excluded", "persecuted"},
		"threatened": {"nervous", "exposed"},
	},
	"bad": {
		"bored":    {"indifferent", "apathetic"},
		"busy":     {"pressured", "rushed"},
		"stressed": {"overwhelmed", "out of control"},
		"tired":    {"sleepy", "unfocused"},
	},
}

// GetWheel returns the shared wheel of emotions.
func GetWheel() Wheel {
	return wheelOfEmotions
}

// Depth resolves how specific a mood label is within the wheel:
// 1 primary, 2 secondary, 3 tertiary, 0 unknown. Matching is
// case-insensitive and stops at the first structural match, so a label
// reused across tiers resolves to the shallowest tier it appears at.
func (w Wheel) Depth(mood string) int {
	if mood == "" {
		return 0
	}

	normalized := strings.ToLower(strings.TrimSpace(mood))
	if normalized == "" {
		return 0
	}

	if _, ok := w[normalized]; ok {
		return 1
	}

	for _, secondaries := range w {
		if _, ok := secondaries[normalized]; ok {
			return 2
		}
	}

	for _, secondaries := range w {
		for _, tertiaries := range secondaries {
			for _, label := range tertiaries {
				if strings.EqualFold(label, normalized) {
					return 3
				}
			}
		}
	}

	return 0
}

// DepthName maps a depth tier to its human-readable level name.
func DepthName(depth int) string {
	switch depth {
	case 1:
		return "primary"
	case 2:
		return "secondary"
	case 3:
		return "tertiary"
	default:
		return "unknown"
	}
}
