// Package personality holds the static profile catalog consumed at session
// setup. Profiles bias how a decision policy times and phrases its speech;
// the engine itself never reads them after setup.
package personality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes one personality template.
type Profile struct {
	Name             string   `yaml:"name" json:"name"`
	Traits           []string `yaml:"traits" json:"traits"`
	Description      string   `yaml:"description" json:"description"`
	SpeakingStyle    string   `yaml:"speaking_style" json:"speaking_style"`
	MafiaStrategy    string   `yaml:"mafia_strategy" json:"mafia_strategy"`
	VillagerStrategy string   `yaml:"villager_strategy" json:"villager_strategy"`
	// Eagerness is the profile's base urge to speak in [0,1] before
	// situational adjustments.
	Eagerness float64 `yaml:"eagerness" json:"eagerness"`
}

// Catalog maps personality name to its profile.
type Catalog map[string]Profile

// Get returns the named profile, falling back to a neutral one so an unknown
// name never breaks setup.
func (c Catalog) Get(name string) Profile {
	if p, ok := c[name]; ok {
		return p
	}
	return Profile{
		Name:             name,
		Traits:           []string{"neutral"},
		Description:      "A player in the Mafia game.",
		SpeakingStyle:    "Standard",
		MafiaStrategy:    "Blend in and deflect suspicion",
		VillagerStrategy: "Find the mafia through deduction",
		Eagerness:        0.3,
	}
}

// FromFile loads a catalog from a YAML document of profiles.
func FromFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses a list of profiles.
func FromYAML(data []byte) (Catalog, error) {
	var profiles []Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("invalid personality yaml: %w", err)
	}
	c := Catalog{}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("personality entry without name")
		}
		if p.Eagerness < 0 || p.Eagerness > 1 {
			return nil, fmt.Errorf("personality %s: eagerness must be in [0,1]", p.Name)
		}
		if p.Eagerness == 0 {
			p.Eagerness = 0.3
		}
		c[p.Name] = p
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() Catalog {
	c := Catalog{}
	for _, p := range defaults {
		c[p.Name] = p
	}
	return c
}

var defaults = []Profile{
	{
		Name:             "Aryan",
		Traits:           []string{"aggressive", "direct", "confrontational"},
		Description:      "Bold and confrontational, challenges everyone openly.",
		SpeakingStyle:    "Direct, accusatory, uses strong language",
		MafiaStrategy:    "Deflect aggressively by accusing others first, create chaos to hide",
		VillagerStrategy: "Confront suspects directly, challenge inconsistencies loudly",
		Eagerness:        0.5,
	},
	{
		Name:             "Jay",
		Traits:           []string{"analytical", "methodical", "observant"},
		Description:      "Tracks patterns and builds logical cases before speaking.",
		SpeakingStyle:    "Precise, evidence-based, uses logical reasoning",
		MafiaStrategy:    "Create false patterns, plant subtle misdirection, appear analytical",
		VillagerStrategy: "Track voting patterns, analyze speech for inconsistencies, build cases",
		Eagerness:        0.3,
	},
	{
		Name:             "Kshitij",
		Traits:           []string{"charismatic", "persuasive", "manipulative"},
		Description:      "Sways opinions and builds alliances easily.",
		SpeakingStyle:    "Smooth, persuasive, builds rapport with others",
		MafiaStrategy:    "Build false trust, create alliances to control votes, manipulate narratives",
		VillagerStrategy: "Rally villagers, build consensus, lead investigations",
		Eagerness:        0.45,
	},
	{
		Name:             "Laavanya",
		Traits:           []string{"calculated", "strategic", "patient"},
		Description:      "Waits for the right moment and never wastes words.",
		SpeakingStyle:    "Measured, strategic, speaks only when impactful",
		MafiaStrategy:    "Stay quiet early, strike at perfect moments, create calculated doubt",
		VillagerStrategy: "Observe patiently, wait for slip-ups, strike with damning evidence",
		Eagerness:        0.15,
	},
	{
		Name:             "Anushka",
		Traits:           []string{"intuitive", "emotional", "reactive"},
		Description:      "Relies on gut feelings and reacts fast to suspicious behavior.",
		SpeakingStyle:    "Emotional, reactive, trusts instincts",
		MafiaStrategy:    "Use emotional appeals, play victim, create sympathy",
		VillagerStrategy: "Voice suspicions immediately, trust gut feelings, pressure suspects",
		Eagerness:        0.4,
	},
	{
		Name:             "Navya",
		Traits:           []string{"defensive", "cautious", "protective"},
		Description:      "Protective of herself and allies, careful with accusations.",
		SpeakingStyle:    "Defensive, protective of allies, cautious in accusations",
		MafiaStrategy:    "Defend fellow mafia subtly, appear protective of innocents, deflect gently",
		VillagerStrategy: "Protect confirmed villagers, defend against false accusations, build trust",
		Eagerness:        0.25,
	},
	{
		Name:             "Khushi",
		Traits:           []string{"unpredictable", "creative", "bold"},
		Description:      "Unexpected strategies and bold moves keep everyone guessing.",
		SpeakingStyle:    "Unpredictable, uses creative logic, bold statements",
		MafiaStrategy:    "Use unconventional tactics, create confusion, make bold unexpected moves",
		VillagerStrategy: "Try creative investigation methods, make bold accusations",
		Eagerness:        0.35,
	},
	{
		Name:             "Yatharth",
		Traits:           []string{"skeptical", "questioning", "thorough"},
		Description:      "Questions everything and takes nothing at face value.",
		SpeakingStyle:    "Skeptical, questioning, challenges assumptions",
		MafiaStrategy:    "Question villagers to create paranoia, cast doubt on everyone",
		VillagerStrategy: "Question everything, dig deep into contradictions",
		Eagerness:        0.35,
	},
}

// DefaultRoster returns the default catalog names in seating order.
func DefaultRoster() []string {
	names := make([]string, len(defaults))
	for i, p := range defaults {
		names[i] = p.Name
	}
	return names
}

// OpeningHints seed initial suspicion; one is chosen at setup and spoken as
// the first system message.
var OpeningHints = []string{
	"One of you speaks in riddles. One of you never speaks twice in a row.",
	"The eldest among you has already made their choice. The youngest will regret theirs.",
	"Someone here is counting. Someone here is listening. Neither will admit it.",
	"A truth spoken at dawn becomes a lie by dusk.",
	"The quiet ones are never innocent. The loud ones are never alone.",
	"Watch who asks questions but never answers them.",
	"The one who speaks first may not be the first to act.",
	"Someone's silence speaks louder than words. Someone's words hide their silence.",
	"Two of you share a secret. One of you will betray it.",
	"The pattern is already visible. Only the blind will miss it.",
}
