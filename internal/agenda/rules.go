package agenda

import "strings"

// Rule maps title keywords to an emoji. A rule matches when the lower-cased
// title contains any of its keywords.
type Rule struct {
	Keywords []string `yaml:"match" toml:"match" json:"match"`
	Emoji    string   `yaml:"emoji" toml:"emoji" json:"emoji"`
}

// Match reports whether the rule applies to title.
func (r Rule) Match(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range r.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Rules is an ordered rule table, evaluated first-match-wins.
type Rules []Rule

// Classify returns the emoji of the first matching rule.
func (rs Rules) Classify(title string) (string, bool) {
	for _, r := range rs {
		if r.Emoji != "" && r.Match(title) {
			return r.Emoji, true
		}
	}
	return "", false
}

func kw(emoji string, keywords ...string) Rule {
	return Rule{Keywords: keywords, Emoji: emoji}
}

// DefaultRules returns the built-in keyword table.
func DefaultRules() Rules {
	return Rules{
		// Work & meetings
		kw("💼", "meeting"),
		kw("📞", "call"),
		kw("🎥", "zoom"),
		kw("🤝", "interview"),
		kw("⏰", "deadline"),
		kw("📊", "presentation"),
		kw("🎤", "conference"),
		kw("👨‍🏫", "workshop"),
		kw("🌅", "standup"),
		kw("👀", "review"),
		kw("👥", "1:1"),
		kw("🔄", "sync"),

		// Food & drinks
		kw("🍽️", "lunch"),
		kw("🍴", "dinner"),
		kw("🍳", "breakfast"),
		kw("🥞", "brunch"),
		kw("☕", "coffee"),
		kw("🍻", "drinks"),
		kw("🍷", "happy hour"),
		kw("🍽️", "restaurant"),

		// Health
		kw("👨‍⚕️", "doctor"),
		kw("🦷", "dentist"),
		kw("🧠", "therapy"),
		kw("💪", "gym"),
		kw("🏋️", "workout"),
		kw("🧘", "yoga"),
		kw("🧘‍♂️", "meditation"),
		kw("💆", "massage"),
		kw("🏥", "appointment"),

		// Travel
		kw("✈️", "flight"),
		kw("🧳", "travel"),
		kw("🏖️", "vacation"),
		kw("🗺️", "trip"),
		kw("🚂", "train"),
		kw("🚌", "bus"),
		kw("✈️", "airport"),
		kw("🏨", "hotel"),

		// Learning
		kw("📚", "study"),
		kw("📓", "class"),
		kw("👨‍🏫", "lecture"),
		kw("✏️", "homework"),
		kw("📝", "exam"),
		kw("🎓", "training"),
		kw("💻", "webinar"),
		kw("📖", "course"),

		// Social
		kw("🎮", "game"),
		kw("🎬", "movie"),
		kw("🎵", "concert"),
		kw("🎭", "theater"),
		kw("🎪", "show"),
		kw("🎉", "party"),
		kw("🎂", "birthday"),
		kw("🎊", "celebration"),
		kw("🎪", "festival"),
		kw("🎼", "music"),
		kw("💃", "dance"),
		kw("❤️", "date"),

		// Errands
		kw("🛍️", "shopping"),
		kw("🛒", "grocery"),
		kw("📝", "errands"),
		kw("📦", "pickup"),
		kw("📬", "delivery"),
		kw("🏪", "store"),

		// Home
		kw("🧹", "cleaning"),
		kw("👕", "laundry"),
		kw("🔧", "maintenance"),
		kw("🔨", "repair"),
		kw("📦", "moving", "packing"),

		// Holidays
		kw("🎊", "holiday"),
		kw("🎄", "christmas"),
		kw("🕎", "hanukkah"),
		kw("✡️", "passover"),
		kw("🐰", "easter"),
		kw("🦃", "thanksgiving"),
		kw("🎆", "new year"),
		kw("🙏", "prayer"),
		kw("⛪", "service"),

		// Misc
		kw("⏰", "reminder"),
		kw("✅", "todo"),
		kw("❗", "important"),
		kw("‼️", "urgent"),
	}
}
