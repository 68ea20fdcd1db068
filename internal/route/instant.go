package route

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/manifest"
)

// Tier-0 patterns are deliberately strict: anchored, full-intent matches so
// that "time" never fires inside "uptime" and "hi" never fires inside
// "high cpu usage".
var (
	timeRe = regexp.MustCompile(`^(?:what(?:'s|s)? time is it(?: right now)?|what(?:'s|s| is)? the (?:current )?time|(?:the )?current time|time now)(?: in ([a-z][a-z .]*[a-z]))?$`)

	dateRe = regexp.MustCompile(`^(?:what day is it(?: today)?|what(?:'s|s| is)? (?:the date|today'?s date)(?: today)?|today'?s date|(?:the )?current date)$`)

	greetingRe = regexp.MustCompile(`^(?:hello|hi|hey|howdy|good (?:morning|afternoon|evening))(?: there)?(?:,? darby)?$`)

	capabilitiesRe = regexp.MustCompile(`^(?:what can you do|what are your capabilities|capabilities|list (?:your )?skills|show (?:your )?skills|help)$`)
)

// cityZones maps the city names the time intent understands to IANA zones.
var cityZones = map[string]string{
	"new york":      "America/New_York",
	"boston":        "America/New_York",
	"miami":         "America/New_York",
	"toronto":       "America/Toronto",
	"chicago":       "America/Chicago",
	"dallas":        "America/Chicago",
	"denver":        "America/Denver",
	"los angeles":   "America/Los_Angeles",
	"san francisco": "America/Los_Angeles",
	"seattle":       "America/Los_Angeles",
	"vancouver":     "America/Vancouver",
	"honolulu":      "Pacific/Honolulu",
	"mexico city":   "America/Mexico_City",
	"sao paulo":     "America/Sao_Paulo",
	"london":        "Europe/London",
	"dublin":        "Europe/Dublin",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"madrid":        "Europe/Madrid",
	"rome":          "Europe/Rome",
	"amsterdam":     "Europe/Amsterdam",
	"stockholm":     "Europe/Stockholm",
	"moscow":        "Europe/Moscow",
	"dubai":         "Asia/Dubai",
	"mumbai":        "Asia/Kolkata",
	"delhi":         "Asia/Kolkata",
	"singapore":     "Asia/Singapore",
	"hong kong":     "Asia/Hong_Kong",
	"shanghai":      "Asia/Shanghai",
	"beijing":       "Asia/Shanghai",
	"tokyo":         "Asia/Tokyo",
	"seoul":         "Asia/Seoul",
	"sydney":        "Australia/Sydney",
	"melbourne":     "Australia/Melbourne",
	"auckland":      "Pacific/Auckland",
}

const greetingAnswer = `Hi! I'm Darby, your personal automation assistant. Ask me to do something, or say "what can you do" to see my tools and skills.`

// matchInstant generates the Tier-0 answer when input matches one of the
// fixed intents. Input must already be lowercased and trimmed.
func matchInstant(input string, doc *manifest.Manifest, now time.Time) (string, bool) {
	input = strings.TrimRight(input, "?!. ")

	if m := timeRe.FindStringSubmatch(input); m != nil {
		return timeAnswer(now, m[1]), true
	}
	if dateRe.MatchString(input) {
		return fmt.Sprintf("Today is %s.", now.Format("Monday, January 2, 2006")), true
	}
	if greetingRe.MatchString(input) {
		return greetingAnswer, true
	}
	if capabilitiesRe.MatchString(input) {
		return capabilitiesAnswer(doc), true
	}
	return "", false
}

// timeAnswer renders the current time, optionally in a named city's zone.
// Unknown cities fall back to the system zone.
func timeAnswer(now time.Time, city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return fmt.Sprintf("The current time is %s on %s.",
			now.Format("3:04 PM"), now.Format("Monday, January 2, 2006"))
	}

	zone, ok := cityZones[city]
	if !ok {
		return fmt.Sprintf("I don't know the time zone for %s. Locally, the current time is %s on %s.",
			city, now.Format("3:04 PM"), now.Format("Monday, January 2, 2006"))
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		log.Warn().Err(err).Str("zone", zone).Msg("Time zone not present in zone database")
		return fmt.Sprintf("The current time is %s on %s.",
			now.Format("3:04 PM"), now.Format("Monday, January 2, 2006"))
	}

	local := now.In(loc)
	return fmt.Sprintf("The current time in %s is %s on %s.",
		titleCase(city), local.Format("3:04 PM"), local.Format("Monday, January 2, 2006"))
}

// capabilitiesAnswer renders the tool and skill indexes from the manifest.
func capabilitiesAnswer(doc *manifest.Manifest) string {
	var b strings.Builder
	b.WriteString("Here's what I can do.\n")

	if len(doc.ToolIndex) > 0 {
		b.WriteString("\nTools:\n")
		for _, name := range sortedNames(doc.ToolIndex) {
			fmt.Fprintf(&b, "  - %s: %s\n", name, doc.ToolIndex[name])
		}
	}

	if len(doc.SkillIndex) > 0 {
		b.WriteString("\nSkills:\n")
		for _, name := range sortedNames(doc.SkillIndex) {
			fmt.Fprintf(&b, "  - %s: %s\n", name, doc.SkillIndex[name])
		}
	} else {
		b.WriteString("\nNo skills installed yet. Drop skill files into the skills directory to add more.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
