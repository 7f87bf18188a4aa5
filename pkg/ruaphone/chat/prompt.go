// Package chat – prompt.go builds the system prompts that steer reply
// generation. Replies are requested as JSON arrays of messages so the
// normalizer can split them into individual chat bubbles.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
)

const singlePromptTemplate = `You are now playing a character named "{chatName}".

# Current context
- The current time is {currentTime}.
- The user is located in {userAddress}.{worldFacts}

# Your character
{persona}
{memorySection}
# The user's character
{userPersona}

# Your task
1. Stay strictly in character at all times.
2. Your reply must be a string in JSON array format; each element is one message.
3. Produce 1 to 5 messages per reply, the way a real person sends several short texts in a row.
4. Never say anything out of character and never reveal that you are an AI.
5. When the user sends a picture, react to its content naturally.
6. Besides plain strings, an element may be a typed object, for example {"type":"voice","content":"..."} or {"type":"transfer","transferAmount":5.2,"transferNote":"..."}.
7. To remember a lasting fact about the user, emit {"type":"memory","content":"the fact"}; it is stored silently and never shown.

# Example output
[
  "nice to meet you! what are you up to?",
  "oh right, the weather is lovely today. want to take a walk?"
]

Now continue the conversation below following these rules.{styleSection}`

const groupPromptTemplate = `You are the organizer and driver of a group chat. Your task is to play every character below and keep the conversation alive.

# Group rules
1. Role-play: play all of the listed characters at once, each strictly in persona.
2. The current time is {currentTime}.
3. The user goes by "{nickname}"; mention them as "@{nickname}" when needed.
4. Output format: your reply MUST be a JSON array. A plain message is {"name": "character name", "message": "text"}; a typed message adds a "type" field next to "name".
5. Pacing: mimic a real group chat, with members talking to each other or reacting to the user together.
6. Limit: never produce more than 10 messages in one reply.
7. Never reveal that you are an AI.
8. Never speak on the user's behalf.

# Members and personas
{membersList}

Now continue this group chat following the rules and the history below.`

const (
	defaultPersonaText     = "a friendly companion"
	defaultUserPersonaText = "an ordinary user"
	defaultUserAddress     = "an unknown city"
	defaultGroupNickname   = "me"
)

func buildSinglePrompt(chat store.Chat, persona store.Persona, settings store.Settings, facts []store.WorldFact, now time.Time) string {
	template := singlePromptTemplate
	if t := strings.TrimSpace(settings.PromptSingle); t != "" {
		template = t
	}

	personaText := strings.TrimSpace(persona.Persona)
	if personaText == "" {
		personaText = defaultPersonaText
	}
	userPersona := strings.TrimSpace(settings.UserPersona)
	if userPersona == "" {
		userPersona = defaultUserPersonaText
	}
	address := strings.TrimSpace(settings.UserAddress)
	if address == "" {
		address = defaultUserAddress
	}

	r := strings.NewReplacer(
		"{chatName}", chat.Name,
		"{currentTime}", now.Format("Mon, 02 Jan 2006 15:04"),
		"{userAddress}", address,
		"{worldFacts}", worldFactsSection(facts),
		"{persona}", personaText,
		"{memorySection}", memorySection(persona.Memory),
		"{userPersona}", userPersona,
		"{styleSection}", styleSection(settings.CustomStyling),
	)
	return r.Replace(template)
}

func buildGroupPrompt(members []store.Persona, settings store.Settings, now time.Time) string {
	template := groupPromptTemplate
	if t := strings.TrimSpace(settings.PromptGroup); t != "" {
		template = t
	}
	nickname := strings.TrimSpace(settings.UserNickname)
	if nickname == "" {
		nickname = defaultGroupNickname
	}
	r := strings.NewReplacer(
		"{currentTime}", now.Format("Mon, 02 Jan 2006 15:04"),
		"{nickname}", nickname,
		"{membersList}", membersList(members),
	)
	return r.Replace(template)
}

func worldFactsSection(facts []store.WorldFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n# World setting\n")
	for i, f := range facts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", f.Name, f.Content)
	}
	return b.String()
}

func memorySection(memory string) string {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return ""
	}
	return "\n# Things you remember about the user\n" + memory + "\n"
}

// styleSection appends user-supplied style directives from settings. They
// override the template defaults, so they come last.
func styleSection(styling string) string {
	styling = strings.TrimSpace(styling)
	if styling == "" {
		return ""
	}
	return "\n\n# Style requirements\n" + styling
}

func membersList(members []store.Persona) string {
	lines := make([]string, 0, len(members))
	for _, m := range members {
		persona := strings.TrimSpace(m.Persona)
		if persona == "" {
			persona = defaultPersonaText
		}
		line := fmt.Sprintf("- **%s**: %s", m.Name, persona)
		if mem := strings.TrimSpace(m.Memory); mem != "" {
			line += "\n  Remembers: " + mem
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
