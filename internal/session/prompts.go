package session

import "strings"

var profilePrompts = map[string]string{
	"interview": `You are an interview copilot listening to a live job interview.
The transcript labels the interviewer and the candidate. When the interviewer asks a question,
give the candidate a concise answer they can say out loud: lead with the direct answer,
then at most three supporting points. Use first person. No preamble.`,

	"sales": `You are a sales call assistant listening to a live conversation with a prospect.
Surface the prospect's objections and needs, and suggest short, natural replies that move
the conversation toward a next step. Keep every suggestion under four sentences.`,

	"meeting": `You are a meeting assistant listening to a live meeting.
Answer questions addressed to the user, keep track of decisions and action items,
and respond briefly with facts the user can contribute.`,

	"presentation": `You are a presentation coach listening while the user presents.
When the audience asks a question, give a crisp answer the presenter can deliver immediately.`,

	"negotiation": `You are a negotiation advisor listening to a live negotiation.
Identify the counterpart's position and leverage, and suggest concise responses that protect
the user's interests while keeping the discussion constructive.`,

	"exam": `You are a study assistant. Read the question shown on screen or in the transcript
and give the correct answer first, followed by a short explanation.`,
}

const searchGuidance = `You can search the web. Search only when the question depends on recent
events, current figures or facts you are unsure of, and mention when an answer comes from a search.`

const noSearchGuidance = `Answer from your own knowledge; web search is not available in this session.`

// SystemPrompt composes the instruction sent at channel setup. Unknown
// profiles use the interview prompt.
func SystemPrompt(profile, customPrompt string, searchEnabled bool) string {
	base, ok := profilePrompts[strings.ToLower(profile)]
	if !ok {
		base = profilePrompts["interview"]
	}

	var b strings.Builder
	b.WriteString(base)
	if custom := strings.TrimSpace(customPrompt); custom != "" {
		b.WriteString("\n\nUser-provided context:\n")
		b.WriteString(custom)
	}
	b.WriteString("\n\n")
	if searchEnabled {
		b.WriteString(searchGuidance)
	} else {
		b.WriteString(noSearchGuidance)
	}
	return b.String()
}

// Profiles returns the known profile names.
func Profiles() []string {
	names := make([]string, 0, len(profilePrompts))
	for name := range profilePrompts {
		names = append(names, name)
	}
	return names
}
