package chatbot

import (
	"strings"

	"github.com/simsocial/conversation-orchestrator/internal/llm"
)

// Keyword fast paths run before any model call, so the two intents with a
// deterministic contract never depend on model availability.
var scheduleKeywords = []string{
	"agendar",
	"marcar",
	"atualizar",
	"agendamento",
	"remarcar",
	"cadastro",
}

var transferKeywords = []string{
	"atendente",
	"humano",
	"pessoa",
	"falar com alguém",
	"falar com alguem",
}

// Affirmation token sets. The appointment and transfer confirmations accept
// slightly different vocabularies, kept separate on purpose.
var appointmentAffirmations = map[string]bool{
	"sim":      true,
	"s":        true,
	"pode":     true,
	"confirma": true,
	"confirmo": true,
	"ok":       true,
}

var transferAffirmations = map[string]bool{
	"sim":            true,
	"s":              true,
	"quero":          true,
	"pode ser":       true,
	"gostaria":       true,
	"sim, por favor": true,
	"sim por favor":  true,
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// keywordIntent matches the deterministic keyword lists. Returns
// IntentGeneral when no keyword matches.
func keywordIntent(text string) llm.Intent {
	t := normalize(text)
	for _, kw := range scheduleKeywords {
		if strings.Contains(t, kw) {
			return llm.IntentScheduleOrUpdate
		}
	}
	for _, kw := range transferKeywords {
		if strings.Contains(t, kw) {
			return llm.IntentTransferHuman
		}
	}
	return llm.IntentGeneral
}

func isAppointmentAffirmation(text string) bool {
	return appointmentAffirmations[strings.Trim(normalize(text), ".!")]
}

func isTransferAffirmation(text string) bool {
	return transferAffirmations[strings.Trim(normalize(text), ".!")]
}
