package prompt

import "fmt"

// Reminder is appended to every system prompt after the flow state. Short
// replies keep TTS latency and cost down on a phone line.
const Reminder = "Recuerda: estás en una llamada telefónica. Responde en frases cortas y naturales, máximo dos o tres oraciones."

// FlowState builds the explicit conversation-state block prepended to the
// system prompt, so the model advances the script instead of restarting it.
//
// userTurns counts how many user messages exist before the current one.
// Turn 0 returns "" since the greeting already covers the opening. Later turns
// get progressively firmer instructions; the model tends to drift back to
// the greeting without them.
func FlowState(userTurns int, lastUser string) string {
	switch {
	case userTurns <= 0:
		return ""
	case userTurns == 1:
		return fmt.Sprintf(
			"ESTADO DE LA CONVERSACIÓN: este es el turno 1. Ya saludaste al cliente; no repitas el saludo. El cliente acaba de decir: %q. Continúa con el siguiente paso del guión.",
			lastUser)
	case userTurns == 2:
		return fmt.Sprintf(
			"ESTADO DE LA CONVERSACIÓN: este es el turno 2. La conversación ya está en curso; no saludes ni te presentes de nuevo. El cliente acaba de decir: %q. Avanza al siguiente paso del guión.",
			lastUser)
	default:
		return fmt.Sprintf(
			"ESTADO DE LA CONVERSACIÓN: este es el turno %d de una conversación avanzada. Nunca vuelvas al saludo ni repitas pasos ya completados. El cliente acaba de decir: %q. Continúa el guión desde donde quedó.",
			userTurns, lastUser)
	}
}
