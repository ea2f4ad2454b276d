package conversation

import (
	"fmt"
	"strings"
)

// openerPrompt builds the generation prompt for the first message at
// alarm time. There is no history yet; the scheduled time anchors the
// greeting.
func openerPrompt(persona, timeStr string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	b.WriteString("Este es el primer mensaje para ayudar a despertar. Saluda brevemente.\n")
	b.WriteString("Inicia una conversación interesante con una pregunta que rompa el hielo.\n")
	fmt.Fprintf(&b, "Hora programada: %s. No uses formato markdown.\n\n", timeStr)
	b.WriteString("Ejemplos de estilo:\n")
	b.WriteString("- ¡Arriba! ¿Qué vas a hacer primero en los próximos 5 minutos?\n")
	b.WriteString("- ¡Buen día! Toma agua y dime: ¿cuál es tu mini-objetivo de la mañana?\n")
	return b.String()
}

// continuationPrompt builds the generation prompt for a mid-session
// reply from the bounded recent history.
func continuationPrompt(persona string, history []Entry, window int) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	b.WriteString("Continúa la conversación para ayudar a despertar. ")
	b.WriteString("No repitas saludos (no digas cosas como 'buen día' ni 'hola' de nuevo). ")
	b.WriteString("No uses markdown.\n\n")
	b.WriteString("Usa el historial de la conversación para contexto y continuidad de las respuestas.\n\n")
	b.WriteString("Historial (más reciente al final):\n")
	b.WriteString(formatHistory(history, window))
	b.WriteString("\n\nAsistente:")
	return b.String()
}

// formatHistory renders the most recent window entries as plain text.
func formatHistory(history []Entry, window int) string {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		label := "Asistente"
		if entry.Role == RoleUser {
			label = "Usuario"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, entry.Text))
	}
	return strings.Join(lines, "\n")
}
