// Package catalog holds the fixed message catalog: wake-up openers,
// generation fallbacks, and the user-facing error and success templates.
// Every string a user sees comes from here, so operators can reword the
// whole bot with a single YAML override file.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the full message set. Zero-value fields in an override file
// fall back to the built-in defaults.
type Catalog struct {
	// WakeUpMessages are the canned openers used when generation is
	// unavailable at alarm time.
	WakeUpMessages []string `yaml:"wake_up_messages"`
	// FollowUps are the canned continuation replies used when generation
	// fails mid-conversation.
	FollowUps []string `yaml:"follow_ups"`
	// Farewells close a session that hit its turn cap.
	Farewells []string `yaml:"farewells"`

	Errors  ErrorMessages   `yaml:"errors"`
	Success SuccessMessages `yaml:"success"`

	// Instruction follows the opener at alarm time. {time} is replaced
	// with the triggering alarm's HH:MM.
	Instruction string `yaml:"instruction"`
	// Welcome is the /start reply.
	Welcome string `yaml:"welcome"`
	// Help is the /help reply, in Markdown.
	Help string `yaml:"help"`
	// Persona is the default generation preamble, used when no persona
	// file is configured.
	Persona string `yaml:"persona"`
}

// ErrorMessages are user-correctable or precondition failures, forwarded
// verbatim to the chat.
type ErrorMessages struct {
	InvalidTime    string `yaml:"invalid_time"`
	InvalidHour    string `yaml:"invalid_hour"`
	InvalidMinute  string `yaml:"invalid_minute"`
	AlarmExists    string `yaml:"alarm_exists"`
	NoAlarms       string `yaml:"no_alarms"`
	AlarmNotFound  string `yaml:"alarm_not_found"`
	NoConversation string `yaml:"no_conversation"`
	General        string `yaml:"general_error"`
}

// SuccessMessages acknowledge registry mutations. {time} is replaced with
// the alarm's HH:MM.
type SuccessMessages struct {
	AlarmSet         string `yaml:"alarm_set"`
	AlarmRemoved     string `yaml:"alarm_removed"`
	AllAlarmsRemoved string `yaml:"all_alarms_removed"`
	AwakeConfirmed   string `yaml:"awake_confirmed"`
}

// Default returns the built-in Spanish catalog.
func Default() *Catalog {
	return &Catalog{
		WakeUpMessages: []string{
			"¡Es hora de despertarse! 🌅",
			"¡Buenos días! ¡Hora de levantarse! ☀️",
			"¡Tu alarma está sonando! ⏰",
			"¡Despierta! ¡Es un nuevo día! 🌞",
			"¡Hora de empezar el día! 💪",
			"¡Tu alarma programada está activa! 🔔",
		},
		FollowUps: []string{
			"¡Bien! ¿Qué vas a hacer primero ahora mismo?",
			"Genial. ¿Te levantás y tomás un vaso de agua?",
			"¡Vamos! ¿Cuál es tu mini-objetivo de esta mañana?",
			"¡Sigamos! ¿Qué vas a hacer en los próximos 5 minutos?",
		},
		Farewells: []string{
			"¡Perfecto, ya estás en marcha! Que tengas un gran día. 💪",
			"Listo, misión cumplida. ¡A disfrutar el día! ☀️",
		},
		Errors: ErrorMessages{
			InvalidTime:    "❌ Formato de hora inválido. Usa el formato HH:MM (ejemplo: 07:30)",
			InvalidHour:    "❌ La hora debe estar entre 00 y 23",
			InvalidMinute:  "❌ Los minutos deben estar entre 00 y 59",
			AlarmExists:    "⚠️ Ya tienes una alarma configurada para esta hora",
			NoAlarms:       "📭 No tienes alarmas configuradas",
			AlarmNotFound:  "❌ No se encontró ninguna alarma para esa hora",
			NoConversation: "🤷 No hay ninguna conversación de despertar activa.",
			General:        "❌ Ocurrió un error. Por favor, intenta nuevamente.",
		},
		Success: SuccessMessages{
			AlarmSet:         "✅ Alarma configurada para las {time}. Se repetirá diariamente.",
			AlarmRemoved:     "✅ Alarma de las {time} eliminada correctamente.",
			AllAlarmsRemoved: "✅ Todas las alarmas han sido eliminadas.",
			AwakeConfirmed:   "✅ ¡Ya estás despiert@! Conversación cerrada. Que tengas un gran día. 🌄",
		},
		Instruction: "⏰ {time} · Responde este mensaje para continuar. Cuando ya estés despiert@, enviá /despierto.",
		Welcome: "🤖 ¡Bienvenido al Bot de Alarmas Diarias!\n\n" +
			"Este bot te permite configurar alarmas que se repetirán todos los días a la hora que elijas.\n\n" +
			"Para comenzar, usa el comando:\n/alarma HH:MM\n\n" +
			"Por ejemplo: /alarma 07:30\n\n" +
			"Usa /help para ver todos los comandos disponibles.",
		Help: `🤖 *Bot de Alarmas Diarias*

*Comandos disponibles:*

/alarma HH:MM - Configura una alarma diaria
Ejemplo: ` + "`/alarma 07:30`" + `

/despierto - Marca que ya te levantaste y cierra la conversación

/list - Muestra todas tus alarmas activas

/remove HH:MM - Elimina una alarma específica
Ejemplo: ` + "`/remove 07:30`" + `

/removeall - Elimina todas tus alarmas

/help - Muestra este mensaje de ayuda

*Formato de hora:* HH:MM (24 horas)

¡Las alarmas se repetirán todos los días a la hora configurada! ⏰`,
		Persona: "Sos un asistente matutino amable y enérgico que ayuda a la persona a despertarse. " +
			"Hablás en español rioplatense, en tono cercano y breve.",
	}
}

// Load reads a YAML override file and merges its non-empty fields over
// the defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse messages file: %w", err)
	}

	base.merge(&override)
	return base, nil
}

// merge copies every non-empty field of o over c.
func (c *Catalog) merge(o *Catalog) {
	if len(o.WakeUpMessages) > 0 {
		c.WakeUpMessages = o.WakeUpMessages
	}
	if len(o.FollowUps) > 0 {
		c.FollowUps = o.FollowUps
	}
	if len(o.Farewells) > 0 {
		c.Farewells = o.Farewells
	}
	if o.Instruction != "" {
		c.Instruction = o.Instruction
	}
	if o.Welcome != "" {
		c.Welcome = o.Welcome
	}
	if o.Help != "" {
		c.Help = o.Help
	}
	if o.Persona != "" {
		c.Persona = o.Persona
	}
	mergeString := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	mergeString(&c.Errors.InvalidTime, o.Errors.InvalidTime)
	mergeString(&c.Errors.InvalidHour, o.Errors.InvalidHour)
	mergeString(&c.Errors.InvalidMinute, o.Errors.InvalidMinute)
	mergeString(&c.Errors.AlarmExists, o.Errors.AlarmExists)
	mergeString(&c.Errors.NoAlarms, o.Errors.NoAlarms)
	mergeString(&c.Errors.AlarmNotFound, o.Errors.AlarmNotFound)
	mergeString(&c.Errors.NoConversation, o.Errors.NoConversation)
	mergeString(&c.Errors.General, o.Errors.General)
	mergeString(&c.Success.AlarmSet, o.Success.AlarmSet)
	mergeString(&c.Success.AlarmRemoved, o.Success.AlarmRemoved)
	mergeString(&c.Success.AllAlarmsRemoved, o.Success.AllAlarmsRemoved)
	mergeString(&c.Success.AwakeConfirmed, o.Success.AwakeConfirmed)
}

// FormatTime substitutes {time} in a template.
func FormatTime(template, timeStr string) string {
	return strings.ReplaceAll(template, "{time}", timeStr)
}

// FormatAlarmList renders a user's alarms for display.
func FormatAlarmList(alarms []string) string {
	if len(alarms) == 0 {
		return "No tienes alarmas configuradas."
	}

	var b strings.Builder
	b.WriteString("⏰ *Tus alarmas activas:*\n\n")
	for i, t := range alarms {
		fmt.Fprintf(&b, "%d. `%s` (diaria)\n", i+1, t)
	}
	fmt.Fprintf(&b, "\n📊 Total: %d alarma(s)", len(alarms))
	return b.String()
}
