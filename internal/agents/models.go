package agents

import (
	"regexp"
	"strings"
	"time"
)

// Agent is a conversational profile: who the AI sounds like and what it
// is instructed to do on a call.
type Agent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Voice        string    `json:"voice"`
	Language     string    `json:"language"`
	Instructions string    `json:"instructions"`
	Greeting     string    `json:"greeting"`
	Model        string    `json:"model"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	DefaultVoice    = "Aoede"
	DefaultLanguage = "en-US"
)

// Normalize applies construction defaults so downstream code never has
// to re-check for empty fields.
func (a Agent) Normalize() Agent {
	if a.Voice == "" {
		a.Voice = DefaultVoice
	}
	if a.Language == "" {
		a.Language = DefaultLanguage
	}
	if a.Name == "" {
		a.Name = "Assistant"
	}
	if a.Instructions == "" {
		a.Instructions = "You are a helpful phone assistant. Keep answers short and conversational."
	}
	return a
}

// Fallback is the process-wide agent of last resort. Resolution never
// fails outright; it bottoms out here.
func Fallback() Agent {
	return Agent{ID: "fallback", Name: "Assistant"}.Normalize()
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// RenderInstructions substitutes {{field}} placeholders in an agent's
// instruction template. Placeholders with no matching value are replaced
// with an empty string, never left literal.
func RenderInstructions(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.TrimSpace(strings.Trim(m, "{}"))
		return vars[key]
	})
}
