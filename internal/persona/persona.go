// Package persona holds the static identity, trait, and style text injected
// into C2's prompt builder. Persona content itself is out of scope; this
// package is a minimal data holder, not a prompt-engineering subsystem.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the static text block describing who the bot is and how it
// should write.
type Persona struct {
	BotName     string   `yaml:"botName"`
	SystemText  string   `yaml:"systemText"`
	Traits      []string `yaml:"traits"`
	StyleNotes  []string `yaml:"styleNotes"`
}

// Default returns the built-in persona used when no persona file is
// configured.
func Default() Persona {
	return Persona{
		BotName:    "assistant",
		SystemText: "You are a participant in an ongoing group conversation. Reply naturally, briefly, and only when you have something worth saying.",
		Traits:     []string{"concise", "even-tempered", "direct"},
		StyleNotes: []string{"avoid restating the question", "no unnecessary apologies"},
	}
}

// Load reads a YAML persona file, falling back to Default for any zero
// fields.
func Load(path string) (Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("persona: read %s: %w", path, err)
	}
	var loaded Persona
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return p, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	if loaded.BotName != "" {
		p.BotName = loaded.BotName
	}
	if loaded.SystemText != "" {
		p.SystemText = loaded.SystemText
	}
	if len(loaded.Traits) > 0 {
		p.Traits = loaded.Traits
	}
	if len(loaded.StyleNotes) > 0 {
		p.StyleNotes = loaded.StyleNotes
	}
	return p, nil
}

// Block renders the identity section of C2's prompt: system text, then
// enumerated trait/style guidance, then the bot identity line.
func (p Persona) Block() string {
	var b strings.Builder
	b.WriteString(p.SystemText)
	b.WriteString("\n\n")
	if len(p.Traits) > 0 {
		b.WriteString("Traits: " + strings.Join(p.Traits, ", ") + "\n")
	}
	if len(p.StyleNotes) > 0 {
		b.WriteString("Style notes:\n")
		for _, n := range p.StyleNotes {
			b.WriteString("- " + n + "\n")
		}
	}
	b.WriteString(fmt.Sprintf("\nYou are identified in this conversation as %q.\n", p.BotName))
	return b.String()
}
