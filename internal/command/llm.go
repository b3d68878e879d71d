package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

// systemPrompt builds the parser instructions for commands.
func systemPrompt(commands []string) string {
	quoted := make([]string, len(commands))
	for i, c := range commands {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	var b strings.Builder
	b.WriteString("You are a voice command parser for a game. Extract game commands from transcribed speech.\n\n")
	fmt.Fprintf(&b, "Valid commands: %s\n\n", strings.Join(quoted, ", "))
	b.WriteString(`Rules:
1. Only extract commands from the list above
2. Ignore filler words, partial words, or unclear speech
3. If multiple commands are mentioned, return only the FIRST clear command
4. If no valid command is detected, return null

Respond with JSON only, no other text:
{"command": "<command>" | null, "confidence": <0.0-1.0>}
`)
	if len(commands) >= 2 {
		first, second := commands[0], commands[1]
		fmt.Fprintf(&b, `
Examples:
- Input %q: {"command": %q, "confidence": 0.95}
- Input "go %s now": {"command": %q, "confidence": 0.90}
- Input "um uh": {"command": null, "confidence": 0.0}`, first, first, second, second)
	}
	return b.String()
}

// replySchema constrains the model to a known command or null. Backends
// that enforce schemas cannot return anything outside the vocabulary.
func replySchema(commands []string) *llm.Schema {
	enum := make([]any, 0, len(commands)+1)
	for _, c := range commands {
		enum = append(enum, c)
	}
	enum = append(enum, nil)
	return &llm.Schema{
		Name: "voice_command",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":    map[string]any{"type": []any{"string", "null"}, "enum": enum},
				"confidence": map[string]any{"type": "number"},
			},
			"required":             []any{"command", "confidence"},
			"additionalProperties": false,
		},
	}
}

// userPrompt wraps the transcript for the model.
func userPrompt(text string) string {
	return fmt.Sprintf("Transcribed speech: %q", text)
}

// llmReply is the JSON object the model is asked to return.
type llmReply struct {
	Command    *string  `json:"command"`
	Confidence *float64 `json:"confidence"`
}

var errNoJSON = errors.New("command: no JSON object in reply")

// parseReply decodes the model's answer. Markdown code fences are stripped
// and malformed JSON is repaired once before giving up.
func parseReply(content string) (cmd string, confidence float64, err error) {
	s := stripFences(content)
	if s == "" {
		return "", 0, errNoJSON
	}

	var r llmReply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		var syn *json.SyntaxError
		if !errors.As(err, &syn) {
			return "", 0, fmt.Errorf("command: decode reply: %w", err)
		}
		fixed, rerr := jsonrepair.JSONRepair(s)
		if rerr != nil {
			return "", 0, fmt.Errorf("command: repair reply: %w", rerr)
		}
		if err := json.Unmarshal([]byte(fixed), &r); err != nil {
			return "", 0, fmt.Errorf("command: decode repaired reply: %w", err)
		}
	}
	if r.Command != nil {
		cmd = *r.Command
	}
	if r.Confidence != nil {
		confidence = min(max(*r.Confidence, 0), 1)
	}
	return cmd, confidence, nil
}

// stripFences removes a surrounding ``` block, with or without a language
// tag, and trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}
