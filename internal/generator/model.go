package generator

import (
	"fmt"
	"strings"
)

// Request is the body of POST /api/v1/generate-prompt.
// Field order sets the order in which missing fields are reported.
type Request struct {
	Tool        string `json:"tool" validate:"required"`
	PromptType  string `json:"promptType" validate:"required"`
	Description string `json:"description" validate:"required"`
	Language    string `json:"language"`
	Framework   string `json:"framework"`
}

// trim drops surrounding whitespace so a blank field counts as missing.
func (r *Request) trim() {
	r.Tool = strings.TrimSpace(r.Tool)
	r.PromptType = strings.TrimSpace(r.PromptType)
	r.Description = strings.TrimSpace(r.Description)
	r.Language = strings.TrimSpace(r.Language)
	r.Framework = strings.TrimSpace(r.Framework)
}

// Result is returned to the caller on success.
type Result struct {
	Content   string `json:"content"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message"`
}

// Config holds the generator settings that used to be hard-coded.
type Config struct {
	DailyLimit       int
	Model            string
	StrictPromptType bool
}

func resultMessage(remaining int) string {
	if remaining > 0 {
		return fmt.Sprintf("Prompt generated! You have %d free %s left today.", remaining, plural(remaining))
	}
	return "This was your last free generation for today. Your limit resets at midnight UTC."
}

func quotaMessage(limit int) string {
	return fmt.Sprintf("You've used all %d free %s for today. Your limit resets at midnight UTC.", limit, plural(limit))
}

func plural(n int) string {
	if n == 1 {
		return "generation"
	}
	return "generations"
}
