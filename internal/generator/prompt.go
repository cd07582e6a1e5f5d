package generator

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/seshat/models"
)

const (
	defaultWordCount = 1200
	defaultTone      = "informative and approachable"
	defaultAudience  = "software developers"
)

func withDefaults(opts models.GenerationOptions) models.GenerationOptions {
	if opts.TargetWordCount <= 0 {
		opts.TargetWordCount = defaultWordCount
	}
	if strings.TrimSpace(opts.Tone) == "" {
		opts.Tone = defaultTone
	}
	if strings.TrimSpace(opts.Audience) == "" {
		opts.Audience = defaultAudience
	}
	return opts
}

func systemPrompt(opts models.GenerationOptions) string {
	var b strings.Builder
	b.WriteString("You are an experienced technical writer producing posts for a personal blog.\n")
	fmt.Fprintf(&b, "Write for %s in a %s tone.\n", opts.Audience, opts.Tone)
	if opts.IncludeCodeExamples {
		b.WriteString("Include short, correct code examples in fenced markdown blocks where they help.\n")
	} else {
		b.WriteString("Do not include code blocks.\n")
	}
	b.WriteString(`Respond with a single JSON object and nothing else:
{"title": string, "excerpt": string (one or two sentences), "body": string (markdown, no top-level heading), "tags": [string]}`)
	return b.String()
}

func userPrompt(subject string, opts models.GenerationOptions) string {
	msg := fmt.Sprintf("Write a blog post of about %d words on: %s", opts.TargetWordCount, subject)
	if len(opts.Tags) > 0 {
		msg += "\nRelated tags: " + strings.Join(opts.Tags, ", ")
	}
	return msg
}
