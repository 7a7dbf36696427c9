// Package extract turns acquired page text into structured field values
// using an LLM, parameterized by the entity type's schema descriptor.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/schema"
	"github.com/harborview-partners/enrich-cli/pkg/anthropic"
)

// insufficientSentinel is the exact string the model is instructed to return
// when the page does not contain enough material to profile the entity.
const insufficientSentinel = "INSUFFICIENT_DATA"

// OutcomeKind classifies an extraction attempt.
type OutcomeKind int

const (
	// OutcomeRecord means structured fields were extracted.
	OutcomeRecord OutcomeKind = iota
	// OutcomeInsufficient means the model judged the page too thin to profile.
	OutcomeInsufficient
	// OutcomeMalformed means the model's reply was not parseable JSON.
	OutcomeMalformed
	// OutcomeServiceError means the extraction API call itself failed.
	OutcomeServiceError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecord:
		return "record"
	case OutcomeInsufficient:
		return "insufficient"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one extraction attempt. Fields and Raw are set
// only when Kind is OutcomeRecord; Err only for OutcomeServiceError.
type Result struct {
	Kind   OutcomeKind
	Fields map[string]any
	Raw    json.RawMessage
	Usage  anthropic.TokenUsage
	Err    error
}

// Config controls extraction behavior.
type Config struct {
	Model     string
	MaxTokens int
	// TruncateChars caps how much page text is sent to the model. Content
	// beyond the cap is dropped; pages front-load the material that matters.
	TruncateChars int
}

// Extractor drives LLM extraction for any entity type.
type Extractor struct {
	client anthropic.Client
	cfg    Config
}

// New creates an Extractor.
func New(client anthropic.Client, cfg Config) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.TruncateChars <= 0 {
		cfg.TruncateChars = 24000
	}
	return &Extractor{client: client, cfg: cfg}
}

// Extract asks the model to fill the descriptor's schema from page text.
// API failures are reported in the Result rather than as an error return, so
// callers handle all four outcomes through one value.
func (e *Extractor) Extract(ctx context.Context, desc *schema.TypeDescriptor, pageText string) *Result {
	prompt := BuildPrompt(desc, Truncate(pageText, e.cfg.TruncateChars))

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: int64(e.cfg.MaxTokens),
		System:    desc.Prompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return &Result{
			Kind: OutcomeServiceError,
			Err:  eris.Wrap(err, "extract: create message"),
		}
	}

	return parseReply(desc, resp.Text(), resp.Usage)
}

func parseReply(desc *schema.TypeDescriptor, text string, usage anthropic.TokenUsage) *Result {
	cleaned := StripCodeFence(strings.TrimSpace(text))

	if strings.Contains(cleaned, insufficientSentinel) && !strings.HasPrefix(cleaned, "{") {
		return &Result{Kind: OutcomeInsufficient, Usage: usage}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		zap.L().Warn("extract: malformed model reply",
			zap.String("type", string(desc.Key)),
			zap.Int("reply_chars", len(text)),
		)
		return &Result{Kind: OutcomeMalformed, Usage: usage}
	}

	// A JSON-wrapped sentinel also counts as insufficient.
	if len(fields) == 1 {
		for _, v := range fields {
			if s, ok := v.(string); ok && s == insufficientSentinel {
				return &Result{Kind: OutcomeInsufficient, Usage: usage}
			}
		}
	}

	// Keep only schema fields; drop nulls and anything the model invented.
	kept := make(map[string]any, len(fields))
	for name, v := range fields {
		if v == nil {
			continue
		}
		if desc.Field(name) == nil {
			continue
		}
		if s, ok := v.(string); ok && (s == "" || s == insufficientSentinel) {
			continue
		}
		kept[name] = v
	}
	if len(kept) == 0 {
		return &Result{Kind: OutcomeInsufficient, Usage: usage}
	}

	raw, err := json.Marshal(kept)
	if err != nil {
		return &Result{Kind: OutcomeMalformed, Usage: usage}
	}
	return &Result{Kind: OutcomeRecord, Fields: kept, Raw: raw, Usage: usage}
}

// BuildPrompt renders the user message: the schema as a field list with
// hints, the sentinel instruction, and the page text.
func BuildPrompt(desc *schema.TypeDescriptor, pageText string) string {
	var b strings.Builder
	b.WriteString("Extract the following fields as a single JSON object:\n\n")
	for _, f := range desc.Fields {
		fmt.Fprintf(&b, "- %q: %s", f.Name, kindShape(f.Kind))
		if f.Hint != "" {
			b.WriteString(" — " + f.Hint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse null for fields the page does not support. ")
	b.WriteString("If the page contains too little information to profile this organization at all, ")
	b.WriteString("return exactly " + insufficientSentinel + " instead of JSON.\n")
	b.WriteString("\nPage content:\n")
	b.WriteString(pageText)
	return b.String()
}

func kindShape(k schema.FieldKind) string {
	switch k {
	case schema.KindTags:
		return "array of short strings"
	case schema.KindRecords:
		return "array of objects"
	default:
		return "string"
	}
}

// Truncate caps s at max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// StripCodeFence removes a surrounding markdown code fence if present.
func StripCodeFence(text string) string {
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
