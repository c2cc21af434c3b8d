package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/spendwise/internal/domain"
)

// Service wraps a Generator with the two request formatters. Construct it
// with the injected generator; there is no ambient client.
type Service struct {
	gen Generator
	log zerolog.Logger

	clock func() time.Time // "today" for relative-date context, swappable in tests
}

// NewService builds the AI service over the given generator.
func NewService(gen Generator, log zerolog.Logger) *Service {
	return &Service{gen: gen, log: log, clock: time.Now}
}

// parseSchema constrains the free-text parse response. Every field is
// optional; the model omits what it cannot extract.
func parseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"amount":      {Type: genai.TypeNumber},
			"category":    {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"date":        {Type: genai.TypeString},
		},
	}
}

// parsedPayload is the raw decoded parse response before validation.
type parsedPayload struct {
	Amount      *float64 `json:"amount"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
	Date        *string  `json:"date"`
}

// ParseRawExpense turns an arbitrary user string ("25 bucks for gas on
// tuesday") into a partial expense. The prompt carries today's date and
// weekday so the model can resolve relative terms. Any transport or parse
// failure returns an all-fields-absent result; nothing propagates past this
// boundary.
func (s *Service) ParseRawExpense(ctx context.Context, input string) domain.ParsedExpense {
	today := s.clock()
	prompt := buildParsePrompt(input, today)

	raw, err := s.gen.GenerateJSON(ctx, prompt, parseSchema())
	if err != nil {
		s.log.Warn().Err(err).Msg("Expense parse call failed")
		return domain.ParsedExpense{}
	}

	var payload parsedPayload
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &payload); err != nil {
		s.log.Warn().Err(err).Str("raw", raw).Msg("Expense parse response is not valid JSON")
		return domain.ParsedExpense{}
	}

	return validateParsed(payload, s.log)
}

// validateParsed applies the contract checks: out-of-set categories and
// malformed dates are violations treated as "field absent" rather than
// trusted, negative amounts likewise.
func validateParsed(p parsedPayload, log zerolog.Logger) domain.ParsedExpense {
	var result domain.ParsedExpense

	if p.Amount != nil && *p.Amount >= 0 {
		result.Amount = p.Amount
	}

	if p.Category != nil {
		if category, ok := domain.ParseCategory(*p.Category); ok {
			result.Category = &category
		} else {
			log.Debug().Str("category", *p.Category).Msg("Model returned out-of-set category, dropping")
		}
	}

	if p.Description != nil && strings.TrimSpace(*p.Description) != "" {
		d := strings.TrimSpace(*p.Description)
		result.Description = &d
	}

	if p.Date != nil {
		if _, err := time.Parse(domain.DateLayout, *p.Date); err == nil {
			result.Date = p.Date
		} else {
			log.Debug().Str("date", *p.Date).Msg("Model returned malformed date, dropping")
		}
	}

	return result
}

func buildParsePrompt(input string, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: Today is %s, %s. Parse: %q.\n",
		today.Weekday(), today.Format(domain.DateLayout), input)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Category must be from: %s.\n", categoryList())
	b.WriteString("- Date must be YYYY-MM-DD. Handle relative terms like 'yesterday' or 'last Friday'.\n")
	b.WriteString("- Omit any field you cannot determine from the input.\n")
	return b.String()
}

func categoryList() string {
	names := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
