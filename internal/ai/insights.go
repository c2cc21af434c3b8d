package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/spendwise/internal/domain"
)

// emptyStateInsight is returned for an empty collection without making a
// remote call.
func emptyStateInsight() domain.SpendingInsight {
	return domain.SpendingInsight{
		Summary:             "Add your first transaction to unlock smart financial forecasting!",
		Suggestions:         []string{"Start with groceries or fuel", "Set a monthly budget"},
		TopSpendingCategory: domain.TopCategoryNone,
	}
}

// degradedInsight is the canned result for any transport or contract
// failure. The raw error never reaches the caller.
func degradedInsight() domain.SpendingInsight {
	return domain.SpendingInsight{
		Summary:             "Insights are temporarily unavailable. Your data is safe; try refreshing in a moment.",
		Suggestions:         []string{},
		TopSpendingCategory: domain.TopCategoryNone,
	}
}

// insightSchema constrains the analysis response. Summary, suggestions and
// the top category are required; forecast and anomalies are optional.
func insightSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {Type: genai.TypeString},
			"suggestions": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"topSpendingCategory": {Type: genai.TypeString},
			"forecastedTotal":     {Type: genai.TypeNumber},
			"anomalies": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"summary", "suggestions", "topSpendingCategory"},
	}
}

// expenseDigest is the per-record slice of the collection sent to the
// model: enough to reason about, nothing more.
type expenseDigest struct {
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
	Date     string  `json:"date"`
	Desc     string  `json:"desc"`
}

// AnalyzeSpending produces the AI summary over the current collection.
// An empty collection short-circuits to the canned empty-state result with
// zero model calls; any failure degrades to a canned transient-failure
// result. The call never retries on its own - refresh is a caller decision.
func (s *Service) AnalyzeSpending(ctx context.Context, expenses []domain.Expense) domain.SpendingInsight {
	if len(expenses) == 0 {
		return emptyStateInsight()
	}

	prompt := buildInsightPrompt(expenses, s.clock().Format(domain.DateLayout))

	raw, err := s.gen.GenerateJSON(ctx, prompt, insightSchema())
	if err != nil {
		s.log.Warn().Err(err).Msg("Insight call failed")
		return degradedInsight()
	}

	var insight domain.SpendingInsight
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &insight); err != nil {
		s.log.Warn().Err(err).Str("raw", raw).Msg("Insight response is not valid JSON")
		return degradedInsight()
	}

	return repairInsight(insight)
}

// repairInsight enforces the response contract: a missing summary is a hard
// violation (degraded result), the other required fields are repaired to
// their neutral values.
func repairInsight(in domain.SpendingInsight) domain.SpendingInsight {
	if strings.TrimSpace(in.Summary) == "" {
		return degradedInsight()
	}
	if in.Suggestions == nil {
		in.Suggestions = []string{}
	}
	if strings.TrimSpace(in.TopSpendingCategory) == "" {
		in.TopSpendingCategory = domain.TopCategoryNone
	}
	return in
}

func buildInsightPrompt(expenses []domain.Expense, today string) string {
	digest := make([]expenseDigest, 0, len(expenses))
	for _, e := range expenses {
		digest = append(digest, expenseDigest{
			Amount:   e.Amount,
			Category: string(e.Category),
			Date:     e.Date,
			Desc:     e.Description,
		})
	}
	// The digest is our own well-formed data; marshalling cannot fail.
	data, _ := json.Marshal(digest)

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Analyze these expenses: %s.\n", today, data)
	b.WriteString("1. Provide a concise summary.\n")
	b.WriteString("2. Suggest 3 specific actions.\n")
	b.WriteString("3. Identify the top category.\n")
	b.WriteString("4. Forecast the end-of-month spend based on current velocity.\n")
	b.WriteString("5. List any anomalies or unusual spikes.\n")
	return b.String()
}
