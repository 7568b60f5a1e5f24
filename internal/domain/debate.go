package domain

import "fmt"

// GreeksCited is a sparse subset of Greeks an agent referenced in its analysis.
type GreeksCited struct {
	Delta *float64
	Gamma *float64
	Theta *float64
	Vega  *float64
	Rho   *float64
}

// AgentResponse is one Bull or Bear agent turn in the debate.
type AgentResponse struct {
	Role               AgentRole
	Analysis           string
	KeyPoints          []string
	Conviction         float64
	ContractsRefer     []string
	GreeksCited        GreeksCited
	ModelUsed          string
	InputTokens        int
	OutputTokens       int
}

// NewAgentResponse validates and constructs an AgentResponse.
func NewAgentResponse(role AgentRole, analysis string, keyPoints []string, conviction float64, contractsReferenced []string, greeksCited GreeksCited, modelUsed string, inputTokens, outputTokens int) (AgentResponse, error) {
	if role != RoleBull && role != RoleBear {
		return AgentResponse{}, fmt.Errorf("agent response role %q is invalid", role)
	}
	if conviction < 0 || conviction > 1 {
		return AgentResponse{}, fmt.Errorf("agent response conviction %.4f out of range [0,1]", conviction)
	}
	return AgentResponse{
		Role: role, Analysis: analysis, KeyPoints: keyPoints, Conviction: conviction,
		ContractsRefer: contractsReferenced, GreeksCited: greeksCited, ModelUsed: modelUsed,
		InputTokens: inputTokens, OutputTokens: outputTokens,
	}, nil
}

// TradeThesis is the terminal output of the debate orchestrator, always
// carrying a non-empty disclaimer whether LLM-backed or a data-driven fallback.
type TradeThesis struct {
	Direction          Direction
	Conviction         float64
	EntryRationale     string
	RiskFactors        []string
	RecommendedAction  string
	BullSummary        string
	BearSummary        string
	ModelUsed          string
	TotalTokens        int
	DurationMs         int64
	Disclaimer         string
}

// NewTradeThesis validates and constructs a TradeThesis.
func NewTradeThesis(direction Direction, conviction float64, entryRationale string, riskFactors []string, recommendedAction, bullSummary, bearSummary, modelUsed string, totalTokens int, durationMs int64, disclaimer string) (TradeThesis, error) {
	switch direction {
	case Bullish, Bearish, Neutral:
	default:
		return TradeThesis{}, fmt.Errorf("trade thesis direction %q is invalid", direction)
	}
	if conviction < 0 || conviction > 1 {
		return TradeThesis{}, fmt.Errorf("trade thesis conviction %.4f out of range [0,1]", conviction)
	}
	if disclaimer == "" {
		return TradeThesis{}, fmt.Errorf("trade thesis disclaimer must not be empty")
	}
	return TradeThesis{
		Direction: direction, Conviction: conviction, EntryRationale: entryRationale,
		RiskFactors: riskFactors, RecommendedAction: recommendedAction, BullSummary: bullSummary,
		BearSummary: bearSummary, ModelUsed: modelUsed, TotalTokens: totalTokens,
		DurationMs: durationMs, Disclaimer: disclaimer,
	}, nil
}
