// Package debate implements the Bull -> Bear -> Risk debate orchestrator
// (C12): three chained LLM calls producing a TradeThesis, with a
// deterministic data-driven fallback when the LLM is unavailable or
// misbehaves.
package debate

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/ports"
	"github.com/optionalpha/scanner/internal/repository"
)

// Disclaimer is stamped verbatim on every TradeThesis, LLM-backed or fallback.
const Disclaimer = "This analysis is for informational purposes only and does not constitute financial advice. Options trading involves substantial risk of loss."

const fallbackModel = "data-driven-fallback"

const bullPrompt = `You are the bull agent in an options trading debate. Given the market context JSON below, argue the bullish case. Respond with ONLY a JSON object: {"analysis": string, "key_points": [string], "conviction": number 0-1, "contracts_referenced": [string], "greeks_cited": {"delta": number|null, "gamma": number|null, "theta": number|null, "vega": number|null, "rho": number|null}}.

Market context: %s`

const bearPrompt = `You are the bear agent in an options trading debate. Given the market context and the bull agent's argument below, argue the bearish case. Respond with ONLY a JSON object in the same shape as the bull agent's response.

Market context: %s

Bull argument: %s`

const riskPrompt = `You are the risk/synthesis agent. Given the market context and both the bull and bear arguments below, produce a final trade thesis. Respond with ONLY a JSON object: {"direction": "bullish"|"bearish"|"neutral", "conviction": number 0-1, "entry_rationale": string, "risk_factors": [string], "recommended_action": string, "bull_summary": string, "bear_summary": string}.

Market context: %s

Bull argument: %s

Bear argument: %s`

const clarificationSuffix = "\n\nYour previous response was not valid JSON matching the required shape. Respond again with ONLY the JSON object, no surrounding text."

// Orchestrator runs the three-agent debate chain over an LLM port, falling
// back to a deterministic thesis when the LLM is unreachable or misbehaves.
type Orchestrator struct {
	llm     ports.LLMPort
	repo    *repository.Repository
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// New builds an Orchestrator. repo may be nil; persistence is then skipped.
func New(llmPort ports.LLMPort, repo *repository.Repository, model string, timeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{llm: llmPort, repo: repo, model: model, timeout: timeout, log: log.With().Str("component", "debate_orchestrator").Logger()}
}

type greeksJSON struct {
	Delta *float64 `json:"delta"`
	Gamma *float64 `json:"gamma"`
	Theta *float64 `json:"theta"`
	Vega  *float64 `json:"vega"`
	Rho   *float64 `json:"rho"`
}

type agentJSON struct {
	Analysis            string     `json:"analysis"`
	KeyPoints           []string   `json:"key_points"`
	Conviction          float64    `json:"conviction"`
	ContractsReferenced []string   `json:"contracts_referenced"`
	GreeksCited         greeksJSON `json:"greeks_cited"`
}

type thesisJSON struct {
	Direction         string   `json:"direction"`
	Conviction        float64  `json:"conviction"`
	EntryRationale    string   `json:"entry_rationale"`
	RiskFactors       []string `json:"risk_factors"`
	RecommendedAction string   `json:"recommended_action"`
	BullSummary       string   `json:"bull_summary"`
	BearSummary       string   `json:"bear_summary"`
}

// Run executes the debate chain for one ticker. direction and compositeScore
// are the pipeline's already-computed technical direction and score, used
// only by the fallback path. adx/rsi are surfaced in the fallback templates.
func (o *Orchestrator) Run(mc domain.MarketContext, direction domain.Direction, compositeScore, adx float64) domain.TradeThesis {
	start := time.Now()

	if !o.llm.ValidateModel(o.model) {
		o.log.Warn().Str("ticker", mc.Ticker).Str("model", o.model).Msg("llm model unavailable, using fallback thesis")
		return o.fallback(mc, direction, compositeScore, adx, start)
	}

	thesis, err := o.runDebate(mc, start)
	if err != nil {
		o.log.Warn().Err(err).Str("ticker", mc.Ticker).Msg("debate chain failed, using fallback thesis")
		return o.fallback(mc, direction, compositeScore, adx, start)
	}

	o.persist(mc.Ticker, thesis)
	return thesis
}

func (o *Orchestrator) runDebate(mc domain.MarketContext, start time.Time) (domain.TradeThesis, error) {
	contextJSON, err := json.Marshal(mc)
	if err != nil {
		return domain.TradeThesis{}, fmt.Errorf("marshal market context: %w", err)
	}

	var totalInputTokens, totalOutputTokens int

	bullResult, bullResponse, err := o.callAgent(domain.RoleBull, fmt.Sprintf(bullPrompt, contextJSON))
	if err != nil {
		return domain.TradeThesis{}, fmt.Errorf("bull agent: %w", err)
	}
	totalInputTokens += bullResult.InputTokens
	totalOutputTokens += bullResult.OutputTokens

	bearResult, bearResponse, err := o.callAgent(domain.RoleBear, fmt.Sprintf(bearPrompt, contextJSON, bullResponse.Analysis))
	if err != nil {
		return domain.TradeThesis{}, fmt.Errorf("bear agent: %w", err)
	}
	totalInputTokens += bearResult.InputTokens
	totalOutputTokens += bearResult.OutputTokens

	riskContent, err := o.callWithRetry(fmt.Sprintf(riskPrompt, contextJSON, bullResponse.Analysis, bearResponse.Analysis))
	if err != nil {
		return domain.TradeThesis{}, fmt.Errorf("risk agent: %w", err)
	}
	totalInputTokens += riskContent.tokens.InputTokens
	totalOutputTokens += riskContent.tokens.OutputTokens

	var tj thesisJSON
	if err := json.Unmarshal([]byte(riskContent.content), &tj); err != nil {
		return domain.TradeThesis{}, fmt.Errorf("risk agent returned malformed JSON: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	thesis, err := domain.NewTradeThesis(domain.Direction(tj.Direction), tj.Conviction, tj.EntryRationale, tj.RiskFactors,
		tj.RecommendedAction, tj.BullSummary, tj.BearSummary, o.model, totalInputTokens+totalOutputTokens, elapsed, Disclaimer)
	if err != nil {
		return domain.TradeThesis{}, fmt.Errorf("risk agent thesis failed validation: %w", err)
	}
	return thesis, nil
}

type agentCallResult struct {
	content string
	tokens  ports.ChatResult
}

// callWithRetry sends prompt and, if the reply is not valid JSON, retries once
// with a clarification suffix. Decoding into the agent schema is left to the
// caller; a valid-JSON reply that fails that decoding is not retried.
func (o *Orchestrator) callWithRetry(prompt string) (agentCallResult, error) {
	result, err := o.llm.Chat([]ports.ChatMessage{{Role: "user", Content: prompt}}, o.model, o.timeout)
	if err != nil {
		return agentCallResult{}, err
	}
	if json.Valid([]byte(result.Content)) {
		return agentCallResult{content: result.Content, tokens: result}, nil
	}

	retryResult, err := o.llm.Chat([]ports.ChatMessage{{Role: "user", Content: prompt + clarificationSuffix}}, o.model, o.timeout)
	if err != nil {
		return agentCallResult{}, err
	}
	if !json.Valid([]byte(retryResult.Content)) {
		return agentCallResult{}, fmt.Errorf("response was not valid JSON after retry")
	}
	merged := ports.ChatResult{
		InputTokens:  result.InputTokens + retryResult.InputTokens,
		OutputTokens: result.OutputTokens + retryResult.OutputTokens,
	}
	return agentCallResult{content: retryResult.Content, tokens: merged}, nil
}

func (o *Orchestrator) callAgent(role domain.AgentRole, prompt string) (ports.ChatResult, domain.AgentResponse, error) {
	call, err := o.callWithRetry(prompt)
	if err != nil {
		return ports.ChatResult{}, domain.AgentResponse{}, err
	}
	var parsed agentJSON
	if err := json.Unmarshal([]byte(call.content), &parsed); err != nil {
		return ports.ChatResult{}, domain.AgentResponse{}, fmt.Errorf("parse agent response: %w", err)
	}

	greeksCited := domain.GreeksCited{
		Delta: parsed.GreeksCited.Delta, Gamma: parsed.GreeksCited.Gamma,
		Theta: parsed.GreeksCited.Theta, Vega: parsed.GreeksCited.Vega, Rho: parsed.GreeksCited.Rho,
	}
	agentResp, err := domain.NewAgentResponse(role, parsed.Analysis, parsed.KeyPoints, parsed.Conviction,
		parsed.ContractsReferenced, greeksCited, o.model, call.tokens.InputTokens, call.tokens.OutputTokens)
	if err != nil {
		return ports.ChatResult{}, domain.AgentResponse{}, fmt.Errorf("agent response failed validation: %w", err)
	}
	return call.tokens, agentResp, nil
}

// fallback builds a deterministic TradeThesis from the already-computed
// technical signals, per the data-driven fallback contract.
func (o *Orchestrator) fallback(mc domain.MarketContext, direction domain.Direction, compositeScore, adx float64, start time.Time) domain.TradeThesis {
	conviction := clamp01(math.Abs(compositeScore))

	var entryRationale, recommendedAction, bullSummary, bearSummary string
	switch direction {
	case domain.Bullish:
		entryRationale = fmt.Sprintf("RSI at %.1f with ADX %.1f suggests oversold momentum building for %s.", mc.RSI14, adx, mc.Ticker)
		recommendedAction = "Consider a bullish options position sized to conviction."
		bullSummary = fmt.Sprintf("RSI %.1f, IV rank %.1f, and ADX %.1f support a bullish technical setup.", mc.RSI14, mc.IVRank, adx)
		bearSummary = "Technical signals are one input; earnings proximity and broader market regime are not weighed here."
	case domain.Bearish:
		entryRationale = fmt.Sprintf("RSI at %.1f with ADX %.1f suggests overbought momentum building for %s.", mc.RSI14, adx, mc.Ticker)
		recommendedAction = "Consider a bearish options position sized to conviction."
		bearSummary = fmt.Sprintf("RSI %.1f, IV rank %.1f, and ADX %.1f support a bearish technical setup.", mc.RSI14, mc.IVRank, adx)
		bullSummary = "Technical signals are one input; earnings proximity and broader market regime are not weighed here."
	default:
		entryRationale = fmt.Sprintf("ADX %.1f indicates no trending signal for %s; no directional edge identified.", adx, mc.Ticker)
		recommendedAction = "No position recommended; signals are inconclusive."
		bullSummary = "No clear bullish case from current technical signals."
		bearSummary = "No clear bearish case from current technical signals."
	}

	riskFactors := []string{"Generated without LLM reasoning; technical signals only.", "Earnings proximity and macro regime not considered."}

	thesis, err := domain.NewTradeThesis(direction, conviction, entryRationale, riskFactors, recommendedAction,
		bullSummary, bearSummary, fallbackModel, 0, time.Since(start).Milliseconds(), Disclaimer)
	if err != nil {
		// conviction/direction are always valid here; this should never happen.
		thesis, _ = domain.NewTradeThesis(domain.Neutral, 0, "fallback thesis construction failed", nil,
			"no action", "", "", fallbackModel, 0, time.Since(start).Milliseconds(), Disclaimer)
	}
	return thesis
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// persist saves the thesis via the repository if one is configured. Failure
// is logged but never propagates.
func (o *Orchestrator) persist(ticker string, thesis domain.TradeThesis) {
	if o.repo == nil {
		return
	}
	fullJSON, err := json.Marshal(thesis)
	if err != nil {
		o.log.Error().Err(err).Str("ticker", ticker).Msg("failed to marshal thesis for persistence")
		return
	}
	if _, err := o.repo.SaveAIThesis(ticker, thesis, string(fullJSON)); err != nil {
		o.log.Error().Err(err).Str("ticker", ticker).Msg("failed to persist ai thesis")
	}
}
