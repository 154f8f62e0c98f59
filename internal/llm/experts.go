package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/ta"
	"llm-backtester/internal/types"
)

// ErrMalformedSignal is returned when a reply does not open with -1, 0 or 1.
var ErrMalformedSignal = errors.New("malformed trading signal")

var (
	thinkBlock   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	blankLines   = regexp.MustCompile(`\n\s*\n`)
	reasonBullet = regexp.MustCompile(`(?m)^\s*-\s+(.*)`)
)

// StripThink drops <think> blocks emitted by reasoning models and collapses
// the blank lines they leave behind.
func StripThink(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// ParseDecision reads a trading reply: the first non-blank line is the
// signal, every "- " bullet is a reason.
func ParseDecision(reply string) (types.Decision, error) {
	content := StripThink(reply)
	var first string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			first = strings.TrimSpace(line)
			break
		}
	}
	var sig types.Signal
	switch first {
	case "1":
		sig = types.Buy
	case "0":
		sig = types.Hold
	case "-1":
		sig = types.Sell
	default:
		return types.Decision{}, fmt.Errorf("%w: %q", ErrMalformedSignal, truncate(content, 120))
	}

	var reasons []string
	for _, m := range reasonBullet.FindAllStringSubmatch(content, -1) {
		reasons = append(reasons, strings.TrimSpace(m[1]))
	}
	return types.Decision{Signal: sig, Reason: strings.Join(reasons, "\n")}, nil
}

// PriceAnalyst asks a model for a short-term trend report over the most
// recent candles and their indicators.
type PriceAnalyst struct {
	client  interfaces.ChatClient
	params  ta.Params
	history int
}

var _ interfaces.Analyst = (*PriceAnalyst)(nil)

// NewPriceAnalyst sends at most history candles; zero sends all of them.
func NewPriceAnalyst(client interfaces.ChatClient, params ta.Params, history int) *PriceAnalyst {
	return &PriceAnalyst{client: client, params: params, history: history}
}

func (a *PriceAnalyst) Analyze(ctx context.Context, market string, candles []types.Candle, pf types.Portfolio) (string, error) {
	if len(candles) == 0 {
		return "", errors.New("no candles to analyze")
	}
	recent := candles
	if a.history > 0 && len(recent) > a.history {
		recent = recent[len(recent)-a.history:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Market: %s\n\n", market)
	fmt.Fprintf(&b, "# Holdings:\n- Cash: %s\n- Amount of Coins: %s\n\n", formatAmount(pf.Cash), formatAmount(pf.Position))
	b.WriteString("# Indicators (last candle):\n")
	b.WriteString(ta.Compute(candles, a.params).Render(a.params.SMAWindows))
	b.WriteString("\n\n# Recent candles:\n")
	renderCandles(&b, recent)

	reply, err := a.client.Complete(ctx, PriceAnalystSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("price analysis: %w", err)
	}
	report := StripThink(reply)
	if report == "" {
		return "", errors.New("price analysis: empty report")
	}
	return report, nil
}

// TradingExpert turns a trading prompt into a signal.
type TradingExpert struct {
	client interfaces.ChatClient
}

var _ interfaces.Decider = (*TradingExpert)(nil)

func NewTradingExpert(client interfaces.ChatClient) *TradingExpert {
	return &TradingExpert{client: client}
}

func (e *TradingExpert) Decide(ctx context.Context, prompt string) (types.Decision, error) {
	reply, err := e.client.Complete(ctx, TradingExpertSystemPrompt, prompt)
	if err != nil {
		return types.Decision{}, fmt.Errorf("trading decision: %w", err)
	}
	return ParseDecision(reply)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
