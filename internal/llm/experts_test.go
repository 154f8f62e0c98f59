package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-backtester/internal/ta"
	"llm-backtester/internal/types"
)

type fakeChat struct {
	reply     string
	err       error
	gotSystem string
	gotUser   string
}

func (f *fakeChat) Complete(_ context.Context, system, user string) (string, error) {
	f.gotSystem, f.gotUser = system, user
	return f.reply, f.err
}

func TestStripThink(t *testing.T) {
	in := "<think>\nlet me see\n\nmaybe buy\n</think>\n\n1\n\n- trend up"
	assert.Equal(t, "1\n- trend up", StripThink(in))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		signal types.Signal
		reason string
	}{
		{"buy", "1\n- price rising\n- volume up", types.Buy, "price rising\nvolume up"},
		{"sell with padding", "\n  -1  \n- breakdown", types.Sell, "breakdown"},
		{"hold without reasons", "0", types.Hold, ""},
		{"think block first", "<think>0 or 1?</think>\n1\n- momentum", types.Buy, "momentum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecision(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.signal, d.Signal)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestParseDecisionMalformed(t *testing.T) {
	for _, reply := range []string{"", "BUY", "2\n- nope", "Signal: 1", "- reason first\n1"} {
		_, err := ParseDecision(reply)
		assert.ErrorIs(t, err, ErrMalformedSignal, "reply %q", reply)
	}
}

func TestParseDecisionMalformedKeepsRunesWhole(t *testing.T) {
	// 1 + 3k bytes puts the 120-byte cut inside a syllable.
	reply := "x" + strings.Repeat("가", 100)
	_, err := ParseDecision(reply)
	require.ErrorIs(t, err, ErrMalformedSignal)
	assert.NotContains(t, err.Error(), `\x`, "error text split a rune")
	assert.True(t, utf8.ValidString(truncate(reply, 120)))
	assert.Equal(t, "가...", truncate("가나", 4))
}

func TestTradingExpertDecide(t *testing.T) {
	chat := &fakeChat{reply: "-1\n- overbought"}
	d, err := NewTradingExpert(chat).Decide(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, types.Sell, d.Signal)
	assert.Equal(t, TradingExpertSystemPrompt, chat.gotSystem)
	assert.Equal(t, "prompt", chat.gotUser)

	chat.err = errors.New("boom")
	_, err = NewTradingExpert(chat).Decide(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestPriceAnalystLimitsHistory(t *testing.T) {
	var cs []types.Candle
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, types.KST)
	for i := 0; i < 50; i++ {
		p := 100 + float64(i)
		cs = append(cs, types.Candle{Ts: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Vol: 1})
	}
	chat := &fakeChat{reply: "<think>hm</think>Uptrend.\n- higher highs"}
	a := NewPriceAnalyst(chat, ta.DefaultParams(), 10)

	report, err := a.Analyze(context.Background(), "KRW-BTC", cs, types.Portfolio{Cash: 1000})
	require.NoError(t, err)
	assert.Equal(t, "Uptrend.\n- higher highs", report)
	assert.Equal(t, PriceAnalystSystemPrompt, chat.gotSystem)
	assert.Contains(t, chat.gotUser, "2024-02-19T09:00:00")
	assert.NotContains(t, chat.gotUser, "2024-02-09T09:00:00")
	assert.Contains(t, chat.gotUser, "RSI")

	_, err = a.Analyze(context.Background(), "KRW-BTC", nil, types.Portfolio{})
	assert.Error(t, err)
}

func TestBuildTradingPrompt(t *testing.T) {
	got := BuildTradingPrompt(types.Portfolio{Cash: 1000000, Position: 0.5}, "Up.\n")
	assert.Equal(t, "# Current Portfolio:\n- Cash: 1000000\n- Amount of Coins: 0.5\n\n# Price Analysis Report:\nUp.", got)
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, ProviderOpenAI, ProviderFor("gpt-4o-mini"))
	assert.Equal(t, ProviderOpenAI, ProviderFor("o3-mini"))
	assert.Equal(t, ProviderClaude, ProviderFor("claude-3-5-sonnet-latest"))
	assert.Equal(t, ProviderOllama, ProviderFor("deepseek-r1:8b"))
	assert.Equal(t, ProviderOllama, ProviderFor("llama3"))
}
