package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/kaitiaki/internal/bus"
	"github.com/roelfdiedericks/kaitiaki/internal/metrics"
	"github.com/roelfdiedericks/kaitiaki/internal/secrets"
	"github.com/roelfdiedericks/kaitiaki/internal/tokens"
)

func remoteAndLocal(t *testing.T) (*Registry, *fakeProvider, *fakeProvider) {
	t.Helper()
	reg := newTestRegistry(t, catalogOf(map[Kind][]string{
		KindOpenAI: {"gpt-x"},
		KindOllama: {"local-y"},
	}, KindOpenAI, KindOllama))
	return reg, newFake(KindOpenAI), newFake(KindOllama)
}

func TestGenerateFirstAvailable(t *testing.T) {
	reg := newTestRegistry(t, catalogOf(map[Kind][]string{KindOpenAI: {"gpt-x"}}, KindOpenAI))
	remote := newFake(KindOpenAI).reply("gpt-x", "OK")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote}, []Kind{KindOpenAI}, OrchestratorOptions{})

	res, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Text)
	assert.Equal(t, "gpt-x", res.Model)
	assert.Equal(t, KindOpenAI, res.Kind)
	assert.False(t, res.FailedOver)
	assert.Empty(t, res.Attempts)
}

func TestGenerateFallsBackToLocal(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.setDown("gpt-x", true)
	local.reply("local-y", "fallback-OK")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	res, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback-OK", res.Text)
	assert.True(t, res.FailedOver)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "gpt-x", res.Attempts[0].Model)

	var ue *UnavailableError
	assert.ErrorAs(t, res.Attempts[0].Err, &ue)

	// unavailable candidates are never generated against
	assert.Equal(t, []string{"check:gpt-x"}, remote.Calls())
}

func TestGenerateExhaustedRecordsProviderError(t *testing.T) {
	reg := newTestRegistry(t, catalogOf(map[Kind][]string{KindOpenAI: {"gpt-x"}}, KindOpenAI))
	remote := newFake(KindOpenAI).fail("gpt-x", &ProviderError{Kind: KindOpenAI, Model: "gpt-x", Status: 500, Body: "boom"})
	orch := NewOrchestrator(reg, Providers{OpenAI: remote}, []Kind{KindOpenAI}, OrchestratorOptions{})

	_, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersExhausted))

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 1)

	var pe *ProviderError
	require.ErrorAs(t, ex.Attempts[0].Err, &pe)
	assert.Equal(t, 500, pe.Status)
	assert.Equal(t, "boom", pe.Body)
}

func TestGenerateUnknownPreferredFallsThrough(t *testing.T) {
	reg := newTestRegistry(t, catalogOf(map[Kind][]string{KindOpenAI: {"gpt-x"}}, KindOpenAI))
	remote := newFake(KindOpenAI).reply("gpt-x", "OK")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote}, []Kind{KindOpenAI}, OrchestratorOptions{})

	res, err := orch.GenerateWithFallback(context.Background(), "hi", "no-such-model")
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Text)
	assert.False(t, res.FailedOver)
	assert.Empty(t, res.Attempts)
}

func TestPreferredUnavailableEmptyChainRecordsAttempt(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.setDown("gpt-x", true)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{}, OrchestratorOptions{})

	_, err := orch.GenerateWithFallback(context.Background(), "hi", "gpt-x")

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 1)
	assert.Equal(t, "gpt-x", ex.Attempts[0].Model)
	assert.Empty(t, local.Calls())
}

func TestPreferredTriedFirstAndNotRetried(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	local.fail("local-y", errors.New("model crashed"))
	remote.reply("gpt-x", "remote")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOllama, KindOpenAI}, OrchestratorOptions{})

	res, err := orch.GenerateWithFallback(context.Background(), "hi", "local-y")
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Text)
	assert.Equal(t, []string{"check:local-y", "gen:local-y"}, local.Calls())
	require.Len(t, res.Attempts, 1)

	// plain errors from an adapter are still reported as ProviderError
	var pe *ProviderError
	assert.ErrorAs(t, res.Attempts[0].Err, &pe)
}

func TestKindOutsideChainOnlyReachableByPreference(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.setDown("gpt-x", true)
	local.reply("local-y", "local")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI}, OrchestratorOptions{})

	_, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Empty(t, local.Calls())

	res, err := orch.GenerateWithFallback(context.Background(), "hi", "local-y")
	require.NoError(t, err)
	assert.Equal(t, "local", res.Text)
}

func TestFallbackOrderDeterministic(t *testing.T) {
	reg := newTestRegistry(t, catalogOf(map[Kind][]string{
		KindOpenAI:    {"a1", "a2"},
		KindAnthropic: {"b1"},
		KindOllama:    {"c1", "c2"},
	}, KindOpenAI, KindAnthropic, KindOllama))
	fail := errors.New("nope")
	openai := newFake(KindOpenAI).fail("a1", fail).fail("a2", fail)
	anth := newFake(KindAnthropic).fail("b1", fail)
	local := newFake(KindOllama).fail("c1", fail).fail("c2", fail)
	providers := Providers{OpenAI: openai, Anthropic: anth, Ollama: local}
	orch := NewOrchestrator(reg, providers, []Kind{KindOllama, KindAnthropic, KindOpenAI}, OrchestratorOptions{})

	order := func() []string {
		_, err := orch.GenerateWithFallback(context.Background(), "hi", "")
		var ex *ExhaustedError
		require.ErrorAs(t, err, &ex)
		names := make([]string, len(ex.Attempts))
		for i, a := range ex.Attempts {
			names[i] = a.Model
		}
		return names
	}

	first := order()
	assert.Equal(t, []string{"c1", "c2", "b1", "a1", "a2"}, first)
	assert.Equal(t, first, order())
}

func TestAvailabilityRecheckedEachCall(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.reply("gpt-x", "remote")
	local.reply("local-y", "local")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	text, err := orch.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "remote", text)

	remote.setDown("gpt-x", true)

	text, err = orch.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "local", text)
	assert.Equal(t, []string{"check:gpt-x", "gen:gpt-x", "check:gpt-x"}, remote.Calls())
}

func TestEmptyPromptRejectedBeforeAttempts(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, nil, OrchestratorOptions{})

	_, err := orch.GenerateWithFallback(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, remote.Calls())
	assert.Empty(t, local.Calls())
}

func TestCanceledBeforeFirstCandidate(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, nil, OrchestratorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.GenerateWithFallback(ctx, "hi", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Empty(t, remote.Calls())
}

func TestCanceledMidCallStopsFallback(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	local.reply("local-y", "local")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.hook = func(string) { cancel() }

	_, err := orch.GenerateWithFallback(ctx, "hi", "")

	var ce *CanceledError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, ce.Attempts, 1)
	assert.Equal(t, "gpt-x", ce.Attempts[0].Model)
	assert.Empty(t, local.Calls())
}

func TestSwitchProviderTriesKindFirst(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.reply("gpt-x", "remote")
	local.reply("local-y", "local")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	require.True(t, orch.SwitchProvider(context.Background(), KindOllama))
	assert.Equal(t, KindOllama, orch.CurrentProvider())

	text, err := orch.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "local", text)

	local.setDown("local-y", true)
	assert.False(t, orch.SwitchProvider(context.Background(), KindOllama))
	assert.False(t, orch.SwitchProvider(context.Background(), KindXAI))

	require.True(t, orch.SwitchProvider(context.Background(), ""))
	assert.Equal(t, Kind(""), orch.CurrentProvider())
}

func TestSwitchProviderRejectsKindOutsideChain(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.reply("gpt-x", "remote")
	local.reply("local-y", "local")
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI}, OrchestratorOptions{})

	assert.False(t, orch.SwitchProvider(context.Background(), KindOllama))
	assert.Equal(t, Kind(""), orch.CurrentProvider())
	assert.Empty(t, local.Calls())

	orch.RestoreState("", KindOllama)
	assert.Equal(t, Kind(""), orch.CurrentProvider())

	remote.setDown("gpt-x", true)
	_, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Empty(t, local.Calls())
}

func TestSetPreferredModel(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.reply("gpt-x", "remote")
	local.reply("local-y", "local")
	remote.setDown("gpt-x", true)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	assert.False(t, orch.SetPreferredModel(context.Background(), "gpt-x"))
	assert.False(t, orch.SetPreferredModel(context.Background(), "missing"))
	assert.Empty(t, orch.PreferredModel())

	remote.setDown("gpt-x", false)
	require.True(t, orch.SetPreferredModel(context.Background(), "local-y"))
	assert.Equal(t, "local-y", orch.PreferredModel())

	// stored preference applies when the call names none
	text, err := orch.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "local", text)

	// an explicit argument wins over the stored one
	text, err = orch.Generate(context.Background(), "hi", "gpt-x")
	require.NoError(t, err)
	assert.Equal(t, "remote", text)

	require.True(t, orch.SetPreferredModel(context.Background(), ""))
	assert.Empty(t, orch.PreferredModel())
}

func TestRestoreState(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, nil, OrchestratorOptions{})

	orch.RestoreState("gone", "martian")
	assert.Empty(t, orch.PreferredModel())
	assert.Equal(t, Kind(""), orch.CurrentProvider())

	orch.RestoreState("local-y", KindOllama)
	assert.Equal(t, "local-y", orch.PreferredModel())
	assert.Equal(t, KindOllama, orch.CurrentProvider())
	assert.Empty(t, remote.Calls(), "restore must not probe")
}

func TestStatusReport(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.setDown("gpt-x", true)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{Name: "test"})
	require.True(t, orch.SetPreferredModel(context.Background(), "local-y"))

	st := orch.Status(context.Background())
	assert.Equal(t, "test", st.Name)
	assert.Equal(t, []Kind{KindOllama}, st.AvailableProviders)
	assert.Equal(t, []string{"local-y"}, st.AvailableModels)
	assert.Equal(t, "local-y", st.PreferredModel)
	assert.Equal(t, []Kind{KindOpenAI, KindOllama}, st.ChainOrder)
	require.Len(t, st.Models, 2)
	assert.False(t, st.Models[0].Available)
	assert.Contains(t, st.Models[0].Reason, "down")
	assert.True(t, st.Models[1].Available)
	assert.False(t, st.LastReload.IsZero())

	assert.Equal(t, []string{"local-y"}, orch.ListAvailableModels(context.Background()))
}

func TestMissingAdapterIsUnavailable(t *testing.T) {
	reg, remote, _ := remoteAndLocal(t)
	remote.setDown("gpt-x", true)
	orch := NewOrchestrator(reg, Providers{OpenAI: remote}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{})

	_, err := orch.GenerateWithFallback(context.Background(), "hi", "")
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 2)

	var ue *UnavailableError
	require.ErrorAs(t, ex.Attempts[1].Err, &ue)
	assert.Equal(t, "no adapter", ue.Reason)
}

func TestMetricsAndEvents(t *testing.T) {
	reg, remote, local := remoteAndLocal(t)
	remote.fail("gpt-x", &ProviderError{Kind: KindOpenAI, Model: "gpt-x", Status: 429, Type: ErrorTypeRateLimit})
	local.reply("local-y", "local")

	m := metrics.New()
	b := bus.New()
	events := make(chan bus.Event, 4)
	b.Subscribe(bus.TopicFallback, func(e bus.Event) { events <- e })
	b.Subscribe(bus.TopicExhausted, func(e bus.Event) { events <- e })

	orch := NewOrchestrator(reg, Providers{OpenAI: remote, Ollama: local}, []Kind{KindOpenAI, KindOllama}, OrchestratorOptions{Bus: b, Metrics: m, Tokens: tokens.New("")})

	_, err := orch.Generate(context.Background(), "hello", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.Counter("llm", "fallbacks"))
	assert.Equal(t, int64(5), m.Counter("llm", "prompt_chars"))
	assert.Equal(t, int64(5), m.Counter("llm", "response_chars"))
	assert.Equal(t, int64(1), m.Counter("llm", "prompt_tokens"))
	assert.Equal(t, int64(1), m.Counter("llm", "response_tokens"))

	snap := m.Snapshot()
	require.Contains(t, snap, "llm/openai/gpt-x/outcome")
	sf := snap["llm/openai/gpt-x/outcome"].Data.(metrics.OutcomeSnapshot)
	assert.Equal(t, int64(1), sf.Failures)
	assert.Equal(t, int64(1), sf.FailureReasons["rate_limit"])

	select {
	case e := <-events:
		assert.Equal(t, bus.TopicFallback, e.Topic)
		fe, ok := e.Data.(FallbackEvent)
		require.True(t, ok)
		assert.Equal(t, "local-y", fe.Model)
	case <-time.After(2 * time.Second):
		t.Fatal("no fallback event")
	}

	local.setDown("local-y", true)
	_, err = orch.Generate(context.Background(), "hello", "")
	require.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Equal(t, int64(1), m.Counter("llm", "exhausted"))

	select {
	case e := <-events:
		assert.Equal(t, bus.TopicExhausted, e.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("no exhausted event")
	}
}

func TestReloadPublishes(t *testing.T) {
	src := secrets.Map{"OPENAI_MODELS": "gpt-x"}
	reg := NewRegistry(src, []CatalogEntry{{Kind: KindOpenAI, ModelsKey: "OPENAI_MODELS"}}, DefaultParams())
	b := bus.New()
	got := make(chan []string, 1)
	b.Subscribe(bus.TopicRegistryReloaded, func(e bus.Event) { got <- e.Data.([]string) })

	orch := NewOrchestrator(reg, Providers{}, nil, OrchestratorOptions{Bus: b})
	src["OPENAI_MODELS"] = "gpt-y,gpt-z"
	assert.Empty(t, orch.Reload())

	select {
	case names := <-got:
		assert.Equal(t, []string{"gpt-y", "gpt-z"}, names)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload event")
	}
}
