package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mayroga/internal/catalog"
	"mayroga/internal/external"
	"mayroga/internal/types"
)

type fakeProvider struct {
	name  string
	reply string
	err   error
	calls []external.ChatRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req external.ChatRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) RecordExchange(ctx context.Context, ex types.ChatExchange) error {
	return m.Called(ctx, ex).Error(0)
}

func testRegistry() catalog.Registry {
	return catalog.NewStaticRegistry([]catalog.Service{{
		ID:         "medico",
		Name:       "Orientación",
		PriceCents: 500,
		Prompt:     "Eres un orientador de bienestar.",
		Providers:  []string{catalog.ProviderOpenAI, catalog.ProviderGemini},
	}})
}

func TestRoute_UsesFirstProvider(t *testing.T) {
	openai := &fakeProvider{name: "openai", reply: "Hola"}
	gemini := &fakeProvider{name: "gemini", reply: "unused"}
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{"openai": openai, "gemini": gemini}, nil)

	reply, err := r.Route(context.Background(), "medico", "  me duele la cabeza ", "es")
	require.NoError(t, err)
	assert.Equal(t, Reply{Text: "Hola", Provider: "openai"}, reply)
	require.Len(t, openai.calls, 1)
	assert.Empty(t, gemini.calls)

	req := openai.calls[0]
	assert.Equal(t, "me duele la cabeza", req.Message)
	assert.True(t, strings.HasPrefix(req.System, "Eres un orientador de bienestar."))
	assert.True(t, strings.HasSuffix(req.System, "Responde siempre en español."))
}

func TestRoute_FallsBackOnError(t *testing.T) {
	openai := &fakeProvider{name: "openai", err: errors.New("429")}
	gemini := &fakeProvider{name: "gemini", reply: "Hello"}
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{"openai": openai, "gemini": gemini}, nil)

	reply, err := r.Route(context.Background(), "medico", "hi", "EN")
	require.NoError(t, err)
	assert.Equal(t, "gemini", reply.Provider)
	assert.Equal(t, "Hello", reply.Text)
	assert.True(t, strings.HasSuffix(gemini.calls[0].System, "Always answer in English."))
}

func TestRoute_SkipsUnconfiguredProvider(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", reply: "ok"}
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{"gemini": gemini}, nil)

	reply, err := r.Route(context.Background(), "medico", "hola", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", reply.Provider)
}

func TestRoute_AllFailReturnsApology(t *testing.T) {
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{
		"openai": &fakeProvider{name: "openai", err: errors.New("down")},
		"gemini": &fakeProvider{name: "gemini", err: errors.New("down")},
	}, nil)

	reply, err := r.Route(context.Background(), "medico", "hola", "es")
	require.NoError(t, err, "provider failures must not raise")
	assert.True(t, reply.Failed())
	assert.Empty(t, reply.Provider)
	assert.Equal(t, apologies[LangES], reply.Text)
	assert.Equal(t, string(types.ErrCodeUpstreamLLM), reply.Err)
}

func TestRoute_Validation(t *testing.T) {
	r := NewRouter(testRegistry(), nil, nil)

	_, err := r.Route(context.Background(), "tarot", "hola", "es")
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidService))

	_, err = r.Route(context.Background(), "medico", "   ", "es")
	require.True(t, types.HasCode(err, types.ErrCodeValidationMissingField))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, MissingInfoMessage, appErr.Message)
}

func TestRouteAs_RecordsHistory(t *testing.T) {
	history := new(mockHistory)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{
		"openai": &fakeProvider{name: "openai", reply: "Hola ana"},
	}, nil, WithHistory(history))
	r.now = func() time.Time { return fixed }

	history.On("RecordExchange", mock.Anything, types.ChatExchange{
		Nickname:  "ana",
		ServiceID: "medico",
		Language:  "es",
		Provider:  "openai",
		Message:   "hola",
		Reply:     "Hola ana",
		CreatedAt: fixed,
	}).Return(nil)

	_, err := r.RouteAs(context.Background(), "ana", "medico", "hola", "es")
	require.NoError(t, err)
	history.AssertExpectations(t)
}

func TestRouteAs_HistoryFailureIsIgnored(t *testing.T) {
	history := new(mockHistory)
	history.On("RecordExchange", mock.Anything, mock.Anything).Return(errors.New("db down"))
	r := NewRouter(testRegistry(), map[string]external.ChatProvider{
		"openai": &fakeProvider{name: "openai", reply: "ok"},
	}, nil, WithHistory(history))

	reply, err := r.RouteAs(context.Background(), "ana", "medico", "hola", "es")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, LangEN, NormalizeLanguage(" en "))
	assert.Equal(t, LangES, NormalizeLanguage("fr"))
	assert.Equal(t, LangES, NormalizeLanguage(""))
}
