package advisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/logging"
	"relief-service/internal/models"
)

func TestLookup(t *testing.T) {
	text, err := Lookup("Flood", models.SeverityHigh)
	require.NoError(t, err)
	assert.Contains(t, text, "higher ground")

	_, err = Lookup("meteor", models.SeverityHigh)
	assert.Error(t, err)
	_, err = Lookup("flood", models.Severity("extreme"))
	assert.Error(t, err)
}

func TestTableCoversEverySeverity(t *testing.T) {
	for kind, bySeverity := range advisories {
		for _, s := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh} {
			assert.NotEmpty(t, bySeverity[s], "%s/%s", kind, s)
		}
	}
}

func newOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIWithConfig(cfg, "gpt-4o-mini", Table{}, logging.Discard())
}

func TestOpenAIAdvise(t *testing.T) {
	a := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Boil drinking water.  "},"finish_reason":"stop"}]}`))
	})
	text, err := a.Advise(context.Background(), "flood", models.SeverityMedium)
	require.NoError(t, err)
	assert.Equal(t, "Boil drinking water.", text)
}

func TestOpenAIFallsBackToTable(t *testing.T) {
	a := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})
	text, err := a.Advise(context.Background(), "flood", models.SeverityHigh)
	require.NoError(t, err)
	want, _ := Lookup("flood", models.SeverityHigh)
	assert.Equal(t, want, text)

	_, err = a.Advise(context.Background(), "meteor", models.SeverityHigh)
	assert.Error(t, err)
}
