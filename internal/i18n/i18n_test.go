package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d, err := Defaults()
	require.NoError(t, err)

	for _, key := range []string{
		"analyzing", "retry", "results_title", "trust_sender", "risk_trusted",
		"no_alarms", "daily_limit", "backend_unreachable", "auth_required",
		"extraction_timeout", "error_generic",
	} {
		assert.NotEmpty(t, d[key], key)
	}
}

func TestTranslator_Lookup(t *testing.T) {
	tr := New("")
	assert.Equal(t, "en", tr.Language())
	assert.Equal(t, "Retry", tr.T("retry"))
	assert.Equal(t, "unknown_key", tr.T("unknown_key"))
	assert.Equal(t, "fallback", tr.Or("unknown_key", "fallback"))

	tr.Load("es", map[string]string{"retry": "Reintentar", "analyzing": ""})
	assert.Equal(t, "es", tr.Language())
	assert.Equal(t, "Reintentar", tr.T("retry"))
	assert.Equal(t, "Analyzing email for phishing indicators...", tr.T("analyzing"), "empty remote strings fall back")

	tr.Load("", nil)
	assert.Equal(t, "es", tr.Language())
	assert.Equal(t, "Retry", tr.T("retry"))
}

func TestTranslator_Severity(t *testing.T) {
	tr := New("en")
	assert.Equal(t, "High", tr.Severity("high"))
	assert.Equal(t, "bizarre", tr.Severity("bizarre"))

	tr.Load("fr", map[string]string{"severity_high": "Élevée"})
	assert.Equal(t, "Élevée", tr.Severity("high"))
}
