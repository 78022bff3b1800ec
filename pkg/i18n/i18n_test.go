package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", LocaleEnglish},
		{"fr-FR,fr;q=0.9,en;q=0.8", LocaleFrench},
		{"en-GB,fr;q=0.5", LocaleEnglish},
		{"de-DE,fr;q=0.7", LocaleFrench},
		{"es", LocaleEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestLocalizer_T(t *testing.T) {
	params := map[string]string{"reference": "VIS-10"}

	assert.Equal(t, "stock reference VIS-10 already exists", NewLocalizer(LocaleEnglish).T("errors.duplicate_reference", params))
	assert.Equal(t, "la référence de stock VIS-10 existe déjà", NewLocalizer(LocaleFrench).T("errors.duplicate_reference", params))

	// unknown keys come back verbatim
	assert.Equal(t, "errors.nope", NewLocalizer(LocaleFrench).T("errors.nope"))
	// unsupported locales fall back
	assert.Equal(t, LocaleEnglish, NewLocalizer("xx").GetLocale())
}

func TestTFromContext(t *testing.T) {
	ctx := WithLocale(context.Background(), LocaleFrench)
	assert.Equal(t, "requête invalide", TFromContext(ctx, "errors.bad_request"))
	assert.Equal(t, "bad request", TFromContext(context.Background(), "errors.bad_request"))
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetLocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr-CA")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, LocaleFrench, seen)
	assert.Equal(t, LocaleFrench, rr.Header().Get("Content-Language"))
}
