package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/csat/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// Locale resolves the response language from ?lang or Accept-Language,
// stores it in the request context and echoes it as Content-Language.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), utils.SupportedLocales, "en")
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}

func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey, locale)
}

// LocaleFromContext returns the locale stored by Locale, "en" by default.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok && s != "" {
		return s
	}
	return "en"
}
