package handlers

import (
	"barsync-go/internal/remote"

	"github.com/gin-gonic/gin"
)

// translate resolves a locale key through the translation function the
// i18n middleware placed on the context. Without the middleware, or when
// the key is missing from every loaded locale, the fallback is returned.
func translate(c *gin.Context, key, fallback string) string {
	if fn, ok := c.Get("t"); ok {
		if t, ok := fn.(func(string, ...interface{}) string); ok {
			if msg := t(key); msg != key {
				return msg
			}
		}
	}
	return fallback
}

// errorKey maps a remote failure kind onto its locale key. The Kind string
// forms double as key suffixes under sync.errors.
func errorKey(kind remote.Kind) string {
	return "sync.errors." + kind.String()
}
