package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// I18nConfig configures the i18n middleware.
type I18nConfig struct {
	DefaultLanguage string
	LocalesDir      string
}

// Translator holds the loaded message bundles. User facing error strings
// (banner text, retry prompts) are localized; log output is not.
type Translator struct {
	bundle       *i18n.Bundle
	localizer    map[string]*i18n.Localizer
	translations map[string]map[string]interface{}
}

// NewTranslator loads every locale file under the configured directory.
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "fr"
	}
	if config.LocalesDir == "" {
		config.LocalesDir = "./web/locales"
	}

	bundle := i18n.NewBundle(language.MustParse(config.DefaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:       bundle,
		localizer:    make(map[string]*i18n.Localizer),
		translations: make(map[string]map[string]interface{}),
	}

	localeFiles, err := os.ReadDir(config.LocalesDir)
	if err != nil {
		return nil, err
	}

	for _, file := range localeFiles {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".json") {
			langCode := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

			filePath := filepath.Join(config.LocalesDir, file.Name())
			if _, err := bundle.LoadMessageFile(filePath); err != nil {
				return nil, err
			}

			t.localizer[langCode] = i18n.NewLocalizer(bundle, langCode)

			var translations map[string]interface{}
			jsonData, err := os.ReadFile(filePath)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(jsonData, &translations); err != nil {
				return nil, err
			}
			t.translations[langCode] = flattenMap(translations, "")
		}
	}

	return t, nil
}

// Known reports whether a locale was loaded for the given language code.
func (t *Translator) Known(lang string) bool {
	_, ok := t.translations[lang]
	return ok
}

// I18n creates the internationalization middleware. The resolved language
// and a translation function are placed on the gin context.
func I18n(config I18nConfig) gin.HandlerFunc {
	translator, err := NewTranslator(config)
	if err != nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Known(lang) {
			session.Set("language", lang)
			session.Save()
		} else {
			if sessionLang, ok := session.Get("language").(string); ok {
				lang = sessionLang
			}
		}

		if lang == "" || !translator.Known(lang) {
			lang = config.DefaultLanguage
		}

		c.Set("language", lang)
		c.Set("translator", translator)

		c.Set("t", func(key string, args ...interface{}) string {
			if translator.translations[lang] != nil {
				if val, ok := translator.translations[lang][key]; ok {
					return val.(string)
				}
			}
			if translator.translations[config.DefaultLanguage] != nil {
				if val, ok := translator.translations[config.DefaultLanguage][key]; ok {
					return val.(string)
				}
			}
			return key
		})

		c.Next()
	}
}

// flattenMap turns nested locale maps into dotted keys ("sync.banner"
// instead of sync["banner"]).
func flattenMap(input map[string]interface{}, prefix string) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range input {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch child := v.(type) {
		case map[string]interface{}:
			for childKey, childValue := range flattenMap(child, key) {
				result[childKey] = childValue
			}
		default:
			result[key] = v
		}
	}

	return result
}
