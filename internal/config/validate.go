package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// validate holds the settings and caches for validating config values.
var validate *validator.Validate

// translator is a cache of locale and translation information.
var translator ut.Translator

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report fields by their config key rather than their Go name.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks every field of the configuration. The first failing key is
// reported as a *mot.ConfigurationError; the message lists all of them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return &mot.ConfigurationError{Field: "config", Err: err}
		}

		msgs := make([]string, 0, len(verrors))
		for _, verror := range verrors {
			msgs = append(msgs, verror.Translate(translator))
		}
		return &mot.ConfigurationError{
			Field: configKey(verrors[0].Namespace()),
			Err:   errors.New(strings.Join(msgs, "; ")),
		}
	}
	return nil
}

// ValidateIngest validates the configuration for the ingest commands, which
// additionally require an API key.
func (c *Config) ValidateIngest() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &mot.ConfigurationError{
			Field: "api_key",
			Err:   fmt.Errorf("%w: set --api-key or MOT_API_KEY", mot.ErrMissingAPIKey),
		}
	}
	return nil
}

// configKey turns a validator namespace such as "Config.store.path" into the
// config key "store.path".
func configKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
