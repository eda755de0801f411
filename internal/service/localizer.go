package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/webitel/action-gateway/internal/domain/model"
	"golang.org/x/text/language"
)

type catalog map[model.ErrorKind]string

// Localizer renders error kinds in the connection's locale, falling back to English.
type Localizer struct {
	matcher  language.Matcher
	catalogs []catalog
}

// NewLocalizer builds the built-in en/es/uk catalogs. The first tag is the fallback.
func NewLocalizer() *Localizer {
	tags := []language.Tag{language.English, language.Spanish, language.Ukrainian}
	return &Localizer{
		matcher: language.NewMatcher(tags),
		catalogs: []catalog{
			{
				model.KindServerShuttingDown:    "the server is shutting down",
				model.KindTooManyRequests:       "you have too many pending requests",
				model.KindUnknownAction:         "unknown action or invalid apiVersion",
				model.KindUnsupportedServerType: "this action does not support the %s connection type",
				model.KindMissingParams:         "%s is a required parameter for this action",
				model.KindServerError:           "the server experienced an internal error",
				model.KindFileNotFound:          "that file is not found",
			},
			{
				model.KindServerShuttingDown:    "el servidor se está apagando",
				model.KindTooManyRequests:       "tienes demasiadas solicitudes pendientes",
				model.KindUnknownAction:         "acción desconocida o apiVersion inválida",
				model.KindUnsupportedServerType: "esta acción no admite el tipo de conexión %s",
				model.KindMissingParams:         "%s es un parámetro obligatorio para esta acción",
				model.KindServerError:           "el servidor sufrió un error interno",
				model.KindFileNotFound:          "no se encontró ese archivo",
			},
			{
				model.KindServerShuttingDown:    "сервер завершує роботу",
				model.KindTooManyRequests:       "забагато запитів в обробці",
				model.KindUnknownAction:         "невідома дія або недійсна apiVersion",
				model.KindUnsupportedServerType: "ця дія не підтримує тип з'єднання %s",
				model.KindMissingParams:         "%s є обов'язковим параметром для цієї дії",
				model.KindServerError:           "на сервері сталася внутрішня помилка",
				model.KindFileNotFound:          "файл не знайдено",
			},
		},
	}
}

// Message renders err for locale. Errors returned by action bodies are shown as is;
// server errors never expose their cause.
func (l *Localizer) Message(locale string, err error) string {
	if err == nil {
		return ""
	}

	var ae *model.ActionError
	if !errors.As(err, &ae) {
		return err.Error()
	}

	_, idx := language.MatchStrings(l.matcher, locale)
	tmpl, ok := l.catalogs[idx][ae.Kind]
	if !ok {
		return err.Error()
	}

	switch ae.Kind {
	case model.KindUnsupportedServerType:
		return fmt.Sprintf(tmpl, ae.ConnectionType)
	case model.KindMissingParams:
		return fmt.Sprintf(tmpl, strings.Join(ae.Missing, ", "))
	default:
		return tmpl
	}
}
