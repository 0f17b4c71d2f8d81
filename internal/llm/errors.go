package llm

import "errors"

// Errores de la frontera de generación, separados por categoría para que el
// usuario reciba mensajes distinguibles.
var (
	ErrAuth            = errors.New("invalid API key or insufficient permissions")
	ErrRateLimited     = errors.New("too many requests, please retry later")
	ErrServer          = errors.New("generation server error, please retry later")
	ErrTransport       = errors.New("could not reach the generation service")
	ErrMalformedStream = errors.New("malformed generation stream")
)

// PipelineError es un frame {error} explícito del stream: se propaga con el
// mensaje tal cual lo mandó el servidor.
type PipelineError struct {
	Message string
}

func (e *PipelineError) Error() string {
	return e.Message
}
