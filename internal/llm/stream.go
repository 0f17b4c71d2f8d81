package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	// Prefijo fijo de evento: solo las líneas que empiezan así son frames.
	framePrefix = "data: "
	// Centinela de terminación del stream; se ignora, no es contenido.
	doneSentinel = "data: [DONE]"
)

// frame admite las dos formas de payload del stream.
type frame struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Consume lee el stream de frames hasta que el transporte lo cierra y devuelve
// el texto acumulado. Un buffer de línea parcial sobrevive entre lecturas
// porque un read puede cortar un frame a mitad de línea.
//
// Un frame {error} aborta de inmediato con PipelineError. Un payload que no
// parsea por error de sintaxis se tolera (hay líneas que legítimamente no son
// frames estructurados); cualquier otra falla de decode escala como
// ErrMalformedStream. La cancelación entre lecturas descarta el acumulador:
// salida parcial nunca se persiste.
func Consume(ctx context.Context, r io.Reader, logger *zap.Logger) (string, error) {
	var acc strings.Builder
	var partial string
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			lines := strings.Split(partial+string(buf[:n]), "\n")
			partial = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if err := consumeLine(line, &acc, logger); err != nil {
					return "", err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// El resto del buffer parcial es un frame incompleto
				// (los frames terminan en newline); se descarta.
				return acc.String(), nil
			}
			return "", fmt.Errorf("%w: %v", ErrTransport, readErr)
		}
	}
}

func consumeLine(line string, acc *strings.Builder, logger *zap.Logger) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == doneSentinel {
		return nil
	}
	if !strings.HasPrefix(line, framePrefix) {
		return nil
	}

	var f frame
	if err := json.Unmarshal([]byte(line[len(framePrefix):]), &f); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			if logger != nil {
				logger.Warn("skipping unparseable stream frame", zap.Error(err))
			}
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}

	if f.Error != "" {
		return &PipelineError{Message: f.Error}
	}
	if f.Content != "" {
		acc.WriteString(f.Content)
	}
	return nil
}
