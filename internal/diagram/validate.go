package diagram

import (
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"
)

// ErrInvalidDocument indica que ninguno de los dos niveles de validación
// aceptó el candidato. Nada se persiste ni se muestra como diagrama.
var ErrInvalidDocument = errors.New("the generated content is not a valid diagram document")

// Raíces conocidas de la familia Draw.io, seguidas de espacio o '>'.
var rootTagRe = regexp.MustCompile(`(?i)<(mxfile|mxGraphModel|diagram)[\s>]`)

// Validate acepta si cualquiera de los dos niveles acepta. La disyunción es
// deliberada: un parser estricto puede rechazar salida que el editor de
// diagramas igual acepta, y preferimos evitar falsos negativos.
func Validate(doc string) bool {
	return wellFormed(doc) || rootTagRe.MatchString(doc)
}

// Extract normaliza y valida en un paso; es la entrada usual del pipeline.
func Extract(raw string) (string, error) {
	doc := Normalize(raw)
	if doc == "" || !Validate(doc) {
		return "", ErrInvalidDocument
	}
	return doc, nil
}

// wellFormed recorre los tokens del documento y exige la forma de un
// documento XML completo: exactamente un elemento raíz y nada de texto
// fuera de él (el equivalente del marcador parsererror de un DOM parser,
// que también rechaza raíces múltiples y contenido colgante).
func wellFormed(doc string) bool {
	dec := xml.NewDecoder(strings.NewReader(doc))
	depth := 0
	roots := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return roots == 1 && depth == 0
			}
			return false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if roots == 1 {
					return false
				}
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return false
			}
		}
	}
}
