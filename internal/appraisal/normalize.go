package appraisal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrPayloadMalformed = errors.New("appraisal payload is not a JSON object")

const (
	SectionBasicInfo     = "informacion_basica"
	SectionLegalAnalysis = "analisis_legal_arrendamiento"

	legacySection = "initial_data"
	notAvailable  = "N/A"
)

// fieldMapping moves one basic-information fact from its legacy name to its
// canonical name. aliases are older names found inside the legacy section.
type fieldMapping struct {
	legacy    string
	canonical string
	aliases   []string
	fallback  any
}

var basicInfoMappings = []fieldMapping{
	{legacy: "city", canonical: "ciudad", fallback: notAvailable},
	{legacy: "property_type", canonical: "tipo_inmueble", fallback: notAvailable},
	{legacy: "built_area", canonical: "area_usuario_m2", fallback: json.Number("0")},
	{legacy: "address", canonical: "address", aliases: []string{"direccion"}, fallback: notAvailable},
	{legacy: "estrato", canonical: "estrato", fallback: notAvailable},
}

var legalArrayFields = []string{
	"puntos_criticos_y_riesgos",
	"documentacion_clave_a_revisar_o_completar",
}

// NormalizeJSON decodes raw and returns its canonical form. Numbers are kept
// as json.Number so they round-trip without float formatting drift.
func NormalizeJSON(raw []byte) (map[string]any, error) {
	payload, err := DecodeObject(raw)
	if err != nil {
		return nil, err
	}
	return Normalize(payload), nil
}

func DecodeObject(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrPayloadMalformed)
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, ErrPayloadMalformed
	}
	return object, nil
}

// Normalize rewrites payload into the current schema and returns a new map;
// payload itself is not modified. Normalizing a canonical payload is a no-op.
func Normalize(payload map[string]any) map[string]any {
	out := copyObject(payload)

	basic, _ := out[SectionBasicInfo].(map[string]any)
	if basic == nil {
		basic = map[string]any{}
	}

	legacy, hasLegacySection := out[legacySection].(map[string]any)
	hasLegacy := hasLegacySection
	for _, mapping := range basicInfoMappings {
		if present(out[mapping.legacy]) {
			hasLegacy = true
		}
	}

	if hasLegacy {
		consumed := map[string]bool{}
		for _, mapping := range basicInfoMappings {
			candidates := []any{out[mapping.legacy], legacy[mapping.legacy], legacy[mapping.canonical]}
			consumed[mapping.legacy] = true
			consumed[mapping.canonical] = true
			for _, alias := range mapping.aliases {
				candidates = append(candidates, legacy[alias])
				consumed[alias] = true
			}
			candidates = append(candidates, basic[mapping.canonical], mapping.fallback)
			basic[mapping.canonical] = firstPresent(candidates...)
		}
		for key, value := range legacy {
			if consumed[key] {
				continue
			}
			if _, exists := basic[key]; !exists {
				basic[key] = value
			}
		}
	}

	delete(out, legacySection)
	for _, mapping := range basicInfoMappings {
		delete(out, mapping.legacy)
	}
	out[SectionBasicInfo] = basic

	if legal, ok := out[SectionLegalAnalysis].(map[string]any); ok {
		for _, field := range legalArrayFields {
			if _, isArray := legal[field].([]any); !isArray {
				legal[field] = []any{}
			}
		}
	}
	return out
}

// RequestID returns the client correlation id of a canonical payload.
func RequestID(canonical map[string]any) string {
	basic, _ := canonical[SectionBasicInfo].(map[string]any)
	switch value := basic["requestId"].(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

func present(value any) bool {
	return value != nil
}

func firstPresent(values ...any) any {
	for _, value := range values {
		if present(value) {
			return value
		}
	}
	return nil
}

func copyObject(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyObject(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	default:
		return value
	}
}
