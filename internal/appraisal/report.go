package appraisal

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Report is the typed view of a canonical payload used for rendering.
// Missing numbers are 0 and missing strings are empty.
type Report struct {
	BasicInfo            BasicInfo             `json:"informacion_basica"`
	Market               *MarketAnalysis       `json:"analisis_mercado,omitempty"`
	CurrentRent          *CurrentRent          `json:"valoracion_arriendo_actual,omitempty"`
	ImprovementPotential *ImprovementPotential `json:"potencial_valorizacion_con_mejoras_explicado,omitempty"`
	Qualitative          *QualitativeAnalysis  `json:"analisis_cualitativo_arriendo,omitempty"`
	Recommendations      []string              `json:"recomendaciones_proximos_pasos,omitempty"`
	Legal                *LegalAnalysis        `json:"analisis_legal_arrendamiento,omitempty"`
}

type BasicInfo struct {
	RequestID    string  `json:"requestId"`
	City         string  `json:"ciudad"`
	PropertyType string  `json:"tipo_inmueble"`
	Estrato      string  `json:"estrato"`
	AreaM2       float64 `json:"area_usuario_m2"`
	Address      string  `json:"address"`
}

type MarketAnalysis struct {
	RentMin     float64 `json:"rango_arriendo_min"`
	RentMax     float64 `json:"rango_arriendo_max"`
	Observation string  `json:"observacion_mercado"`
}

type CurrentRent struct {
	MonthlyEstimateCOP float64 `json:"estimacion_canon_mensual_cop"`
	Justification      string  `json:"justificacion_estimacion_actual"`
}

type ImprovementPotential struct {
	PotentialRentCOP float64       `json:"canon_potencial_total_estimado_cop"`
	Strategy         string        `json:"comentario_estrategia_valorizacion"`
	Improvements     []Improvement `json:"mejoras_con_impacto_detallado"`
}

type Improvement struct {
	Recommendation         string  `json:"recomendacion_tecnica_evaluada"`
	TechnicalJustification string  `json:"justificacion_tecnica_original_relevancia"`
	RentIncreaseCOP        float64 `json:"incremento_estimado_canon_cop"`
	EconomicJustification  string  `json:"justificacion_estimacion_incremento_economico"`
}

type QualitativeAnalysis struct {
	PositiveFactors   []string `json:"factores_positivos_potencial"`
	FactorsToConsider []string `json:"factores_a_considerar_o_mejorar"`
	CityMarketComment string   `json:"comentario_mercado_general_ciudad"`
}

type LegalAnalysis struct {
	UseType                   string          `json:"tipo_uso_principal_analizado"`
	Viability                 string          `json:"viabilidad_general_preliminar"`
	ExecutiveSummary          string          `json:"resumen_ejecutivo_legal"`
	CriticalPoints            []CriticalPoint `json:"puntos_criticos_y_riesgos"`
	KeyDocuments              []KeyDocument   `json:"documentacion_clave_a_revisar_o_completar"`
	ContractualConsiderations []string        `json:"consideraciones_contractuales_sugeridas"`
}

type CriticalPoint struct {
	Title       string `json:"titulo"`
	Description string `json:"descripcion"`
}

type KeyDocument struct {
	Name   string `json:"nombre"`
	Status string `json:"estado"`
}

// BuildReport maps a canonical payload onto Report. Pass the output of
// Normalize; legacy field names are not consulted here.
func BuildReport(canonical map[string]any) Report {
	basic := object(canonical[SectionBasicInfo])
	report := Report{
		BasicInfo: BasicInfo{
			RequestID:    text(basic["requestId"]),
			City:         text(basic["ciudad"]),
			PropertyType: text(basic["tipo_inmueble"]),
			Estrato:      text(basic["estrato"]),
			AreaM2:       number(basic["area_usuario_m2"]),
			Address:      text(basic["address"]),
		},
		Recommendations: texts(canonical["recomendaciones_proximos_pasos"]),
	}

	if market, ok := canonical["analisis_mercado"].(map[string]any); ok {
		rentRange := object(firstPresent(market["rango_arriendo_referencias_cop"], market["rango_arriendo_referencias_COP"]))
		report.Market = &MarketAnalysis{
			RentMin:     number(rentRange["min"]),
			RentMax:     number(rentRange["max"]),
			Observation: text(market["observacion_mercado"]),
		}
	}

	if rent, ok := canonical["valoracion_arriendo_actual"].(map[string]any); ok {
		report.CurrentRent = &CurrentRent{
			MonthlyEstimateCOP: number(rent["estimacion_canon_mensual_cop"]),
			Justification:      text(rent["justificacion_estimacion_actual"]),
		}
	}

	if potential, ok := canonical["potencial_valorizacion_con_mejoras_explicado"].(map[string]any); ok {
		view := &ImprovementPotential{
			PotentialRentCOP: number(potential["canon_potencial_total_estimado_cop"]),
			Strategy:         text(potential["comentario_estrategia_valorizacion"]),
		}
		for _, item := range objects(potential["mejoras_con_impacto_detallado"]) {
			view.Improvements = append(view.Improvements, Improvement{
				Recommendation:         text(item["recomendacion_tecnica_evaluada"]),
				TechnicalJustification: text(item["justificacion_tecnica_original_relevancia"]),
				RentIncreaseCOP:        number(item["incremento_estimado_canon_cop"]),
				EconomicJustification:  text(item["justificacion_estimacion_incremento_economico"]),
			})
		}
		report.ImprovementPotential = view
	}

	if qualitative, ok := canonical["analisis_cualitativo_arriendo"].(map[string]any); ok {
		report.Qualitative = &QualitativeAnalysis{
			PositiveFactors:   texts(qualitative["factores_positivos_potencial"]),
			FactorsToConsider: texts(qualitative["factores_a_considerar_o_mejorar"]),
			CityMarketComment: text(qualitative["comentario_mercado_general_ciudad"]),
		}
	}

	if legal, ok := canonical[SectionLegalAnalysis].(map[string]any); ok {
		view := &LegalAnalysis{
			UseType:                   text(legal["tipo_uso_principal_analizado"]),
			Viability:                 text(legal["viabilidad_general_preliminar"]),
			ExecutiveSummary:          text(legal["resumen_ejecutivo_legal"]),
			ContractualConsiderations: texts(legal["consideraciones_contractuales_sugeridas"]),
			CriticalPoints:            []CriticalPoint{},
			KeyDocuments:              []KeyDocument{},
		}
		for _, item := range objects(legal["puntos_criticos_y_riesgos"]) {
			view.CriticalPoints = append(view.CriticalPoints, CriticalPoint{
				Title:       text(item["aspecto_legal_relevante"]),
				Description: text(item["descripcion_implicacion_riesgo"]),
			})
		}
		for _, item := range objects(legal["documentacion_clave_a_revisar_o_completar"]) {
			view.KeyDocuments = append(view.KeyDocuments, KeyDocument{
				Name:   text(item["documento"]),
				Status: text(item["importancia_para_arrendamiento"]),
			})
		}
		report.Legal = view
	}
	return report
}

func object(value any) map[string]any {
	if typed, ok := value.(map[string]any); ok {
		return typed
	}
	return map[string]any{}
}

func objects(value any) []map[string]any {
	items, _ := value.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if typed, ok := item.(map[string]any); ok {
			out = append(out, typed)
		}
	}
	return out
}

func text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	default:
		return fmt.Sprint(typed)
	}
}

func texts(value any) []string {
	items, _ := value.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, text(item))
	}
	return out
}

func number(value any) float64 {
	switch typed := value.(type) {
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return typed
	case int:
		return float64(typed)
	case string:
		f, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
