package retrieval

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/healthvoice/retrieval/internal/storage"
)

// LabValue is one extracted laboratory result.
type LabValue struct {
	Test     string  `json:"test"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	RawMatch string  `json:"raw_match"`
}

// VitalSign is one extracted vital. Blood pressure uses Systolic/Diastolic;
// every other vital uses Value.
type VitalSign struct {
	Vital     string  `json:"vital"`
	Value     float64 `json:"value,omitempty"`
	Systolic  int     `json:"systolic,omitempty"`
	Diastolic int     `json:"diastolic,omitempty"`
	Unit      string  `json:"unit"`
	RawMatch  string  `json:"raw_match"`
}

// PatientData is patient identity merged from stored chunk metadata, never
// parsed out of free text.
type PatientData struct {
	Name      string `json:"name,omitempty"`
	Age       int    `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	BloodType string `json:"blood_type,omitempty"`
}

/// labRule describes one declarative lab pattern: group 1 captures the value,
// group 2 the optional unit. Adding a lab type is a table entry, not new
// branching logic.
type labRule struct {
	test        string
	re          *regexp.Regexp
	defaultUnit string
}

var labRules = []labRule{
	{"hemoglobin", regexp.MustCompile(`(?i)\b(?:hemoglobin|haemoglobin|hgb|hb)\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(g/dl|g/l|gm/dl)?`), "g/dl"},
	{"wbc", regexp.MustCompile(`(?i)\b(?:wbc|white blood cells?(?:\s+count)?)\b[^\d]{0,12}(\d+(?:[.,]\d+)*)\s*(thousand/[µu]l|10\^3/[µu]l|cells/[µu]l|/cumm|/[µu]l)?`), "/ul"},
	{"rbc", regexp.MustCompile(`(?i)\b(?:rbc|red blood cells?(?:\s+count)?)\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(million/[µu]l|10\^6/[µu]l|/cumm)?`), "million/ul"},
	{"platelets", regexp.MustCompile(`(?i)\bplatelets?(?:\s+count)?\b[^\d]{0,12}(\d+(?:[.,]\d+)*)\s*(lakhs?/cumm|thousand/[µu]l|10\^3/[µu]l|/cumm|/[µu]l)?`), "/ul"},
	{"glucose", regexp.MustCompile(`(?i)\b(?:glucose|blood sugar|fbs|rbs)\b[^\d]{0,14}(\d+(?:\.\d+)?)\s*(mg/dl|mmol/l)?`), "mg/dl"},
	{"cholesterol", regexp.MustCompile(`(?i)\b(?:total\s+)?cholesterol\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(mg/dl|mmol/l)?`), "mg/dl"},
	{"ldl", regexp.MustCompile(`(?i)\bldl(?:\s+cholesterol)?\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(mg/dl|mmol/l)?`), "mg/dl"},
	{"hdl", regexp.MustCompile(`(?i)\bhdl(?:\s+cholesterol)?\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(mg/dl|mmol/l)?`), "mg/dl"},
	{"triglycerides", regexp.MustCompile(`(?i)\btriglycerides?\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(mg/dl|mmol/l)?`), "mg/dl"},
}

type vitalRule struct {
	vital       string
	re          *regexp.Regexp
	defaultUnit string
}

var bloodPressureRule = vitalRule{
	vital:       "bloodPressure",
	re:          regexp.MustCompile(`(?i)\b(?:blood pressure|bp)\b[^\d]{0,12}(\d{2,3})\s*/\s*(\d{2,3})\s*(mmhg)?`),
	defaultUnit: "mmHg",
}

var vitalRules = []vitalRule{
	{"heartRate", regexp.MustCompile(`(?i)\b(?:heart rate|pulse(?:\s+rate)?|hr)\b[^\d]{0,12}(\d{2,3})\s*(bpm|beats/min|/min)?`), "bpm"},
	{"respiratoryRate", regexp.MustCompile(`(?i)\b(?:respiratory rate|resp(?:\.|iration)? rate|rr)\b[^\d]{0,12}(\d{1,2})\s*(breaths/min|/min)?`), "/min"},
	{"temperature", regexp.MustCompile(`(?i)\b(?:temperature|temp)\b[^\d]{0,12}(\d{2,3}(?:\.\d+)?)\s*(°?\s?[cf]\b|celsius|fahrenheit)?`), ""},
	{"oxygenSaturation", regexp.MustCompile(`(?i)\b(?:oxygen saturation|spo2|o2\s?sat(?:uration)?)\b[^\d]{0,12}(\d{2,3})\s*(%)?`), "%"},
	{"weight", regexp.MustCompile(`(?i)\bweight\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(kgs?|lbs?|pounds)?`), "kg"},
	{"height", regexp.MustCompile(`(?i)\bheight\b[^\d]{0,12}(\d+(?:\.\d+)?)\s*(cm|ft|feet|in|inches|m)?`), "cm"},
}

// ExtractLabValues applies every lab rule to the text, keeping at most the
// first match per rule. Rules with no match are simply omitted.
func ExtractLabValues(text string) []LabValue {
	var labs []LabValue
	for _, rule := range labRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		unit := strings.ToLower(strings.TrimSpace(m[2]))
		if unit == "" {
			unit = rule.defaultUnit
		}
		labs = append(labs, LabValue{Test: rule.test, Value: value, Unit: unit, RawMatch: strings.TrimSpace(m[0])})
	}
	return labs
}

// ExtractVitalSigns applies the vital rules, first match per rule.
func ExtractVitalSigns(text string) []VitalSign {
	var vitals []VitalSign
	if m := bloodPressureRule.re.FindStringSubmatch(text); m != nil {
		systolic, errS := strconv.Atoi(m[1])
		diastolic, errD := strconv.Atoi(m[2])
		if errS == nil && errD == nil {
			vitals = append(vitals, VitalSign{
				Vital:     bloodPressureRule.vital,
				Systolic:  systolic,
				Diastolic: diastolic,
				Unit:      bloodPressureRule.defaultUnit,
				RawMatch:  strings.TrimSpace(m[0]),
			})
		}
	}
	for _, rule := range vitalRules {
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := normalizeVitalUnit(rule.vital, strings.TrimSpace(m[2]), value)
		if unit == "" {
			unit = rule.defaultUnit
		}
		vitals = append(vitals, VitalSign{Vital: rule.vital, Value: value, Unit: unit, RawMatch: strings.TrimSpace(m[0])})
	}
	return vitals
}

func normalizeVitalUnit(vital, unit string, value float64) string {
	unit = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(unit), "°"))
	switch vital {
	case "temperature":
		switch {
		case strings.HasPrefix(unit, "c"):
			return "C"
		case strings.HasPrefix(unit, "f"):
			return "F"
		case value > 45:
			return "F"
		default:
			return "C"
		}
	case "weight":
		if strings.HasPrefix(unit, "lb") || strings.HasPrefix(unit, "pound") {
			return "lb"
		}
		if unit != "" {
			return "kg"
		}
	case "height":
		switch {
		case unit == "m":
			return "m"
		case strings.HasPrefix(unit, "f"):
			return "ft"
		case strings.HasPrefix(unit, "in"):
			return "in"
		case unit != "":
			return "cm"
		}
	}
	return unit
}

// MergePatientData folds document metadata into the accumulated record.
// Later calls overwrite earlier values, so callers control precedence by
// processing order.
func MergePatientData(acc *PatientData, meta storage.DocumentMetadata) {
	if meta.PatientName != "" {
		acc.Name = meta.PatientName
	}
	if meta.Age > 0 {
		acc.Age = meta.Age
	}
	if meta.Gender != "" {
		acc.Gender = meta.Gender
	}
	if meta.BloodType != "" {
		acc.BloodType = meta.BloodType
	}
}
