package retrieval

import "strings"

// synonymEntry maps a domain phrase to the terms appended when the query
// contains it. Kept as an ordered slice so enhancement is deterministic.
type synonymEntry struct {
	phrase   string
	synonyms []string
}

var querySynonyms = []synonymEntry{
	{"blood test", []string{"blood work", "laboratory", "test results", "CBC", "blood count"}},
	{"blood pressure", []string{"BP", "hypertension", "systolic", "diastolic"}},
	{"sugar", []string{"glucose", "blood sugar", "HbA1c", "diabetes"}},
	{"diabetes", []string{"glucose", "blood sugar", "HbA1c", "insulin"}},
	{"heart", []string{"cardiac", "ECG", "EKG", "cardiovascular"}},
	{"kidney", []string{"renal", "creatinine", "urea", "eGFR"}},
	{"liver", []string{"hepatic", "SGOT", "SGPT", "bilirubin"}},
	{"thyroid", []string{"TSH", "T3", "T4"}},
	{"cholesterol", []string{"lipid profile", "LDL", "HDL", "triglycerides"}},
	{"anemia", []string{"hemoglobin", "iron", "ferritin", "RBC"}},
}

// EnhanceQuery appends fixed synonym sets for every domain phrase found in
// the lower-cased query. Multiple matching phrases compound. Only the query
// is rewritten; stored chunk text is never modified.
func EnhanceQuery(query string) string {
	lowered := strings.ToLower(query)
	enhanced := query
	for _, entry := range querySynonyms {
		if strings.Contains(lowered, entry.phrase) {
			enhanced += " " + strings.Join(entry.synonyms, " ")
		}
	}
	return enhanced
}
