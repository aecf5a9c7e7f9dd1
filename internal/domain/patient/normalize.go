package patient

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The intake form sends sub-collections as JSON-encoded strings whose shape
// drifted over time: arrays in newer payloads, single objects or keyed
// objects in older ones. The parsers below accept every historical shape and
// normalize to row slices; everything past this boundary works on typed rows.

// CreateInput is the normalized aggregate-create payload.
type CreateInput struct {
	Patient    Patient
	Caretakers []Caretaker
	Insurance  *InsuranceDetail
	Questions  []Question
	Habits     []Habit
	Diseases   []PatientDisease
}

// UpdateInput carries the root fields plus whichever sub-collections the
// request included. A nil slice or pointer means "leave that collection
// alone"; a present empty one means "replace with nothing".
type UpdateInput struct {
	Patient    Patient
	Caretakers []Caretaker
	HasCare    bool
	Insurance  *InsuranceDetail
	Questions  []Question
	HasQs      bool
	Habits     []Habit
	HasHabits  bool
	Diseases   []PatientDisease
	HasDis     bool
}

// ParseCreateInput builds a CreateInput from multipart form values. get
// returns the first value of a form field or "".
func ParseCreateInput(get func(string) string) (*CreateInput, error) {
	raw := get("patient")
	if raw == "" {
		return nil, NewValidationError("patient field is required")
	}

	in := &CreateInput{}
	if err := json.Unmarshal([]byte(raw), &in.Patient); err != nil {
		return nil, NewValidationError("patient is not valid JSON", err.Error())
	}

	var err error
	if in.Caretakers, err = ParseCaretakers(firstOf(get, "caretakers", "careTaker")); err != nil {
		return nil, err
	}
	if in.Insurance, err = ParseInsurance(get("insurance")); err != nil {
		return nil, err
	}
	if in.Insurance != nil && len(in.Insurance.Hospitals) == 0 {
		hospitals, err := ParseHospitals(get("insuranceHospitals"))
		if err != nil {
			return nil, err
		}
		in.Insurance.Hospitals = hospitals
	}
	if in.Questions, err = ParseQuestions(get("questions")); err != nil {
		return nil, err
	}
	if in.Habits, err = ParseHabits(get("habits")); err != nil {
		return nil, err
	}
	if in.Diseases, err = ParseDiseases(get("selectedDiseases")); err != nil {
		return nil, err
	}
	return in, nil
}

// Validate rejects the input before any disk or database mutation.
func (in *CreateInput) Validate() error {
	if in.Patient.Name == "" || in.Patient.Lname == "" {
		return NewValidationError("name and lname are required")
	}
	return ValidateDiseases(in.Diseases)
}

func firstOf(get func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := get(k); v != "" {
			return v
		}
	}
	return ""
}

// ParseCaretakers accepts a JSON array of caretakers or a single object.
func ParseCaretakers(raw string) ([]Caretaker, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []Caretaker
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var one Caretaker
	if err := json.Unmarshal([]byte(raw), &one); err != nil {
		return nil, NewValidationError("caretakers must be an object or array", err.Error())
	}
	return []Caretaker{one}, nil
}

// ParseInsurance accepts a single insurance object, optionally with an
// embedded hospitals array.
func ParseInsurance(raw string) (*InsuranceDetail, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ins InsuranceDetail
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		return nil, NewValidationError("insurance must be an object", err.Error())
	}
	return &ins, nil
}

// ParseHospitals accepts a JSON array of hospitals or a single object.
func ParseHospitals(raw string) ([]InsuranceHospital, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []InsuranceHospital
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var one InsuranceHospital
	if err := json.Unmarshal([]byte(raw), &one); err != nil {
		return nil, NewValidationError("insuranceHospitals must be an object or array", err.Error())
	}
	return []InsuranceHospital{one}, nil
}

// ParseQuestions accepts either a row array or the keyed form
// {"<code>": {"answer": ..., "details": ...}} where the value may also be a
// bare string answer.
func ParseQuestions(raw string) ([]Question, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []Question
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keyed); err != nil {
		return nil, NewValidationError("questions must be an array or keyed object", err.Error())
	}

	rows := make([]Question, 0, len(keyed))
	for code, val := range keyed {
		var qa QuestionAnswer
		if err := json.Unmarshal(val, &qa); err != nil {
			var answer string
			if err := json.Unmarshal(val, &answer); err != nil {
				return nil, NewValidationError(
					fmt.Sprintf("question %q has an unrecognized value shape", code))
			}
			qa.Answer = answer
		}
		rows = append(rows, Question{QuestionCode: code, Answer: qa.Answer, Details: qa.Details})
	}
	return rows, nil
}

// ParseHabits accepts either a row array or the keyed form
// {"tobacco": "yes", "tobaccoYears": 5, ...}. Unknown habit codes are
// rejected; the vocabulary is closed.
func ParseHabits(raw string) ([]Habit, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []Habit
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		for _, h := range list {
			if !IsHabitCode(h.HabitCode) {
				return nil, NewValidationError(fmt.Sprintf("unknown habit code %q", h.HabitCode))
			}
		}
		return list, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keyed); err != nil {
		return nil, NewValidationError("habits must be an array or keyed object", err.Error())
	}

	byCode := map[string]*Habit{}
	for key, val := range keyed {
		code, isYears := strings.CutSuffix(key, "Years")
		if !IsHabitCode(code) {
			return nil, NewValidationError(fmt.Sprintf("unknown habit code %q", key))
		}
		h := byCode[code]
		if h == nil {
			h = &Habit{HabitCode: code}
			byCode[code] = h
		}
		if isYears {
			years, err := parseYears(val)
			if err != nil {
				return nil, NewValidationError(fmt.Sprintf("habit %q years must be numeric", code))
			}
			h.Years = years
		} else {
			if err := json.Unmarshal(val, &h.Answer); err != nil {
				h.Answer = strings.Trim(string(val), `"`)
			}
		}
	}

	// keep the vocabulary order so output is stable
	var rows []Habit
	for _, code := range HabitCodes {
		if h := byCode[code]; h != nil {
			rows = append(rows, *h)
		}
	}
	return rows, nil
}

func parseYears(val json.RawMessage) (*int, error) {
	var n int
	if err := json.Unmarshal(val, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseDiseases accepts a JSON array of selections or a single object.
func ParseDiseases(raw string) ([]PatientDisease, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var list []PatientDisease
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var one PatientDisease
	if err := json.Unmarshal([]byte(raw), &one); err != nil {
		return nil, NewValidationError("selectedDiseases must be an object or array", err.Error())
	}
	return []PatientDisease{one}, nil
}

// maxDiseaseID guards against epoch timestamps accidentally submitted as
// disease ids.
const maxDiseaseID = 999999

// ValidateDiseases checks every selection's disease id for plausibility.
func ValidateDiseases(rows []PatientDisease) error {
	var bad []string
	for _, d := range rows {
		if d.DiseaseID <= 0 || d.DiseaseID > maxDiseaseID {
			bad = append(bad, strconv.FormatInt(d.DiseaseID, 10))
		}
	}
	if len(bad) > 0 {
		return NewValidationError("disease id out of range", bad...)
	}
	return nil
}

// QuestionsToKeyed reshapes question rows into the keyed response object.
func QuestionsToKeyed(rows []Question) map[string]QuestionAnswer {
	out := make(map[string]QuestionAnswer, len(rows))
	for _, q := range rows {
		out[q.QuestionCode] = QuestionAnswer{Answer: q.Answer, Details: q.Details}
	}
	return out
}

// HabitsToKeyed reshapes habit rows into {"tobacco": answer,
// "tobaccoYears": years, ...}.
func HabitsToKeyed(rows []Habit) map[string]interface{} {
	out := make(map[string]interface{}, len(rows)*2)
	for _, h := range rows {
		out[h.HabitCode] = h.Answer
		if h.Years != nil {
			out[h.HabitCode+"Years"] = *h.Years
		}
	}
	return out
}

// BucketFiles groups attachment rows by type. Rows are expected ordered by
// creation time; the newest photo wins when more than one row exists.
func BucketFiles(rows []PatientFile) FileBuckets {
	b := FileBuckets{Proof: []string{}, Policy: []string{}}
	for _, f := range rows {
		switch f.FileType {
		case FileTypePhoto:
			p := f.FilePath
			b.Photo = &p
		case FileTypeProof:
			b.Proof = append(b.Proof, f.FilePath)
		case FileTypePolicy:
			b.Policy = append(b.Policy, f.FilePath)
		}
	}
	return b
}
