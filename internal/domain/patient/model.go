package patient

import "time"

// Patient is the root row of the intake aggregate. The column names follow
// the intake form the frontend submits, residential and permanent address
// blocks included.
type Patient struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Lname            string     `json:"lname"`
	Sname            string     `json:"sname,omitempty"`
	Abb              string     `json:"abb,omitempty"`
	Abbname          string     `json:"abbname,omitempty"`
	Gender           string     `json:"gender,omitempty"`
	Dob              *time.Time `json:"dob,omitempty"`
	Age              *int       `json:"age,omitempty"`
	Occupation       string     `json:"occupation,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Email            string     `json:"email,omitempty"`
	Rstatus          string     `json:"rstatus,omitempty"`
	Raddress         string     `json:"raddress,omitempty"`
	Rcity            string     `json:"rcity,omitempty"`
	Rstate           string     `json:"rstate,omitempty"`
	Rzipcode         string     `json:"rzipcode,omitempty"`
	Paddress         string     `json:"paddress,omitempty"`
	Pcity            string     `json:"pcity,omitempty"`
	Pstate           string     `json:"pstate,omitempty"`
	Pzipcode         string     `json:"pzipcode,omitempty"`
	Idnum            string     `json:"idnum,omitempty"`
	AddressTextProof string     `json:"address_text_proof,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FullName joins the first and last name for folder resolution.
func (p *Patient) FullName() string {
	if p.Lname == "" {
		return p.Name
	}
	return p.Name + " " + p.Lname
}

type Caretaker struct {
	ID        int64  `json:"id,omitempty"`
	PatientID int64  `json:"patient_id,omitempty"`
	Name      string `json:"name"`
	Relation  string `json:"relation,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
}

type InsuranceDetail struct {
	ID                int64               `json:"id,omitempty"`
	PatientID         int64               `json:"patient_id,omitempty"`
	InsuranceCompany  string              `json:"insuranceCompany"`
	PeriodInsurance   string              `json:"periodInsurance,omitempty"`
	SumInsured        string              `json:"sumInsured,omitempty"`
	DeclinedCoverage  bool                `json:"declinedCoverage"`
	SimilarInsurances bool                `json:"similarInsurances"`
	Package           string              `json:"package,omitempty"`
	PackageDetail     string              `json:"packageDetail,omitempty"`
	Hospitals         []InsuranceHospital `json:"hospitals"`
}

type InsuranceHospital struct {
	ID              int64  `json:"id,omitempty"`
	InsuranceID     int64  `json:"insurance_id,omitempty"`
	HospitalName    string `json:"hospitalName"`
	HospitalAddress string `json:"hospitalAddress,omitempty"`
}

// Question holds one answer row; codes are free-form strings chosen by the
// intake form.
type Question struct {
	ID           int64  `json:"id,omitempty"`
	PatientID    int64  `json:"patient_id,omitempty"`
	QuestionCode string `json:"question_code"`
	Answer       string `json:"answer"`
	Details      string `json:"details,omitempty"`
}

// HabitCodes is the closed vocabulary of habit rows.
var HabitCodes = []string{"tobacco", "smoking", "alcohol", "drugs"}

func IsHabitCode(code string) bool {
	for _, c := range HabitCodes {
		if c == code {
			return true
		}
	}
	return false
}

type Habit struct {
	ID        int64  `json:"id,omitempty"`
	PatientID int64  `json:"patient_id,omitempty"`
	HabitCode string `json:"habit_code"`
	Answer    string `json:"answer"`
	Years     *int   `json:"years,omitempty"`
}

// PatientDisease links a patient to a selected disease. The taxonomy fields
// are filled on reads by joining the reference tables.
type PatientDisease struct {
	ID          int64  `json:"id,omitempty"`
	PatientID   int64  `json:"patient_id,omitempty"`
	DiseaseID   int64  `json:"disease_id"`
	PatientData string `json:"patient_data,omitempty"`

	DiseaseCode  string `json:"disease_code,omitempty"`
	DiseaseName  string `json:"disease_name,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	SystemName   string `json:"system_name,omitempty"`
}

// File types of patient attachments.
const (
	FileTypePhoto  = "photo"
	FileTypeProof  = "proof"
	FileTypePolicy = "policy"
)

func IsFileType(t string) bool {
	return t == FileTypePhoto || t == FileTypeProof || t == FileTypePolicy
}

type PatientFile struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	FileType  string    `json:"file_type"`
	FilePath  string    `json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
}

// QuestionAnswer is the value shape of the keyed questions object in the
// aggregate response.
type QuestionAnswer struct {
	Answer  string `json:"answer"`
	Details string `json:"details,omitempty"`
}

// FileBuckets groups a patient's attachments by type. Photo is singular;
// proof and policy are ordered by creation time.
type FileBuckets struct {
	Photo  *string  `json:"photo"`
	Proof  []string `json:"proof"`
	Policy []string `json:"policy"`
}

// Record is the full aggregate returned by the read path: the root row plus
// every dependent collection, reshaped for the frontend.
type Record struct {
	Patient
	Caretakers []Caretaker               `json:"caretakers"`
	Insurance  *InsuranceDetail          `json:"insurance"`
	Questions  map[string]QuestionAnswer `json:"questions"`
	Habits     map[string]interface{}    `json:"habits"`
	Diseases   []PatientDisease          `json:"selectedDiseases"`
	Files      FileBuckets               `json:"files"`
}

// ListItem is one row of the patient listing with grouped counts instead of
// full joins.
type ListItem struct {
	Patient
	CaretakerCount int  `json:"caretaker_count"`
	QuestionCount  int  `json:"question_count"`
	HabitCount     int  `json:"habit_count"`
	DiseaseCount   int  `json:"disease_count"`
	HasInsurance   bool `json:"has_insurance"`
}
