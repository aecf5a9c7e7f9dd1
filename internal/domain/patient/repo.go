package patient

import "context"

// Repository is the persistence surface of the patient aggregate. Replace
// methods implement delete-all-then-insert for one patient's sub-collection;
// callers are expected to run them inside a transaction.
type Repository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	UpdatePatient(ctx context.Context, p *Patient) error
	List(ctx context.Context, search string, limit, offset int) ([]*ListItem, int, error)

	ListCaretakers(ctx context.Context, patientID int64) ([]Caretaker, error)
	ReplaceCaretakers(ctx context.Context, patientID int64, rows []Caretaker) error

	GetInsurance(ctx context.Context, patientID int64) (*InsuranceDetail, error)
	ListHospitals(ctx context.Context, insuranceID int64) ([]InsuranceHospital, error)
	ReplaceInsurance(ctx context.Context, patientID int64, ins *InsuranceDetail) error

	ListQuestions(ctx context.Context, patientID int64) ([]Question, error)
	ReplaceQuestions(ctx context.Context, patientID int64, rows []Question) error

	ListHabits(ctx context.Context, patientID int64) ([]Habit, error)
	ReplaceHabits(ctx context.Context, patientID int64, rows []Habit) error

	ListDiseases(ctx context.Context, patientID int64) ([]PatientDisease, error)
	ReplaceDiseases(ctx context.Context, patientID int64, rows []PatientDisease) error

	ListFiles(ctx context.Context, patientID int64) ([]PatientFile, error)
	ListFilesByType(ctx context.Context, patientID int64, fileType string) ([]PatientFile, error)
	AddFile(ctx context.Context, f *PatientFile) error
	GetFile(ctx context.Context, fileID int64) (*PatientFile, error)
	DeleteFile(ctx context.Context, fileID int64) error
	DeleteFilesByType(ctx context.Context, patientID int64, fileType string) error

	// DeleteAggregate removes every row belonging to the patient in
	// dependency order and names the step that failed.
	DeleteAggregate(ctx context.Context, patientID int64) error
}
