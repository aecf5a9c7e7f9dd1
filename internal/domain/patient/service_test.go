package patient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Harsha-nani75/soukhya-backend/internal/platform/filestore"
	"github.com/Harsha-nani75/soukhya-backend/internal/platform/upload"
)

// -- Mock Repository --

// mockRepo keeps the aggregate in maps. failOn triggers an error when the
// named method runs, to exercise rollback paths.
type mockRepo struct {
	nextID   int64
	patients map[int64]*Patient
	care     map[int64][]Caretaker
	ins      map[int64]*InsuranceDetail
	qs       map[int64][]Question
	habits   map[int64][]Habit
	diseases map[int64][]PatientDisease
	files    map[int64][]PatientFile
	failOn   string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: map[int64]*Patient{},
		care:     map[int64][]Caretaker{},
		ins:      map[int64]*InsuranceDetail{},
		qs:       map[int64][]Question{},
		habits:   map[int64][]Habit{},
		diseases: map[int64][]PatientDisease{},
		files:    map[int64][]PatientFile{},
	}
}

func (m *mockRepo) fail(method string) error {
	if m.failOn == method {
		return fmt.Errorf("%s: simulated failure", method)
	}
	return nil
}

func (m *mockRepo) snapshot() *mockRepo {
	c := newMockRepo()
	c.nextID = m.nextID
	for k, v := range m.patients {
		p := *v
		c.patients[k] = &p
	}
	for k, v := range m.care {
		c.care[k] = append([]Caretaker(nil), v...)
	}
	for k, v := range m.ins {
		i := *v
		i.Hospitals = append([]InsuranceHospital(nil), v.Hospitals...)
		c.ins[k] = &i
	}
	for k, v := range m.qs {
		c.qs[k] = append([]Question(nil), v...)
	}
	for k, v := range m.habits {
		c.habits[k] = append([]Habit(nil), v...)
	}
	for k, v := range m.diseases {
		c.diseases[k] = append([]PatientDisease(nil), v...)
	}
	for k, v := range m.files {
		c.files[k] = append([]PatientFile(nil), v...)
	}
	return c
}

func (m *mockRepo) restore(s *mockRepo) {
	m.nextID = s.nextID
	m.patients, m.care, m.ins = s.patients, s.care, s.ins
	m.qs, m.habits, m.diseases, m.files = s.qs, s.habits, s.diseases, s.files
}

// runTx mimics transaction semantics over the in-memory state: on error the
// pre-transaction snapshot is restored.
func (m *mockRepo) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(s)
		return err
	}
	return nil
}

func (m *mockRepo) CreatePatient(_ context.Context, p *Patient) error {
	if err := m.fail("CreatePatient"); err != nil {
		return err
	}
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetPatient(_ context.Context, id int64) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, &NotFoundError{Resource: "patient", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) UpdatePatient(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return &NotFoundError{Resource: "patient", ID: p.ID}
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, search string, limit, offset int) ([]*ListItem, int, error) {
	var items []*ListItem
	for _, p := range m.patients {
		if search != "" && !strings.Contains(p.Name, search) && !strings.Contains(p.Lname, search) {
			continue
		}
		_, hasIns := m.ins[p.ID]
		items = append(items, &ListItem{
			Patient:        *p,
			CaretakerCount: len(m.care[p.ID]),
			QuestionCount:  len(m.qs[p.ID]),
			HabitCount:     len(m.habits[p.ID]),
			DiseaseCount:   len(m.diseases[p.ID]),
			HasInsurance:   hasIns,
		})
	}
	return items, len(items), nil
}

func (m *mockRepo) ListCaretakers(_ context.Context, id int64) ([]Caretaker, error) {
	return append([]Caretaker(nil), m.care[id]...), nil
}

func (m *mockRepo) ReplaceCaretakers(_ context.Context, id int64, rows []Caretaker) error {
	if err := m.fail("ReplaceCaretakers"); err != nil {
		return err
	}
	m.care[id] = append([]Caretaker(nil), rows...)
	return nil
}

func (m *mockRepo) GetInsurance(_ context.Context, id int64) (*InsuranceDetail, error) {
	ins, ok := m.ins[id]
	if !ok {
		return nil, nil
	}
	cp := *ins
	return &cp, nil
}

func (m *mockRepo) ListHospitals(_ context.Context, insuranceID int64) ([]InsuranceHospital, error) {
	for _, ins := range m.ins {
		if ins.ID == insuranceID {
			return append([]InsuranceHospital(nil), ins.Hospitals...), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ReplaceInsurance(_ context.Context, id int64, ins *InsuranceDetail) error {
	if err := m.fail("ReplaceInsurance"); err != nil {
		return err
	}
	if ins == nil {
		delete(m.ins, id)
		return nil
	}
	m.nextID++
	cp := *ins
	cp.ID = m.nextID
	cp.PatientID = id
	m.ins[id] = &cp
	ins.ID = cp.ID
	return nil
}

func (m *mockRepo) ListQuestions(_ context.Context, id int64) ([]Question, error) {
	return append([]Question(nil), m.qs[id]...), nil
}

func (m *mockRepo) ReplaceQuestions(_ context.Context, id int64, rows []Question) error {
	if err := m.fail("ReplaceQuestions"); err != nil {
		return err
	}
	m.qs[id] = append([]Question(nil), rows...)
	return nil
}

func (m *mockRepo) ListHabits(_ context.Context, id int64) ([]Habit, error) {
	return append([]Habit(nil), m.habits[id]...), nil
}

func (m *mockRepo) ReplaceHabits(_ context.Context, id int64, rows []Habit) error {
	if err := m.fail("ReplaceHabits"); err != nil {
		return err
	}
	m.habits[id] = append([]Habit(nil), rows...)
	return nil
}

func (m *mockRepo) ListDiseases(_ context.Context, id int64) ([]PatientDisease, error) {
	return append([]PatientDisease(nil), m.diseases[id]...), nil
}

func (m *mockRepo) ReplaceDiseases(_ context.Context, id int64, rows []PatientDisease) error {
	if err := m.fail("ReplaceDiseases"); err != nil {
		return err
	}
	m.diseases[id] = append([]PatientDisease(nil), rows...)
	return nil
}

func (m *mockRepo) ListFiles(_ context.Context, id int64) ([]PatientFile, error) {
	return append([]PatientFile(nil), m.files[id]...), nil
}

func (m *mockRepo) ListFilesByType(_ context.Context, id int64, t string) ([]PatientFile, error) {
	var out []PatientFile
	for _, f := range m.files[id] {
		if f.FileType == t {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockRepo) AddFile(_ context.Context, f *PatientFile) error {
	if err := m.fail("AddFile"); err != nil {
		return err
	}
	m.nextID++
	f.ID = m.nextID
	m.files[f.PatientID] = append(m.files[f.PatientID], *f)
	return nil
}

func (m *mockRepo) GetFile(_ context.Context, fileID int64) (*PatientFile, error) {
	for _, fs := range m.files {
		for _, f := range fs {
			if f.ID == fileID {
				cp := f
				return &cp, nil
			}
		}
	}
	return nil, &NotFoundError{Resource: "file", ID: fileID}
}

func (m *mockRepo) DeleteFile(_ context.Context, fileID int64) error {
	for pid, fs := range m.files {
		for i, f := range fs {
			if f.ID == fileID {
				m.files[pid] = append(fs[:i], fs[i+1:]...)
				return nil
			}
		}
	}
	return &NotFoundError{Resource: "file", ID: fileID}
}

func (m *mockRepo) DeleteFilesByType(_ context.Context, id int64, t string) error {
	if err := m.fail("DeleteFilesByType"); err != nil {
		return err
	}
	var keep []PatientFile
	for _, f := range m.files[id] {
		if f.FileType != t {
			keep = append(keep, f)
		}
	}
	m.files[id] = keep
	return nil
}

func (m *mockRepo) DeleteAggregate(_ context.Context, id int64) error {
	if err := m.fail("DeleteAggregate"); err != nil {
		return err
	}
	delete(m.patients, id)
	delete(m.care, id)
	delete(m.ins, id)
	delete(m.qs, id)
	delete(m.habits, id)
	delete(m.diseases, id)
	delete(m.files, id)
	return nil
}

// -- Test helpers --

func newTestService(t *testing.T) (*Service, *mockRepo, *filestore.Store) {
	t.Helper()
	repo := newMockRepo()
	store := filestore.NewStore(t.TempDir())
	svc := NewService(repo, repo.runTx, store, zerolog.Nop())
	return svc, repo, store
}

// diskFiles collects the regular files under root.
func diskFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out
}

func fullInput() *CreateInput {
	years := 10
	return &CreateInput{
		Patient: Patient{Name: "Jane", Lname: "Doe", Phone: "555"},
		Caretakers: []Caretaker{
			{Name: "Kin One"}, {Name: "Kin Two"},
		},
		Insurance: &InsuranceDetail{
			InsuranceCompany: "Acme",
			Hospitals: []InsuranceHospital{
				{HospitalName: "General"}, {HospitalName: "Mercy"},
			},
		},
		Questions: []Question{
			{QuestionCode: "surgery", Answer: "yes", Details: "2019"},
			{QuestionCode: "allergy", Answer: "no"},
			{QuestionCode: "medication", Answer: "yes"},
		},
		Habits: []Habit{
			{HabitCode: "tobacco", Answer: "yes", Years: &years},
			{HabitCode: "smoking", Answer: "no"},
			{HabitCode: "alcohol", Answer: "no"},
			{HabitCode: "drugs", Answer: "no"},
		},
		Diseases: []PatientDisease{
			{DiseaseID: 3, PatientData: `{"severity":"mild"}`},
			{DiseaseID: 8},
		},
	}
}

// -- Tests --

func TestCreateAndGet_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)

	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == 0 {
		t.Fatal("Create() returned zero id")
	}

	rec, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name != "Jane" || rec.Lname != "Doe" {
		t.Errorf("root = %s %s", rec.Name, rec.Lname)
	}
	if len(rec.Caretakers) != 2 {
		t.Errorf("caretakers = %d, want 2", len(rec.Caretakers))
	}
	if rec.Insurance == nil || len(rec.Insurance.Hospitals) != 2 {
		t.Fatalf("insurance = %+v", rec.Insurance)
	}
	if len(rec.Questions) != 3 {
		t.Errorf("questions = %v", rec.Questions)
	}
	if q := rec.Questions["surgery"]; q.Answer != "yes" || q.Details != "2019" {
		t.Errorf("surgery = %+v", q)
	}
	if rec.Habits["tobacco"] != "yes" || rec.Habits["tobaccoYears"] != 10 {
		t.Errorf("habits = %v", rec.Habits)
	}
	if len(rec.Diseases) != 2 {
		t.Errorf("diseases = %+v", rec.Diseases)
	}
	if rec.Files.Photo != nil || len(rec.Files.Proof) != 0 {
		t.Errorf("files = %+v", rec.Files)
	}
}

func TestCreate_MissingName(t *testing.T) {
	svc, repo, _ := newTestService(t)

	in := fullInput()
	in.Patient.Lname = ""
	_, err := svc.Create(context.Background(), in, nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(repo.patients) != 0 {
		t.Error("patient row written despite validation failure")
	}
}

func TestCreate_RollsBackOnDependentFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failOn = "ReplaceQuestions"

	_, err := svc.Create(context.Background(), fullInput(), nil)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}

	if len(repo.patients) != 0 {
		t.Error("patient row survived rollback")
	}
	for id := range repo.care {
		t.Errorf("caretaker rows survived rollback for patient %d", id)
	}
	if len(repo.ins) != 0 {
		t.Error("insurance row survived rollback")
	}
}

func TestReplaceCaretakers_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rows := []Caretaker{{Name: "New One"}, {Name: "New Two"}, {Name: "New Three"}}
	for i := 0; i < 2; i++ {
		if err := svc.ReplaceCaretakers(context.Background(), id, rows); err != nil {
			t.Fatalf("ReplaceCaretakers() pass %d error = %v", i, err)
		}
		if got := len(repo.care[id]); got != 3 {
			t.Fatalf("pass %d: %d rows, want 3", i, got)
		}
	}
}

func TestReplaceDiseases_ValidatesIDs(t *testing.T) {
	svc, _, _ := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err = svc.ReplaceDiseases(context.Background(), id, []PatientDisease{{DiseaseID: 1000000}})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}

	if err := svc.ReplaceDiseases(context.Background(), id, []PatientDisease{{DiseaseID: 5}}); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
}

func TestReplaceSection_UnknownPatient(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ReplaceHabits(context.Background(), 42, nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestDelete_CascadesAndRemovesFiles(t *testing.T) {
	svc, repo, store := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	folder := store.ResolveFolder(filestore.CategoryProof, "Jane Doe")
	path, err := store.Save(strings.NewReader("doc"), folder, "doc.pdf")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.AddFile(context.Background(), &PatientFile{PatientID: id, FileType: FileTypeProof, FilePath: path}); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	if err := svc.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := svc.Get(context.Background(), id); err == nil {
		t.Error("patient still readable after delete")
	}
	if len(repo.care[id]) != 0 || len(repo.files[id]) != 0 {
		t.Error("dependent rows survived cascade")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("physical file survived cascade")
	}
}

func TestDelete_FailedStepKeepsRows(t *testing.T) {
	svc, repo, _ := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	repo.failOn = "DeleteAggregate"
	if err := svc.Delete(context.Background(), id); err == nil {
		t.Fatal("Delete() succeeded despite failing step")
	}
	if _, ok := repo.patients[id]; !ok {
		t.Error("patient row gone despite failed delete")
	}
}

func TestReplacePhoto_KeepsSingleSlot(t *testing.T) {
	svc, repo, store := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stagePhoto := func(name string) upload.StagedFile {
		t.Helper()
		staged := filepath.Join(store.Root(), filestore.FallbackFolder)
		path, err := store.Save(strings.NewReader(name), staged, name)
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		return upload.StagedFile{Field: "photo", Category: filestore.CategoryPhoto, Path: path}
	}

	if err := svc.ReplacePhoto(context.Background(), id, stagePhoto("first.jpg")); err != nil {
		t.Fatalf("first ReplacePhoto() error = %v", err)
	}
	first, _ := repo.ListFilesByType(context.Background(), id, FileTypePhoto)
	if len(first) != 1 {
		t.Fatalf("photo rows = %d, want 1", len(first))
	}
	if want := store.ResolveFolder(filestore.CategoryPhoto, "Jane Doe"); filepath.Dir(first[0].FilePath) != want {
		t.Errorf("photo not relocated: %s", first[0].FilePath)
	}
	if base := filepath.Base(first[0].FilePath); !strings.HasPrefix(base, "Jane_Doe_") || !strings.HasSuffix(base, ".jpg") {
		t.Errorf("photo name = %s, want Jane_Doe_<timestamp>.jpg", base)
	}

	if err := svc.ReplacePhoto(context.Background(), id, stagePhoto("second.jpg")); err != nil {
		t.Fatalf("second ReplacePhoto() error = %v", err)
	}
	second, _ := repo.ListFilesByType(context.Background(), id, FileTypePhoto)
	if len(second) != 1 {
		t.Fatalf("photo rows = %d after second replace, want 1", len(second))
	}
	if second[0].FilePath == first[0].FilePath {
		t.Error("photo path unchanged after replace")
	}
	if _, err := os.Stat(first[0].FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("old photo file still on disk")
	}
}

func TestReplacePhoto_FailedReplaceDiscardsRelocated(t *testing.T) {
	svc, repo, store := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	staging := filepath.Join(store.Root(), filestore.FallbackFolder)
	path, err := store.Save(strings.NewReader("img"), staging, "selfie.jpg")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	repo.failOn = "AddFile"
	err = svc.ReplacePhoto(context.Background(), id, upload.StagedFile{
		Field: "photo", Category: filestore.CategoryPhoto, Path: path,
	})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}

	if rows, _ := repo.ListFilesByType(context.Background(), id, FileTypePhoto); len(rows) != 0 {
		t.Errorf("photo rows = %d after rollback, want 0", len(rows))
	}
	if left := diskFiles(t, store.Root()); len(left) != 0 {
		t.Errorf("unindexed files left on disk: %v", left)
	}
}

func TestReplaceProofFiles_RelocatesAndRenames(t *testing.T) {
	svc, repo, store := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	staging := filepath.Join(store.Root(), filestore.FallbackFolder)
	path, err := store.Save(strings.NewReader("doc"), staging, "scan.pdf")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	err = svc.ReplaceFilesOfType(context.Background(), id, FileTypeProof, []upload.StagedFile{
		{Field: "proofFiles", Category: filestore.CategoryProof, Path: path},
	})
	if err != nil {
		t.Fatalf("ReplaceFilesOfType() error = %v", err)
	}

	rows, _ := repo.ListFilesByType(context.Background(), id, FileTypeProof)
	if len(rows) != 1 {
		t.Fatalf("proof rows = %d, want 1", len(rows))
	}
	if want := store.ResolveFolder(filestore.CategoryProof, "Jane Doe"); filepath.Dir(rows[0].FilePath) != want {
		t.Errorf("proof not relocated: %s", rows[0].FilePath)
	}
	if base := filepath.Base(rows[0].FilePath); !strings.HasPrefix(base, "Jane_Doe_") || !strings.HasSuffix(base, ".pdf") {
		t.Errorf("proof name = %s, want Jane_Doe_<timestamp>.pdf", base)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("staged file still in fallback bucket")
	}
}

func TestDeleteFile_RowThenDisk(t *testing.T) {
	svc, repo, store := newTestService(t)
	id, err := svc.Create(context.Background(), fullInput(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	folder := store.ResolveFolder(filestore.CategoryPolicy, "Jane Doe")
	path, err := store.Save(strings.NewReader("pol"), folder, "policy.pdf")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	f := &PatientFile{PatientID: id, FileType: FileTypePolicy, FilePath: path}
	if err := repo.AddFile(context.Background(), f); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	if err := svc.DeleteFile(context.Background(), f.ID); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if _, err := repo.GetFile(context.Background(), f.ID); err == nil {
		t.Error("file row still present")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("physical file still present")
	}

	err = svc.DeleteFile(context.Background(), f.ID)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("second delete error = %v, want NotFoundError", err)
	}
}
