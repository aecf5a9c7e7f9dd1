package patient

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Harsha-nani75/soukhya-backend/internal/platform/db"
	"github.com/Harsha-nani75/soukhya-backend/internal/platform/filestore"
	"github.com/Harsha-nani75/soukhya-backend/internal/platform/upload"
)

// Service assembles patient aggregates on reads and keeps every multi-step
// write inside one transaction.
type Service struct {
	repo  Repository
	runTx db.TxFunc
	files *filestore.Store
	log   zerolog.Logger

	// photoMu serializes photo replacement per patient id; concurrent
	// replacements would otherwise race on the delete-then-insert of the
	// single photo slot.
	photoMu sync.Map
}

func NewService(repo Repository, runTx db.TxFunc, files *filestore.Store, log zerolog.Logger) *Service {
	return &Service{repo: repo, runTx: runTx, files: files, log: log}
}

func (s *Service) lockPhoto(patientID int64) func() {
	v, _ := s.photoMu.LoadOrStore(patientID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// -- Read path --

// Get assembles the full aggregate. The dependent reads fan out concurrently
// and the read fails as a whole when any of them fails; a degraded aggregate
// would be indistinguishable from a legitimately empty one.
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	root, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := &Record{Patient: *root}
	var (
		questions []Question
		habits    []Habit
		fileRows  []PatientFile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec.Caretakers, err = s.repo.ListCaretakers(gctx, id)
		return err
	})
	g.Go(func() error {
		ins, err := s.repo.GetInsurance(gctx, id)
		if err != nil || ins == nil {
			return err
		}
		if ins.Hospitals, err = s.repo.ListHospitals(gctx, ins.ID); err != nil {
			return err
		}
		rec.Insurance = ins
		return nil
	})
	g.Go(func() error {
		var err error
		questions, err = s.repo.ListQuestions(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		habits, err = s.repo.ListHabits(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		rec.Diseases, err = s.repo.ListDiseases(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		fileRows, err = s.repo.ListFiles(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).Int64("patient_id", id).Msg("aggregate read failed")
		return nil, &PersistenceError{Op: "read patient aggregate", Err: err}
	}

	if rec.Caretakers == nil {
		rec.Caretakers = []Caretaker{}
	}
	if rec.Diseases == nil {
		rec.Diseases = []PatientDisease{}
	}
	rec.Questions = QuestionsToKeyed(questions)
	rec.Habits = HabitsToKeyed(habits)
	rec.Files = BucketFiles(fileRows)
	return rec, nil
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]*ListItem, int, error) {
	items, total, err := s.repo.List(ctx, search, limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("patient list failed")
		return nil, 0, &PersistenceError{Op: "list patients", Err: err}
	}
	return items, total, nil
}

// Per-section reads. Each checks patient existence so a missing patient is a
// 404 rather than an empty 200.

func (s *Service) Caretakers(ctx context.Context, id int64) ([]Caretaker, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListCaretakers(ctx, id)
}

func (s *Service) Insurance(ctx context.Context, id int64) (*InsuranceDetail, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	ins, err := s.repo.GetInsurance(ctx, id)
	if err != nil || ins == nil {
		return ins, err
	}
	ins.Hospitals, err = s.repo.ListHospitals(ctx, ins.ID)
	return ins, err
}

func (s *Service) InsuranceHospitals(ctx context.Context, id int64) ([]InsuranceHospital, error) {
	ins, err := s.Insurance(ctx, id)
	if err != nil || ins == nil {
		return nil, err
	}
	return ins.Hospitals, nil
}

func (s *Service) Questions(ctx context.Context, id int64) ([]Question, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListQuestions(ctx, id)
}

func (s *Service) Habits(ctx context.Context, id int64) ([]Habit, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHabits(ctx, id)
}

func (s *Service) Diseases(ctx context.Context, id int64) ([]PatientDisease, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListDiseases(ctx, id)
}

// -- Write path --

// Create inserts the whole aggregate in one transaction: root row first for
// its generated id, then the staged attachment rows and every dependent
// collection. Any failure rolls everything back; the caller discards the
// staged physical files on error.
func (s *Service) Create(ctx context.Context, in *CreateInput, staged []upload.StagedFile) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	p := in.Patient
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreatePatient(ctx, &p); err != nil {
			return err
		}
		for _, sf := range staged {
			f := &PatientFile{PatientID: p.ID, FileType: string(sf.Category), FilePath: sf.Path}
			if err := s.repo.AddFile(ctx, f); err != nil {
				return err
			}
		}
		if err := s.repo.ReplaceCaretakers(ctx, p.ID, in.Caretakers); err != nil {
			return err
		}
		if err := s.repo.ReplaceInsurance(ctx, p.ID, in.Insurance); err != nil {
			return err
		}
		if err := s.repo.ReplaceQuestions(ctx, p.ID, in.Questions); err != nil {
			return err
		}
		if err := s.repo.ReplaceHabits(ctx, p.ID, in.Habits); err != nil {
			return err
		}
		return s.repo.ReplaceDiseases(ctx, p.ID, in.Diseases)
	})
	if err != nil {
		s.log.Error().Err(err).Msg("patient create failed")
		return 0, &PersistenceError{Op: "create patient", Err: err}
	}
	return p.ID, nil
}

// Update replaces the root fields and, for each sub-collection present in
// the input, the whole collection, all in one transaction.
func (s *Service) Update(ctx context.Context, id int64, in *UpdateInput) error {
	if in.Patient.Name == "" || in.Patient.Lname == "" {
		return NewValidationError("name and lname are required")
	}
	if in.HasDis {
		if err := ValidateDiseases(in.Diseases); err != nil {
			return err
		}
	}
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return err
	}

	in.Patient.ID = id
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdatePatient(ctx, &in.Patient); err != nil {
			return err
		}
		if in.HasCare {
			if err := s.repo.ReplaceCaretakers(ctx, id, in.Caretakers); err != nil {
				return err
			}
		}
		if in.Insurance != nil {
			if err := s.repo.ReplaceInsurance(ctx, id, in.Insurance); err != nil {
				return err
			}
		}
		if in.HasQs {
			if err := s.repo.ReplaceQuestions(ctx, id, in.Questions); err != nil {
				return err
			}
		}
		if in.HasHabits {
			if err := s.repo.ReplaceHabits(ctx, id, in.Habits); err != nil {
				return err
			}
		}
		if in.HasDis {
			return s.repo.ReplaceDiseases(ctx, id, in.Diseases)
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Int64("patient_id", id).Msg("patient update failed")
		return &PersistenceError{Op: "update patient", Err: err}
	}
	return nil
}

// Category replaces, each a delete-then-insert in its own transaction.

func (s *Service) ReplaceCaretakers(ctx context.Context, id int64, rows []Caretaker) error {
	return s.replaceSection(ctx, id, "replace caretakers", func(ctx context.Context) error {
		return s.repo.ReplaceCaretakers(ctx, id, rows)
	})
}

func (s *Service) ReplaceInsurance(ctx context.Context, id int64, ins *InsuranceDetail) error {
	return s.replaceSection(ctx, id, "replace insurance", func(ctx context.Context) error {
		return s.repo.ReplaceInsurance(ctx, id, ins)
	})
}

func (s *Service) ReplaceQuestions(ctx context.Context, id int64, rows []Question) error {
	return s.replaceSection(ctx, id, "replace questions", func(ctx context.Context) error {
		return s.repo.ReplaceQuestions(ctx, id, rows)
	})
}

func (s *Service) ReplaceHabits(ctx context.Context, id int64, rows []Habit) error {
	return s.replaceSection(ctx, id, "replace habits", func(ctx context.Context) error {
		return s.repo.ReplaceHabits(ctx, id, rows)
	})
}

func (s *Service) ReplaceDiseases(ctx context.Context, id int64, rows []PatientDisease) error {
	if err := ValidateDiseases(rows); err != nil {
		return err
	}
	return s.replaceSection(ctx, id, "replace diseases", func(ctx context.Context) error {
		return s.repo.ReplaceDiseases(ctx, id, rows)
	})
}

func (s *Service) replaceSection(ctx context.Context, id int64, op string, fn func(ctx context.Context) error) error {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return err
	}
	if err := s.runTx(ctx, fn); err != nil {
		s.log.Error().Err(err).Int64("patient_id", id).Msg(op + " failed")
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// ReplacePhoto swaps the single photo slot: a file staged in the fallback
// bucket is moved into the patient's image folder and renamed to the patient
// convention, the prior photo row is replaced in one transaction, and the
// prior physical file is removed after commit. Serialized per patient. On a
// failure after the move the relocated file is removed so nothing unindexed
// is left behind.
func (s *Service) ReplacePhoto(ctx context.Context, id int64, staged upload.StagedFile) error {
	unlock := s.lockPhoto(id)
	defer unlock()

	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return err
	}

	folder := s.files.ResolveFolder(filestore.CategoryPhoto, p.FullName())
	path := staged.Path
	if filepath.Dir(path) != folder {
		name := filestore.StampedName(p.FullName(), staged.Path)
		if path, err = s.files.Relocate(staged.Path, folder, name); err != nil {
			return &PersistenceError{Op: "relocate photo", Err: err}
		}
	}
	discardMoved := func() {
		if path != staged.Path {
			_ = s.files.Remove(path)
		}
	}

	old, err := s.repo.ListFilesByType(ctx, id, FileTypePhoto)
	if err != nil {
		discardMoved()
		return &PersistenceError{Op: "replace photo", Err: err}
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteFilesByType(ctx, id, FileTypePhoto); err != nil {
			return err
		}
		return s.repo.AddFile(ctx, &PatientFile{PatientID: id, FileType: FileTypePhoto, FilePath: path})
	})
	if err != nil {
		discardMoved()
		s.log.Error().Err(err).Int64("patient_id", id).Msg("photo replace failed")
		return &PersistenceError{Op: "replace photo", Err: err}
	}

	s.removeFiles(old)
	return nil
}

// ReplaceFilesOfType replaces the proof or policy set with the staged batch.
// Files staged in the fallback bucket are relocated into the patient's folder
// and renamed to the patient convention before their rows are written. On a
// failure after any move the relocated files are removed.
func (s *Service) ReplaceFilesOfType(ctx context.Context, id int64, fileType string, staged []upload.StagedFile) error {
	if !IsFileType(fileType) {
		return NewValidationError("unknown file type " + fileType)
	}
	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return err
	}

	folder := s.files.ResolveFolder(categoryForType(fileType), p.FullName())
	paths := make([]string, len(staged))
	var moved []string
	discardMoved := func() {
		for _, path := range moved {
			_ = s.files.Remove(path)
		}
	}
	for i, sf := range staged {
		paths[i] = sf.Path
		if filepath.Dir(sf.Path) != folder {
			name := filestore.StampedName(p.FullName(), sf.Path)
			if paths[i], err = s.files.Relocate(sf.Path, folder, name); err != nil {
				discardMoved()
				return &PersistenceError{Op: "relocate " + fileType + " file", Err: err}
			}
			moved = append(moved, paths[i])
		}
	}

	old, err := s.repo.ListFilesByType(ctx, id, fileType)
	if err != nil {
		discardMoved()
		return &PersistenceError{Op: "replace " + fileType + " files", Err: err}
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteFilesByType(ctx, id, fileType); err != nil {
			return err
		}
		for _, path := range paths {
			f := &PatientFile{PatientID: id, FileType: fileType, FilePath: path}
			if err := s.repo.AddFile(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		discardMoved()
		s.log.Error().Err(err).Int64("patient_id", id).Str("file_type", fileType).Msg("file replace failed")
		return &PersistenceError{Op: "replace " + fileType + " files", Err: err}
	}

	s.removeFiles(old)
	return nil
}

// Delete cascades through every dependent table in one transaction, then
// removes the physical files best-effort. Row deletion is authoritative; a
// failed unlink is logged, never surfaced.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return err
	}

	fileRows, err := s.repo.ListFiles(ctx, id)
	if err != nil {
		return &PersistenceError{Op: "collect patient files", Err: err}
	}

	if err := s.runTx(ctx, func(ctx context.Context) error {
		return s.repo.DeleteAggregate(ctx, id)
	}); err != nil {
		s.log.Error().Err(err).Int64("patient_id", id).Msg("patient delete failed")
		return &PersistenceError{Op: "delete patient", Err: err}
	}

	s.removeFiles(fileRows)
	return nil
}

// -- Attachment index --

func (s *Service) ListFiles(ctx context.Context, id int64) ([]PatientFile, error) {
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListFiles(ctx, id)
}

func (s *Service) ListFilesByType(ctx context.Context, id int64, fileType string) ([]PatientFile, error) {
	if !IsFileType(fileType) {
		return nil, NewValidationError("unknown file type " + fileType)
	}
	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListFilesByType(ctx, id, fileType)
}

// DeleteFile removes one attachment: the row first, then the physical file.
func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	f, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if err := s.files.Remove(f.FilePath); err != nil {
		s.log.Warn().Err(err).Str("path", f.FilePath).Msg("physical file removal failed")
	}
	return nil
}

func categoryForType(fileType string) filestore.Category {
	switch fileType {
	case FileTypePhoto:
		return filestore.CategoryPhoto
	case FileTypeProof:
		return filestore.CategoryProof
	case FileTypePolicy:
		return filestore.CategoryPolicy
	}
	return filestore.CategoryOther
}

func (s *Service) removeFiles(rows []PatientFile) {
	for _, f := range rows {
		if err := s.files.Remove(f.FilePath); err != nil {
			s.log.Warn().Err(err).Str("path", f.FilePath).Msg("physical file removal failed")
		}
	}
}
