package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsha-nani75/soukhya-backend/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// queryable abstracts pgxpool.Pool and pgx.Tx so repository methods run
// against the transaction carried in the context when there is one.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// -- Patient root --

const patientColumns = `id, name, lname, sname, abb, abbname, gender, dob, age,
	occupation, phone, email, rstatus, raddress, rcity, rstate, rzipcode,
	paddress, pcity, pstate, pzipcode, idnum, address_text_proof,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.Lname, &p.Sname, &p.Abb, &p.Abbname, &p.Gender,
		&p.Dob, &p.Age, &p.Occupation, &p.Phone, &p.Email, &p.Rstatus,
		&p.Raddress, &p.Rcity, &p.Rstate, &p.Rzipcode,
		&p.Paddress, &p.Pcity, &p.Pstate, &p.Pzipcode,
		&p.Idnum, &p.AddressTextProof, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			name, lname, sname, abb, abbname, gender, dob, age,
			occupation, phone, email, rstatus,
			raddress, rcity, rstate, rzipcode,
			paddress, pcity, pstate, pzipcode,
			idnum, address_text_proof
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22
		) RETURNING id, created_at, updated_at`,
		p.Name, p.Lname, p.Sname, p.Abb, p.Abbname, p.Gender, p.Dob, p.Age,
		p.Occupation, p.Phone, p.Email, p.Rstatus,
		p.Raddress, p.Rcity, p.Rstate, p.Rzipcode,
		p.Paddress, p.Pcity, p.Pstate, p.Pzipcode,
		p.Idnum, p.AddressTextProof,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "patient", ID: id}
	}
	return p, err
}

func (r *repoPG) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			name = $2, lname = $3, sname = $4, abb = $5, abbname = $6,
			gender = $7, dob = $8, age = $9, occupation = $10,
			phone = $11, email = $12, rstatus = $13,
			raddress = $14, rcity = $15, rstate = $16, rzipcode = $17,
			paddress = $18, pcity = $19, pstate = $20, pzipcode = $21,
			idnum = $22, address_text_proof = $23, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Lname, p.Sname, p.Abb, p.Abbname,
		p.Gender, p.Dob, p.Age, p.Occupation,
		p.Phone, p.Email, p.Rstatus,
		p.Raddress, p.Rcity, p.Rstate, p.Rzipcode,
		p.Paddress, p.Pcity, p.Pstate, p.Pzipcode,
		p.Idnum, p.AddressTextProof,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "patient", ID: p.ID}
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, search string, limit, offset int) ([]*ListItem, int, error) {
	where := ``
	args := []interface{}{}
	if search != "" {
		where = ` WHERE name ILIKE $1 OR lname ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientColumns + `,
		(SELECT COUNT(*) FROM caretakers c WHERE c.patient_id = patients.id),
		(SELECT COUNT(*) FROM questions q WHERE q.patient_id = patients.id),
		(SELECT COUNT(*) FROM habits h WHERE h.patient_id = patients.id),
		(SELECT COUNT(*) FROM patient_diseases d WHERE d.patient_id = patients.id),
		EXISTS(SELECT 1 FROM insurance_details i WHERE i.patient_id = patients.id)
		FROM patients` + where +
		fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ListItem
	for rows.Next() {
		var it ListItem
		err := rows.Scan(
			&it.ID, &it.Name, &it.Lname, &it.Sname, &it.Abb, &it.Abbname, &it.Gender,
			&it.Dob, &it.Age, &it.Occupation, &it.Phone, &it.Email, &it.Rstatus,
			&it.Raddress, &it.Rcity, &it.Rstate, &it.Rzipcode,
			&it.Paddress, &it.Pcity, &it.Pstate, &it.Pzipcode,
			&it.Idnum, &it.AddressTextProof, &it.CreatedAt, &it.UpdatedAt,
			&it.CaretakerCount, &it.QuestionCount, &it.HabitCount, &it.DiseaseCount,
			&it.HasInsurance,
		)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, &it)
	}
	return items, total, rows.Err()
}

// -- Caretakers --

func (r *repoPG) ListCaretakers(ctx context.Context, patientID int64) ([]Caretaker, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, name, relation, phone, email, address
		FROM caretakers WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Caretaker
	for rows.Next() {
		var c Caretaker
		if err := rows.Scan(&c.ID, &c.PatientID, &c.Name, &c.Relation, &c.Phone, &c.Email, &c.Address); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceCaretakers(ctx context.Context, patientID int64, rows []Caretaker) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM caretakers WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	for _, c := range rows {
		_, err := q.Exec(ctx, `
			INSERT INTO caretakers (patient_id, name, relation, phone, email, address)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			patientID, c.Name, c.Relation, c.Phone, c.Email, c.Address)
		if err != nil {
			return err
		}
	}
	return nil
}

// -- Insurance --

func (r *repoPG) GetInsurance(ctx context.Context, patientID int64) (*InsuranceDetail, error) {
	var ins InsuranceDetail
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, insurance_company, period_insurance, sum_insured,
			declined_coverage, similar_insurances, package, package_detail
		FROM insurance_details WHERE patient_id = $1 ORDER BY id LIMIT 1`, patientID,
	).Scan(
		&ins.ID, &ins.PatientID, &ins.InsuranceCompany, &ins.PeriodInsurance,
		&ins.SumInsured, &ins.DeclinedCoverage, &ins.SimilarInsurances,
		&ins.Package, &ins.PackageDetail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

func (r *repoPG) ListHospitals(ctx context.Context, insuranceID int64) ([]InsuranceHospital, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, insurance_id, hospital_name, hospital_address
		FROM insurance_hospitals WHERE insurance_id = $1 ORDER BY id`, insuranceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InsuranceHospital
	for rows.Next() {
		var h InsuranceHospital
		if err := rows.Scan(&h.ID, &h.InsuranceID, &h.HospitalName, &h.HospitalAddress); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceInsurance(ctx context.Context, patientID int64, ins *InsuranceDetail) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `
		DELETE FROM insurance_hospitals
		WHERE insurance_id IN (SELECT id FROM insurance_details WHERE patient_id = $1)`,
		patientID); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM insurance_details WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	if ins == nil {
		return nil
	}

	err := q.QueryRow(ctx, `
		INSERT INTO insurance_details (
			patient_id, insurance_company, period_insurance, sum_insured,
			declined_coverage, similar_insurances, package, package_detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		patientID, ins.InsuranceCompany, ins.PeriodInsurance, ins.SumInsured,
		ins.DeclinedCoverage, ins.SimilarInsurances, ins.Package, ins.PackageDetail,
	).Scan(&ins.ID)
	if err != nil {
		return err
	}
	ins.PatientID = patientID

	for _, h := range ins.Hospitals {
		_, err := q.Exec(ctx, `
			INSERT INTO insurance_hospitals (insurance_id, hospital_name, hospital_address)
			VALUES ($1, $2, $3)`,
			ins.ID, h.HospitalName, h.HospitalAddress)
		if err != nil {
			return err
		}
	}
	return nil
}

// -- Questions --

func (r *repoPG) ListQuestions(ctx context.Context, patientID int64) ([]Question, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, question_code, answer, details
		FROM questions WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.PatientID, &q.QuestionCode, &q.Answer, &q.Details); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceQuestions(ctx context.Context, patientID int64, rows []Question) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM questions WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	for _, row := range rows {
		_, err := q.Exec(ctx, `
			INSERT INTO questions (patient_id, question_code, answer, details)
			VALUES ($1, $2, $3, $4)`,
			patientID, row.QuestionCode, row.Answer, row.Details)
		if err != nil {
			return err
		}
	}
	return nil
}

// -- Habits --

func (r *repoPG) ListHabits(ctx context.Context, patientID int64) ([]Habit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, habit_code, answer, years
		FROM habits WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Habit
	for rows.Next() {
		var h Habit
		if err := rows.Scan(&h.ID, &h.PatientID, &h.HabitCode, &h.Answer, &h.Years); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceHabits(ctx context.Context, patientID int64, rows []Habit) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM habits WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	for _, h := range rows {
		_, err := q.Exec(ctx, `
			INSERT INTO habits (patient_id, habit_code, answer, years)
			VALUES ($1, $2, $3, $4)`,
			patientID, h.HabitCode, h.Answer, h.Years)
		if err != nil {
			return err
		}
	}
	return nil
}

// -- Diseases --

func (r *repoPG) ListDiseases(ctx context.Context, patientID int64) ([]PatientDisease, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pd.id, pd.patient_id, pd.disease_id, pd.patient_data,
			d.code, d.name, c.name, s.name
		FROM patient_diseases pd
		JOIN diseases d ON d.disease_id = pd.disease_id
		JOIN categories c ON c.category_id = d.category_id
		JOIN systems s ON s.system_id = c.system_id
		WHERE pd.patient_id = $1
		ORDER BY pd.id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PatientDisease
	for rows.Next() {
		var d PatientDisease
		err := rows.Scan(&d.ID, &d.PatientID, &d.DiseaseID, &d.PatientData,
			&d.DiseaseCode, &d.DiseaseName, &d.CategoryName, &d.SystemName)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) ReplaceDiseases(ctx context.Context, patientID int64, rows []PatientDisease) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM patient_diseases WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	for _, d := range rows {
		_, err := q.Exec(ctx, `
			INSERT INTO patient_diseases (patient_id, disease_id, patient_data)
			VALUES ($1, $2, $3)`,
			patientID, d.DiseaseID, d.PatientData)
		if err != nil {
			return err
		}
	}
	return nil
}

// -- Files --

const fileColumns = `id, patient_id, file_type, file_path, created_at`

func (r *repoPG) ListFiles(ctx context.Context, patientID int64) ([]PatientFile, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fileColumns+` FROM patient_files WHERE patient_id = $1 ORDER BY created_at, id`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

func (r *repoPG) ListFilesByType(ctx context.Context, patientID int64, fileType string) ([]PatientFile, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fileColumns+` FROM patient_files WHERE patient_id = $1 AND file_type = $2 ORDER BY created_at, id`,
		patientID, fileType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

func scanFiles(rows pgx.Rows) ([]PatientFile, error) {
	var out []PatientFile
	for rows.Next() {
		var f PatientFile
		if err := rows.Scan(&f.ID, &f.PatientID, &f.FileType, &f.FilePath, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repoPG) AddFile(ctx context.Context, f *PatientFile) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_files (patient_id, file_type, file_path)
		VALUES ($1, $2, $3) RETURNING id, created_at`,
		f.PatientID, f.FileType, f.FilePath,
	).Scan(&f.ID, &f.CreatedAt)
}

func (r *repoPG) GetFile(ctx context.Context, fileID int64) (*PatientFile, error) {
	var f PatientFile
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileColumns+` FROM patient_files WHERE id = $1`, fileID,
	).Scan(&f.ID, &f.PatientID, &f.FileType, &f.FilePath, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "file", ID: fileID}
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repoPG) DeleteFile(ctx context.Context, fileID int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_files WHERE id = $1`, fileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "file", ID: fileID}
	}
	return nil
}

func (r *repoPG) DeleteFilesByType(ctx context.Context, patientID int64, fileType string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM patient_files WHERE patient_id = $1 AND file_type = $2`,
		patientID, fileType)
	return err
}

// -- Cascade delete --

// deleteSteps order children before parents; insurance_hospitals hang off
// insurance_details rather than the patient, hence the sub-select.
var deleteSteps = []struct {
	name string
	sql  string
}{
	{"patient_files", `DELETE FROM patient_files WHERE patient_id = $1`},
	{"patient_diseases", `DELETE FROM patient_diseases WHERE patient_id = $1`},
	{"caretakers", `DELETE FROM caretakers WHERE patient_id = $1`},
	{"insurance_hospitals", `DELETE FROM insurance_hospitals
		WHERE insurance_id IN (SELECT id FROM insurance_details WHERE patient_id = $1)`},
	{"insurance_details", `DELETE FROM insurance_details WHERE patient_id = $1`},
	{"questions", `DELETE FROM questions WHERE patient_id = $1`},
	{"habits", `DELETE FROM habits WHERE patient_id = $1`},
	{"patients", `DELETE FROM patients WHERE id = $1`},
}

func (r *repoPG) DeleteAggregate(ctx context.Context, patientID int64) error {
	q := r.conn(ctx)
	for _, step := range deleteSteps {
		if _, err := q.Exec(ctx, step.sql, patientID); err != nil {
			return fmt.Errorf("delete %s: %w", step.name, err)
		}
	}
	return nil
}
