package patient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Harsha-nani75/soukhya-backend/internal/platform/upload"
	"github.com/Harsha-nani75/soukhya-backend/pkg/pagination"
)

type Handler struct {
	svc     *Service
	uploads *upload.Pipeline
}

func NewHandler(svc *Service, uploads *upload.Pipeline) *Handler {
	return &Handler{svc: svc, uploads: uploads}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")

	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	g.GET("/caretakers/:id", h.GetCaretakers)
	g.PUT("/caretakers/:id", h.ReplaceCaretakers)
	g.GET("/insurance/:id", h.GetInsurance)
	g.PUT("/insurance/:id", h.ReplaceInsurance)
	g.GET("/insurance-hospitals/:id", h.GetInsuranceHospitals)
	g.GET("/questions/:id", h.GetQuestions)
	g.PUT("/questions/:id", h.ReplaceQuestions)
	g.GET("/habits/:id", h.GetHabits)
	g.PUT("/habits/:id", h.ReplaceHabits)
	g.GET("/selectedDiseases/:id", h.GetDiseases)
	g.PUT("/selectedDiseases/:id", h.ReplaceDiseases)

	g.PUT("/photo/:id", h.ReplacePhoto)
	g.PUT("/proof-files/:id", h.ReplaceProofFiles)
	g.PUT("/policy-files/:id", h.ReplacePolicyFiles)
	g.GET("/files/:id", h.ListFiles)
	g.GET("/files/:id/:type", h.ListFilesByType)
	g.DELETE("/file/:fileId", h.DeleteFile)
}

// httpError maps the error taxonomy onto the JSON error envelope. Persistence
// causes are logged by the service; clients only get a generic message.
func httpError(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		body := map[string]interface{}{"error": ve.Msg}
		if len(ve.Details) > 0 {
			body["details"] = ve.Details
		}
		return echo.NewHTTPError(http.StatusBadRequest, body)
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, map[string]interface{}{"error": nf.Error()})
	}
	var ue *upload.Error
	if errors.As(err, &ue) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{"error": ue.Error()})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"})
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, NewValidationError("invalid " + name)
	}
	return id, nil
}

// -- Aggregate --

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("search"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ListItem{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Create(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return httpError(NewValidationError("multipart form expected", err.Error()))
	}
	defer form.RemoveAll()

	get := func(key string) string {
		if vs := form.Value[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	in, err := ParseCreateInput(get)
	if err != nil {
		return httpError(err)
	}
	if err := in.Validate(); err != nil {
		return httpError(err)
	}

	staged, err := h.uploads.Stage(form, upload.PatientFields, in.Patient.FullName())
	if err != nil {
		return httpError(err)
	}

	id, err := h.svc.Create(c.Request().Context(), in, staged)
	if err != nil {
		h.uploads.Discard(staged)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"patient_id": id})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}

	var body struct {
		Patient    json.RawMessage `json:"patient"`
		Caretakers json.RawMessage `json:"caretakers"`
		CareTaker  json.RawMessage `json:"careTaker"`
		Insurance  json.RawMessage `json:"insurance"`
		Hospitals  json.RawMessage `json:"insuranceHospitals"`
		Questions  json.RawMessage `json:"questions"`
		Habits     json.RawMessage `json:"habits"`
		Diseases   json.RawMessage `json:"selectedDiseases"`
	}
	if err := c.Bind(&body); err != nil {
		return httpError(NewValidationError("request body is not valid JSON"))
	}
	if len(body.Patient) == 0 {
		return httpError(NewValidationError("patient field is required"))
	}

	in := &UpdateInput{}
	if err := json.Unmarshal(body.Patient, &in.Patient); err != nil {
		return httpError(NewValidationError("patient is not valid JSON", err.Error()))
	}
	if body.Caretakers == nil {
		body.Caretakers = body.CareTaker
	}
	if body.Caretakers != nil {
		if in.Caretakers, err = ParseCaretakers(string(body.Caretakers)); err != nil {
			return httpError(err)
		}
		in.HasCare = true
	}
	if body.Insurance != nil {
		if in.Insurance, err = ParseInsurance(string(body.Insurance)); err != nil {
			return httpError(err)
		}
		if in.Insurance != nil && len(in.Insurance.Hospitals) == 0 && body.Hospitals != nil {
			if in.Insurance.Hospitals, err = ParseHospitals(string(body.Hospitals)); err != nil {
				return httpError(err)
			}
		}
	}
	if body.Questions != nil {
		if in.Questions, err = ParseQuestions(string(body.Questions)); err != nil {
			return httpError(err)
		}
		in.HasQs = true
	}
	if body.Habits != nil {
		if in.Habits, err = ParseHabits(string(body.Habits)); err != nil {
			return httpError(err)
		}
		in.HasHabits = true
	}
	if body.Diseases != nil {
		if in.Diseases, err = ParseDiseases(string(body.Diseases)); err != nil {
			return httpError(err)
		}
		in.HasDis = true
	}

	if err := h.svc.Update(c.Request().Context(), id, in); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": id})
}

// sectionBody returns the request body, unwrapping {"<key>": ...} envelopes
// when one of keys is present. Older frontends wrap the collection; newer
// ones send it bare.
func sectionBody(c echo.Context, keys ...string) (string, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", NewValidationError("cannot read request body")
	}
	var envelope map[string]json.RawMessage
	if json.Unmarshal(raw, &envelope) == nil {
		for _, k := range keys {
			if v, ok := envelope[k]; ok {
				return string(v), nil
			}
		}
	}
	return string(raw), nil
}

// -- Section reads and replaces --

func (h *Handler) GetCaretakers(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.Caretakers(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []Caretaker{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) ReplaceCaretakers(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	raw, err := sectionBody(c, "caretakers", "careTaker")
	if err != nil {
		return httpError(err)
	}
	rows, err := ParseCaretakers(raw)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.ReplaceCaretakers(c.Request().Context(), id, rows); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) GetInsurance(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	ins, err := h.svc.Insurance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ins)
}

func (h *Handler) ReplaceInsurance(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httpError(NewValidationError("cannot read request body"))
	}

	var envelope struct {
		Insurance json.RawMessage `json:"insurance"`
		Hospitals json.RawMessage `json:"insuranceHospitals"`
	}
	insRaw := string(raw)
	if json.Unmarshal(raw, &envelope) == nil && envelope.Insurance != nil {
		insRaw = string(envelope.Insurance)
	}
	ins, err := ParseInsurance(insRaw)
	if err != nil {
		return httpError(err)
	}
	if ins != nil && len(ins.Hospitals) == 0 && envelope.Hospitals != nil {
		if ins.Hospitals, err = ParseHospitals(string(envelope.Hospitals)); err != nil {
			return httpError(err)
		}
	}

	if err := h.svc.ReplaceInsurance(c.Request().Context(), id, ins); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) GetInsuranceHospitals(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.InsuranceHospitals(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []InsuranceHospital{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetQuestions(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.Questions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, QuestionsToKeyed(rows))
}

func (h *Handler) ReplaceQuestions(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	raw, err := sectionBody(c, "questions")
	if err != nil {
		return httpError(err)
	}
	rows, err := ParseQuestions(raw)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.ReplaceQuestions(c.Request().Context(), id, rows); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) GetHabits(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.Habits(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, HabitsToKeyed(rows))
}

func (h *Handler) ReplaceHabits(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	raw, err := sectionBody(c, "habits")
	if err != nil {
		return httpError(err)
	}
	rows, err := ParseHabits(raw)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.ReplaceHabits(c.Request().Context(), id, rows); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) GetDiseases(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.Diseases(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []PatientDisease{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) ReplaceDiseases(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	raw, err := sectionBody(c, "selectedDiseases")
	if err != nil {
		return httpError(err)
	}
	rows, err := ParseDiseases(raw)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.ReplaceDiseases(c.Request().Context(), id, rows); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

// -- Attachments --

func (h *Handler) ReplacePhoto(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return httpError(NewValidationError("multipart form expected", err.Error()))
	}
	defer form.RemoveAll()

	staged, err := h.uploads.Stage(form, map[string]upload.FieldSpec{
		"photo": upload.PatientFields["photo"],
	}, "")
	if err != nil {
		return httpError(err)
	}
	if len(staged) != 1 {
		return httpError(NewValidationError("photo file is required"))
	}

	if err := h.svc.ReplacePhoto(c.Request().Context(), id, staged[0]); err != nil {
		h.uploads.Discard(staged)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) ReplaceProofFiles(c echo.Context) error {
	return h.replaceFiles(c, FileTypeProof, "proofFile", "proofFiles")
}

func (h *Handler) ReplacePolicyFiles(c echo.Context) error {
	return h.replaceFiles(c, FileTypePolicy, "policyFiles")
}

func (h *Handler) replaceFiles(c echo.Context, fileType string, fields ...string) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return httpError(NewValidationError("multipart form expected", err.Error()))
	}
	defer form.RemoveAll()

	specs := map[string]upload.FieldSpec{}
	for _, f := range fields {
		specs[f] = upload.PatientFields[f]
	}
	staged, err := h.uploads.Stage(form, specs, "")
	if err != nil {
		return httpError(err)
	}

	if err := h.svc.ReplaceFilesOfType(c.Request().Context(), id, fileType, staged); err != nil {
		h.uploads.Discard(staged)
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": id})
}

func (h *Handler) ListFiles(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.ListFiles(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []PatientFile{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) ListFilesByType(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpError(err)
	}
	rows, err := h.svc.ListFilesByType(c.Request().Context(), id, c.Param("type"))
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []PatientFile{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) DeleteFile(c echo.Context) error {
	fileID, err := paramID(c, "fileId")
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.DeleteFile(c.Request().Context(), fileID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": fileID})
}
