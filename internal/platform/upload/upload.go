// Package upload parses multipart form uploads against per-field rules and
// stages the accepted files on disk via the filestore.
package upload

import (
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/Harsha-nani75/soukhya-backend/internal/platform/filestore"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrTooManyFiles    = errors.New("too many files in request")
	ErrInvalidFileType = errors.New("file type is not allowed")
	ErrUnknownField    = errors.New("unknown file field")
	ErrBadFileType     = errors.New("file_type must be one of photo, proof or policy")
)

// imageTypes covers the photo fields. proofTypes adds PDF for scanned
// documents. Policy files are accepted as-is since insurers send arbitrary
// formats.
var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var proofTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// extTypes backs content-type detection when the client omits the part
// header. Keys are lowercase extensions including the dot.
var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// FieldSpec describes what a single multipart field accepts.
type FieldSpec struct {
	Category filestore.Category
	MaxCount int
	// Allowed is the content-type allow-list; nil accepts anything.
	Allowed map[string]bool
	// TypeField names a form value carrying the file type. When set, the
	// category and allow-list are resolved per request from that value
	// instead of this spec.
	TypeField string
}

// PatientFields are the upload fields of the patient intake form. The generic
// files field takes its category from the file_type form value.
var PatientFields = map[string]FieldSpec{
	"photo":       {Category: filestore.CategoryPhoto, MaxCount: 1, Allowed: imageTypes},
	"proofFile":   {Category: filestore.CategoryProof, MaxCount: 10, Allowed: proofTypes},
	"proofFiles":  {Category: filestore.CategoryProof, MaxCount: 10, Allowed: proofTypes},
	"policyFiles": {Category: filestore.CategoryPolicy, MaxCount: 10, Allowed: nil},
	"files":       {TypeField: "file_type", MaxCount: 10},
}

// typeSpecs resolves the file_type value accompanying a generic files part.
var typeSpecs = map[string]FieldSpec{
	"photo":  {Category: filestore.CategoryPhoto, MaxCount: 1, Allowed: imageTypes},
	"proof":  {Category: filestore.CategoryProof, MaxCount: 10, Allowed: proofTypes},
	"policy": {Category: filestore.CategoryPolicy, MaxCount: 10, Allowed: nil},
}

// StagedFile is a file accepted from the form and written to disk.
type StagedFile struct {
	Field    string
	Category filestore.Category
	Path     string
	Name     string
	Size     int64
}

// Error carries the offending field and filename so handlers can report
// which part of the form was rejected.
type Error struct {
	Field    string
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("field %s, file %s: %v", e.Field, e.Filename, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pipeline validates and stages multipart uploads.
type Pipeline struct {
	store    *filestore.Store
	maxSize  int64
	maxCount int
}

func NewPipeline(store *filestore.Store, maxSize int64, maxCount int) *Pipeline {
	return &Pipeline{store: store, maxSize: maxSize, maxCount: maxCount}
}

// ContentType resolves the effective content type of a part, falling back to
// the filename extension when the part header is absent or generic.
func ContentType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	if t, ok := extTypes[strings.ToLower(filepath.Ext(fh.Filename))]; ok {
		return t
	}
	return ct
}

// Stage validates every file part of the form against specs and writes the
// accepted files to disk. patientName picks the destination folder and the
// stored name base; when empty the files land in the fallback bucket under
// their uploaded names and are expected to be relocated later. The first
// violation aborts the whole batch and already staged files are removed, so a
// request either stages fully or not at all.
func (p *Pipeline) Stage(form *multipart.Form, specs map[string]FieldSpec, patientName string) ([]StagedFile, error) {
	total := 0
	for _, fhs := range form.File {
		total += len(fhs)
	}
	if total > p.maxCount {
		return nil, &Error{Err: ErrTooManyFiles}
	}

	var staged []StagedFile
	cleanup := func() {
		for _, sf := range staged {
			_ = p.store.Remove(sf.Path)
		}
	}

	base := filestore.SanitizeName(patientName)
	for field, fhs := range form.File {
		spec, ok := specs[field]
		if !ok {
			cleanup()
			return nil, &Error{Field: field, Err: ErrUnknownField}
		}
		if spec.TypeField != "" {
			var ft string
			if vs := form.Value[spec.TypeField]; len(vs) > 0 {
				ft = vs[0]
			}
			ts, ok := typeSpecs[ft]
			if !ok {
				cleanup()
				return nil, &Error{Field: field, Err: ErrBadFileType}
			}
			spec.Category, spec.MaxCount, spec.Allowed = ts.Category, ts.MaxCount, ts.Allowed
		}
		if len(fhs) > spec.MaxCount {
			cleanup()
			return nil, &Error{Field: field, Err: ErrTooManyFiles}
		}

		folder := p.store.ResolveFolder(spec.Category, patientName)
		for _, fh := range fhs {
			if fh.Size > p.maxSize {
				cleanup()
				return nil, &Error{Field: field, Filename: fh.Filename, Err: ErrFileTooLarge}
			}
			if spec.Allowed != nil && !spec.Allowed[ContentType(fh)] {
				cleanup()
				return nil, &Error{Field: field, Filename: fh.Filename, Err: ErrInvalidFileType}
			}

			name := fh.Filename
			if base != "" {
				name = base + filepath.Ext(fh.Filename)
			}
			src, err := fh.Open()
			if err != nil {
				cleanup()
				return nil, &Error{Field: field, Filename: fh.Filename, Err: err}
			}
			path, err := p.store.Save(src, folder, name)
			src.Close()
			if err != nil {
				cleanup()
				return nil, &Error{Field: field, Filename: fh.Filename, Err: err}
			}

			staged = append(staged, StagedFile{
				Field:    field,
				Category: spec.Category,
				Path:     path,
				Name:     filepath.Base(path),
				Size:     fh.Size,
			})
		}
	}
	return staged, nil
}

// Discard removes a batch of staged files, ignoring ones already gone.
func (p *Pipeline) Discard(files []StagedFile) {
	for _, sf := range files {
		_ = p.store.Remove(sf.Path)
	}
}
