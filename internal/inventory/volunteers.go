package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
)

// Volunteer record paths. Per-volunteer resources append the volunteer UUID.
const (
	PathVolunteers    = "voluntarios/"
	PathServiceRecord = "voluntarios/hoja-vida/"
	PathMedicalRecord = "voluntarios/ficha-medica/"
)

var (
	// ErrVolunteerNotFound is returned when the backend has no volunteer with the given id.
	ErrVolunteerNotFound = errors.New("volunteer not found")

	// ErrMedicalRecordForbidden is returned when the signed-in user may not read
	// a volunteer's medical record. The session stays valid.
	ErrMedicalRecordForbidden = errors.New("not allowed to view this medical record")
)

// Volunteers exposes the personnel directory and per-volunteer records.
type Volunteers struct {
	api Getter
}

// NewVolunteers returns a Volunteers service that issues requests through api.
func NewVolunteers(api Getter) *Volunteers {
	return &Volunteers{api: api}
}

// List returns directory summaries. An empty search lists every volunteer.
func (v *Volunteers) List(ctx context.Context, search string) ([]json.RawMessage, error) {
	path, err := withQuery(PathVolunteers, param{"search", search})
	if err != nil {
		return nil, err
	}
	return fetchList(ctx, v.api, path)
}

// Detail returns a volunteer's profile.
func (v *Volunteers) Detail(ctx context.Context, id string) (json.RawMessage, error) {
	return v.record(ctx, PathVolunteers, id)
}

// ServiceRecord returns a volunteer's hoja de vida: career, courses and awards.
func (v *Volunteers) ServiceRecord(ctx context.Context, id string) (json.RawMessage, error) {
	return v.record(ctx, PathServiceRecord, id)
}

// MedicalRecord returns a volunteer's ficha medica. A 403 from the backend
// yields ErrMedicalRecordForbidden.
func (v *Volunteers) MedicalRecord(ctx context.Context, id string) (json.RawMessage, error) {
	raw, err := v.record(ctx, PathMedicalRecord, id)
	if status(err) == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %w", ErrMedicalRecordForbidden, err)
	}
	return raw, err
}

func (v *Volunteers) record(ctx context.Context, base, id string) (json.RawMessage, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("volunteer id %q: %w", id, err)
	}

	var raw json.RawMessage
	err = v.api.GetJSON(ctx, base+parsed.String()+"/", &raw)
	if status(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrVolunteerNotFound, parsed)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func status(err error) int {
	var se *apiclient.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
