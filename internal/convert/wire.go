// Package convert maps domain types to the JSON wire format and back.
package convert

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/keyledger/internal/model"
)

// ErrMalformedResponse is returned when a server reply lacks required fields.
var ErrMalformedResponse = errors.New("malformed response")

// --- requests ---

// ActivationRequest is the body of POST /license/activation.
type ActivationRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,max=64"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(*http.Request) error {
	a.LicenseKey = strings.TrimSpace(a.LicenseKey)
	return nil
}

// --- responses ---

// ActivationResponse answers a successful submission.
type ActivationResponse struct {
	Success        bool       `json:"success"`
	ActivationDate *time.Time `json:"activationDate,omitempty"`
	Years          int        `json:"years,omitempty"`
	AlreadyActive  bool       `json:"alreadyActive,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// StatusResponse answers GET /license/status.
type StatusResponse struct {
	Success        bool       `json:"success"`
	ActivationDate *time.Time `json:"activationDate,omitempty"`
	Years          int        `json:"years,omitempty"`
}

// CPUCoresResponse answers GET /system/cpu-cores.
type CPUCoresResponse struct {
	Success   bool      `json:"success"`
	Cores     int       `json:"cores"`
	CPUModel  string    `json:"cpuModel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status string    `json:"status"`
	TS     time.Time `json:"ts"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

// ToActivationResponse wraps a ledger result.
func ToActivationResponse(a model.Activation) ActivationResponse {
	return ActivationResponse{
		Success:        true,
		ActivationDate: utcPtr(a.ActivationDate),
		Years:          a.Years,
		AlreadyActive:  a.AlreadyActive,
	}
}

// ToStatusResponse wraps a found status. Callers answer 404 when st.Found is false.
func ToStatusResponse(st model.ActivationStatus) StatusResponse {
	return StatusResponse{Success: true, ActivationDate: utcPtr(st.ActivationDate), Years: st.Years}
}

// ToCPUCoresResponse wraps the core probe.
func ToCPUCoresResponse(c model.CPUInfo, now time.Time) CPUCoresResponse {
	return CPUCoresResponse{Success: true, Cores: c.Cores, CPUModel: c.Model, Timestamp: now.UTC()}
}

// --- client side ---

// FromActivationResponse validates and unwraps a success reply.
func FromActivationResponse(r ActivationResponse) (model.Activation, error) {
	if !r.Success || r.ActivationDate == nil || r.ActivationDate.IsZero() || r.Years < 1 {
		return model.Activation{}, ErrMalformedResponse
	}
	return model.Activation{ActivationDate: *r.ActivationDate, Years: r.Years, AlreadyActive: r.AlreadyActive}, nil
}

// FromStatusResponse validates and unwraps a found status reply.
func FromStatusResponse(r StatusResponse) (model.ActivationStatus, error) {
	if !r.Success || r.ActivationDate == nil || r.ActivationDate.IsZero() || r.Years < 1 {
		return model.ActivationStatus{}, ErrMalformedResponse
	}
	return model.ActivationStatus{Found: true, ActivationDate: *r.ActivationDate, Years: r.Years}, nil
}

// FromCPUCoresResponse validates and unwraps a core probe reply.
func FromCPUCoresResponse(r CPUCoresResponse) (model.CPUInfo, error) {
	if !r.Success || r.Cores < 1 {
		return model.CPUInfo{}, ErrMalformedResponse
	}
	return model.CPUInfo{Cores: r.Cores, Model: r.CPUModel}, nil
}
