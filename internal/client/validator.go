package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/model"
)

// StatusMaxCores is the deployment-wide core ceiling reported by the status path.
const StatusMaxCores = licensekey.MaxCores

// User-facing messages.
const (
	MsgKeyRejected      = "Invalid license key format"
	MsgServerNotFound   = "License server not found"
	MsgServerError      = "License server error - please try again"
	MsgCannotConnect    = "Cannot connect to license server"
	MsgRateLimited      = "Too many activation attempts - please try again later"
	MsgActivationFailed = "License activation failed"
	MsgAlreadyActive    = "This license key is already active for this deployment"
)

const expiryDateLayout = "2006-01-02"

// State is a stage of one validation attempt.
type State int

const (
	StateIdle State = iota
	StateLocallyChecked
	StateServerSubmitted
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateLocallyChecked:
		return "locally_checked"
	case StateServerSubmitted:
		return "server_submitted"
	case StateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Validator runs the client-side verification sequence: local key check, activation
// round-trip, then expiry and core evaluation. Every outcome is a model.LicenseInfo.
type Validator struct {
	signer *licensekey.Signer
	api    API
	cores  CoreSource
	now    func() time.Time
	log    *zap.Logger
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ValidatorOption { return func(v *Validator) { v.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ValidatorOption { return func(v *Validator) { v.log = l } }

// NewValidator constructs a Validator. A nil cores counts local processors.
func NewValidator(signer *licensekey.Signer, api API, cores CoreSource, opts ...ValidatorOption) *Validator {
	v := &Validator{signer: signer, api: api, cores: cores, now: time.Now, log: zap.NewNop()}
	if v.cores == nil {
		v.cores = LocalCores{}
	}
	for _, o := range opts {
		o(v)
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	return v
}

// attempt tracks one pass through the state machine.
type attempt struct {
	state State
	log   *zap.Logger
}

func (a *attempt) to(s State) {
	a.log.Debug("license validation", zap.Stringer("from", a.state), zap.Stringer("to", s))
	a.state = s
}

// Cores reports the core count and warning of the configured source.
func (v *Validator) Cores(ctx context.Context) (int, string) { return v.cores.Cores(ctx) }

// ValidateKey verifies key locally, submits it to the ledger and evaluates the result.
func (v *Validator) ValidateKey(ctx context.Context, key string) model.LicenseInfo {
	actual, warning := v.cores.Cores(ctx)
	return v.validate(ctx, key, actual, warning, false)
}

// validate runs one attempt. With known set, a duplicate submission is expected and
// produces no warning.
func (v *Validator) validate(ctx context.Context, key string, actual int, warning string, known bool) model.LicenseInfo {
	at := &attempt{state: StateIdle, log: v.log}

	ent, err := v.signer.Verify(key)
	if err != nil {
		at.to(StateResolved)
		return model.LicenseInfo{ActualCores: actual, Error: localMessage(err), Warning: warning}
	}
	at.to(StateLocallyChecked)

	at.to(StateServerSubmitted)
	act, err := v.api.Activate(ctx, licensekey.Normalize(key))
	if err != nil {
		at.to(StateResolved)
		v.log.Info("activation failed", zap.Stringer("kind", KindOf(err)), zap.Error(err))
		return model.LicenseInfo{
			MaxCores:    ent.MaxCores,
			ActualCores: actual,
			Error:       serverMessage(err),
			Warning:     warning,
		}
	}
	at.to(StateResolved)

	if act.AlreadyActive && !known {
		warning = joinWarnings(warning, MsgAlreadyActive)
	}
	info := v.evaluate(act.ActivationDate, act.Years, ent.MaxCores, actual)
	info.LicenseID = ent.LicenseID
	info.Warning = warning
	if info.Error == "" && info.Expired() {
		info.Error = "License expired on " + info.ExpirationDate.Format(expiryDateLayout)
	}
	return info
}

// CheckServerStatus evaluates the deployment record without a key.
func (v *Validator) CheckServerStatus(ctx context.Context) model.LicenseInfo {
	actual, warning := v.cores.Cores(ctx)
	return v.checkStatus(ctx, actual, warning)
}

func (v *Validator) checkStatus(ctx context.Context, actual int, warning string) model.LicenseInfo {
	st, err := v.api.Status(ctx)
	if err != nil || !st.Found {
		if err != nil {
			v.log.Info("status check failed", zap.Stringer("kind", KindOf(err)), zap.Error(err))
		}
		return model.LicenseInfo{ActualCores: actual, Warning: warning}
	}

	info := v.evaluate(st.ActivationDate, st.Years, StatusMaxCores, actual)
	info.Warning = warning
	if info.Expired() && info.Error == "" {
		info.Error = "Server license expired on " + info.ExpirationDate.Format(expiryDateLayout)
	}
	return info
}

// evaluate applies the expiry and core rules. Error is set only for the core limit.
func (v *Validator) evaluate(activated time.Time, years, maxCores, actual int) model.LicenseInfo {
	now := v.now()
	activated = activated.UTC()
	expiry := activated.AddDate(years, 0, 0)
	expired := now.After(expiry)
	coresOk := actual <= maxCores
	valid := !expired && coresOk
	days := daysRemaining(expiry, now)

	info := model.LicenseInfo{
		IsValid:        valid,
		IsPro:          valid,
		MaxCores:       maxCores,
		ActualCores:    actual,
		ActivationDate: &activated,
		ExpirationDate: &expiry,
		DaysRemaining:  &days,
		IsExpired:      &expired,
	}
	if !coresOk {
		info.Error = fmt.Sprintf("License allows %d cores, machine has %d", maxCores, actual)
	}
	return info
}

func daysRemaining(expiry, now time.Time) int {
	d := expiry.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(24*time.Hour)))
}

func localMessage(err error) string {
	var ke *licensekey.Error
	if errors.As(err, &ke) {
		return ke.Reason.Message()
	}
	return licensekey.Reason("").Message()
}

func serverMessage(err error) string {
	switch KindOf(err) {
	case FailureBadRequest:
		return MsgKeyRejected
	case FailureNotFound:
		return MsgServerNotFound
	case FailureServer:
		return MsgServerError
	case FailureNetwork:
		return MsgCannotConnect
	case FailureRateLimited:
		return MsgRateLimited
	default:
		return MsgActivationFailed
	}
}

func joinWarnings(ws ...string) string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, "; ")
}
