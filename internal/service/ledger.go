// Package service contains the activation ledger application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/errs"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/limiter"
	"github.com/and161185/keyledger/internal/metrics"
	"github.com/and161185/keyledger/internal/model"
	"github.com/and161185/keyledger/internal/repository"
)

// hashPrefixLen is how much of a key hash may appear in logs.
const hashPrefixLen = 12

// LedgerService defines the server-side activation operations of one deployment.
type LedgerService interface {
	// Submit re-verifies key and credits its hash to the deployment record.
	// Invalid keys fail with errs.ErrInvalidKey wrapping a *licensekey.Error.
	Submit(ctx context.Context, key, remoteAddr string) (model.Activation, error)
	// Status returns the current record, tagged Found=false when none exists.
	Status(ctx context.Context) (model.ActivationStatus, error)
}

// LedgerServiceImpl is the default LedgerService.
type LedgerServiceImpl struct {
	repo         repository.ActivationRepository
	signer       *licensekey.Signer
	deploymentID string
	lim          limiter.Limiter
	met          *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time
}

// Option customizes LedgerServiceImpl.
type Option func(*LedgerServiceImpl)

// WithLimiter enables brute-force throttling of failed submissions.
func WithLimiter(l limiter.Limiter) Option { return func(s *LedgerServiceImpl) { s.lim = l } }

// WithMetrics records submission and status outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *LedgerServiceImpl) { s.met = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *LedgerServiceImpl) { s.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *LedgerServiceImpl) { s.now = now } }

// NewLedgerService constructs the ledger for a single deployment identifier.
func NewLedgerService(
	repo repository.ActivationRepository, signer *licensekey.Signer, deploymentID string, opts ...Option,
) *LedgerServiceImpl {
	s := &LedgerServiceImpl{
		repo:         repo,
		signer:       signer,
		deploymentID: deploymentID,
		log:          zap.NewNop(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

var _ LedgerService = (*LedgerServiceImpl)(nil)

// Submit verifies the key server-side, applies the failure limiter and credits the hash.
func (s *LedgerServiceImpl) Submit(ctx context.Context, key, remoteAddr string) (model.Activation, error) {
	var ipHash []byte
	if s.lim != nil {
		ipHash = limiter.HashIP(remoteAddr)
		allowed, retry, err := s.lim.Allow(ctx, ipHash)
		if err != nil {
			s.met.Submission(metrics.OutcomeError)
			return model.Activation{}, fmt.Errorf("limiter: %w", err)
		}
		if !allowed {
			s.met.Submission(metrics.OutcomeRateLimited)
			s.log.Warn("activation throttled", zap.Duration("retry_after", retry))
			return model.Activation{}, errs.ErrRateLimited
		}
	}

	if _, err := s.signer.Verify(key); err != nil {
		var ke *licensekey.Error
		reason := licensekey.ReasonFormat
		if errors.As(err, &ke) {
			reason = ke.Reason
		}
		s.log.Info("activation rejected", zap.String("reason", string(reason)))

		if s.lim != nil {
			// the rejected request itself still answers as invalid; only later ones are refused
			if blocked, retry, ferr := s.lim.Failure(ctx, ipHash); ferr != nil {
				s.log.Warn("record activation failure", zap.Error(ferr))
			} else if blocked {
				s.log.Warn("activation source blocked", zap.Duration("retry_after", retry))
			}
		}
		s.met.Submission(metrics.OutcomeInvalid)
		return model.Activation{}, fmt.Errorf("%w: %w", errs.ErrInvalidKey, err)
	}

	hash := licensekey.Hash(s.signer.Primitives(), key)
	rec, credited, err := s.repo.Credit(ctx, s.deploymentID, hash, s.now())
	if err != nil {
		s.met.Submission(metrics.OutcomeError)
		s.log.Error("credit activation", zap.String("hash_prefix", hash[:hashPrefixLen]), zap.Error(err))
		return model.Activation{}, fmt.Errorf("credit activation: %w", err)
	}

	if s.lim != nil {
		_ = s.lim.Success(ctx, ipHash)
	}

	outcome := metrics.OutcomeCredited
	if !credited {
		outcome = metrics.OutcomeDuplicate
	}
	s.met.Submission(outcome)
	s.met.SetYears(rec.Years)
	s.log.Info("activation submitted",
		zap.String("hash_prefix", hash[:hashPrefixLen]),
		zap.Bool("credited", credited),
		zap.Int("years", rec.Years),
	)

	return model.Activation{
		ActivationDate: rec.ActivationDate,
		Years:          rec.Years,
		AlreadyActive:  !credited,
	}, nil
}

// Status reports the deployment record. Absence is not an error.
func (s *LedgerServiceImpl) Status(ctx context.Context) (model.ActivationStatus, error) {
	rec, err := s.repo.Get(ctx, s.deploymentID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.met.StatusRequest(metrics.StatusNotFound)
		return model.ActivationStatus{}, nil
	case err != nil:
		s.met.StatusRequest(metrics.StatusError)
		return model.ActivationStatus{}, fmt.Errorf("load activation: %w", err)
	}
	s.met.StatusRequest(metrics.StatusFound)
	s.met.SetYears(rec.Years)
	return model.ActivationStatus{
		Found:          true,
		ActivationDate: rec.ActivationDate,
		Years:          rec.Years,
	}, nil
}
