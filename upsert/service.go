// Package upsert stores intake submissions as CRM leads: it finds the lead a
// submission belongs to, creates or updates it, and recovers from field
// level rejections.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/pkg/metrics"
	"github.com/phbpx/crm-intake/pkg/phone"
	"github.com/phbpx/crm-intake/pkg/validate"
	"go.uber.org/zap"
)

const (
	// MaxAttempts bounds the write/strip/retry loop.
	MaxAttempts = 8

	defaultAuditLogMax = 30000

	defaultSideEffectTimeout = 5 * time.Second
)

// DefaultMatchOrder is the identity priority for each submission kind.
func DefaultMatchOrder() map[intake.Kind][]intake.MatchKey {
	return map[intake.Kind][]intake.MatchKey{
		intake.KindComplete: {intake.MatchSession, intake.MatchEmail, intake.MatchPhone},
		intake.KindPartial:  {intake.MatchEmail, intake.MatchPhone, intake.MatchSession},
		intake.KindLead:     {intake.MatchSession, intake.MatchEmail, intake.MatchPhone},
	}
}

// Config tunes the submission pipeline.
type Config struct {
	MatchOrder  map[intake.Kind][]intake.MatchKey
	MaxAttempts int
	AuditLogMax int
	Diagnostics bool
	PhoneRegion string

	// SideEffectTimeout bounds each best effort call made after the lead is
	// stored: audit append, attachment upload and diagnostic task.
	SideEffectTimeout time.Duration
}

// Service implements intake.SubmissionService.
type Service struct {
	store       intake.LeadStore
	validator   *validate.Validator
	phone       phone.Normalizer
	order       map[intake.Kind][]intake.MatchKey
	maxAttempts int
	auditLogMax int
	diagnostics bool
	sideTimeout time.Duration
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService builds a Service writing to store.
func NewService(store intake.LeadStore, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Service {
	order := DefaultMatchOrder()
	for k, keys := range cfg.MatchOrder {
		if len(keys) > 0 {
			order[k] = keys
		}
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 || attempts > MaxAttempts {
		attempts = MaxAttempts
	}

	auditMax := cfg.AuditLogMax
	if auditMax <= 0 {
		auditMax = defaultAuditLogMax
	}

	sideTimeout := cfg.SideEffectTimeout
	if sideTimeout <= 0 {
		sideTimeout = defaultSideEffectTimeout
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Service{
		store:       store,
		validator:   validate.New(),
		phone:       phone.New(cfg.PhoneRegion),
		order:       order,
		maxAttempts: attempts,
		auditLogMax: auditMax,
		diagnostics: cfg.Diagnostics,
		sideTimeout: sideTimeout,
		log:         log,
		metrics:     m,
		now:         time.Now,
	}
}

// Submit creates or updates the lead sub belongs to.
func (s *Service) Submit(ctx context.Context, sub intake.Submission) (intake.Result, error) {
	file, err := s.validate(sub)
	if err != nil {
		s.metrics.Submission(kindLabel(sub.Kind), "invalid")
		return intake.Result{}, err
	}

	normalized := sub
	normalized.Phone = s.phone.E164(sub.Phone, sub.DialCode)

	id, key, err := s.match(ctx, normalized)
	if err != nil {
		s.failed(ctx, "match", sub, "", nil, err)
		return intake.Result{}, err
	}

	fields := mapSubmission(normalized)
	if id == "" {
		if _, ok := fields[fieldLastName]; !ok {
			fields[fieldLastName] = lastNamePlaceholder
		}
	}

	res, removed, err := s.write(ctx, id, fields)
	if err != nil {
		s.failed(ctx, "write", sub, id, removed, err)
		return intake.Result{}, err
	}

	s.log.Infow("Submit", "kind", sub.Kind, "action", res.Action, "record", res.RecordID, "matched_by", key, "removed", len(res.RemovedFields))
	s.metrics.Submission(string(sub.Kind), res.Action)

	if len(res.RemovedFields) > 0 {
		s.report(ctx, "recovery", sub, res.RecordID, res.RemovedFields, errors.New("fields rejected by the CRM were dropped"))
	}

	if err := s.sideEffect(ctx, func(ctx context.Context) error {
		return s.appendAudit(ctx, res, sub)
	}); err != nil {
		s.log.Errorw("Submit", "stage", "audit", "record", res.RecordID, "error", err.Error())
		s.report(ctx, "audit", sub, res.RecordID, nil, err)
	}

	if file != nil {
		if err := s.sideEffect(ctx, func(ctx context.Context) error {
			return s.store.AttachFile(ctx, res.RecordID, *file)
		}); err != nil {
			s.log.Errorw("Submit", "stage", "attachment", "record", res.RecordID, "error", err.Error())
			s.report(ctx, "attachment", sub, res.RecordID, nil, err)
		}
	}

	return res, nil
}

// sideEffect runs fn under its own deadline. It outlives a cancelled request
// so a disconnecting browser does not abort the audit trail.
func (s *Service) sideEffect(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) validate(sub intake.Submission) (*intake.File, error) {
	if err := s.validator.Struct(sub); err != nil {
		return nil, err
	}
	if !sub.HasIdentity() {
		return nil, intake.NewValidationError("", "one of session_id, email or phone is required")
	}
	if sub.Attachment == nil {
		return nil, nil
	}
	file, err := decodeAttachment(*sub.Attachment)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// match returns the id of the first lead found by the kind's identity
// order. Identities missing from the submission are skipped.
func (s *Service) match(ctx context.Context, sub intake.Submission) (string, intake.MatchKey, error) {
	for _, key := range s.order[sub.Kind] {
		value := sub.Identity(key)
		if value == "" {
			continue
		}

		id, ok, err := s.store.FindLead(ctx, intake.Match{Key: key, Fields: matchFields[key], Value: value})
		if err != nil {
			return "", "", err
		}
		if ok {
			s.log.Debugw("match", "kind", sub.Kind, "matched_by", key, "record", id)
			return id, key, nil
		}
	}
	return "", "", nil
}

// write creates or updates the lead, dropping fields the CRM rejects as
// duplicate or invalid and retrying up to maxAttempts times in total.
func (s *Service) write(ctx context.Context, id string, fields intake.Record) (intake.Result, []string, error) {
	payload := fields.Clone()
	var removed []string

	for attempt := 1; ; attempt++ {
		var err error
		res := intake.Result{RecordID: id, Action: intake.ActionUpdated}

		if id == "" {
			res.Action = intake.ActionCreated
			res.RecordID, err = s.store.CreateLead(ctx, payload)
		} else {
			err = s.store.UpdateLead(ctx, id, payload)
		}

		if err == nil {
			res.RemovedFields = removed
			return res, removed, nil
		}

		var rerr *intake.RemoteError
		if !errors.As(err, &rerr) || !rerr.Recoverable() {
			return intake.Result{}, removed, fmt.Errorf("%s lead: %w", verb(id), err)
		}
		if attempt >= s.maxAttempts {
			return intake.Result{}, removed, fmt.Errorf("%s lead after %d attempts: %w", verb(id), attempt, err)
		}

		dropped := strip(payload, rerr.Fields)
		if len(dropped) == 0 {
			return intake.Result{}, removed, fmt.Errorf("%s lead: %w", verb(id), err)
		}
		for _, f := range dropped {
			s.metrics.FieldRemoved(f)
		}
		removed = append(removed, dropped...)

		s.log.Warnw("write", "record", id, "code", rerr.Code, "removed", dropped, "attempt", attempt)
	}
}

// kindLabel keeps metric labels to the known kinds; anything else comes
// from an unvalidated body.
func kindLabel(k intake.Kind) string {
	if !k.Known() {
		return "unknown"
	}
	return string(k)
}

func verb(id string) string {
	if id == "" {
		return "creating"
	}
	return "updating"
}

// failed logs and reports a submission that could not be stored.
func (s *Service) failed(ctx context.Context, stage string, sub intake.Submission, id string, removed []string, err error) {
	outcome := "failed"
	var rerr *intake.RemoteError
	if errors.As(err, &rerr) && rerr.ClientSide() {
		outcome = "rejected"
	}
	s.metrics.Submission(string(sub.Kind), outcome)
	s.log.Errorw("Submit", "stage", stage, "kind", sub.Kind, "record", id, "outcome", outcome, "error", err.Error())
	s.report(ctx, stage, sub, id, removed, err)
}
