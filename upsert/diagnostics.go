package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	intake "github.com/phbpx/crm-intake"
)

// report writes a diagnostic task for an operator. It never fails the
// request; when the task itself cannot be written the failure is only logged.
func (s *Service) report(ctx context.Context, stage string, sub intake.Submission, leadID string, removed []string, cause error) {
	if !s.diagnostics {
		return
	}

	// Without a token there is no way to reach the CRM.
	var aerr *intake.AuthError
	if errors.As(cause, &aerr) {
		return
	}

	incident := uuid.NewString()

	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", incident)
	fmt.Fprintf(&b, "Stage: %s\n", stage)
	fmt.Fprintf(&b, "Submission kind: %s\n", sub.Kind)
	if leadID != "" {
		fmt.Fprintf(&b, "Lead: %s\n", leadID)
	}
	var rerr *intake.RemoteError
	if errors.As(cause, &rerr) {
		fmt.Fprintf(&b, "CRM status: %d\n", rerr.StatusCode)
		fmt.Fprintf(&b, "CRM code: %s\n", rerr.Code)
		if len(rerr.Fields) > 0 {
			fmt.Fprintf(&b, "CRM fields: %s\n", strings.Join(rerr.Fields, ", "))
		}
	}
	if len(removed) > 0 {
		fmt.Fprintf(&b, "Removed fields: %s\n", strings.Join(removed, ", "))
	}
	fmt.Fprintf(&b, "Error: %s\n\n", cause.Error())
	fmt.Fprintf(&b, "Submission:\n%s\n", snapshot(sub))

	subject := fmt.Sprintf("Intake %s failed (%s)", stage, sub.Kind)
	if stage == "recovery" {
		subject = fmt.Sprintf("Intake stored with fields dropped (%s)", sub.Kind)
	}

	task := intake.Task{
		Subject:     subject,
		Description: b.String(),
		LeadID:      leadID,
	}

	err := s.sideEffect(ctx, func(ctx context.Context) error {
		return s.store.CreateTask(ctx, task)
	})
	if err != nil {
		s.log.Errorw("report", "stage", stage, "incident", incident, "error", err.Error())
		return
	}
	s.metrics.DiagnosticTask(stage)
	s.log.Infow("report", "stage", stage, "incident", incident, "record", leadID)
}
