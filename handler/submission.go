package handler

import (
	"errors"
	"net/http"

	intake "github.com/phbpx/crm-intake"
	"go.uber.org/zap"
)

type submissionResponse struct {
	Success       bool     `json:"success"`
	Action        string   `json:"action,omitempty"`
	RecordID      string   `json:"record_id,omitempty"`
	RemovedFields []string `json:"removed_fields,omitempty"`
	Warning       string   `json:"warning,omitempty"`
	Detail        string   `json:"detail,omitempty"`
}

type SubmissionHandler struct {
	service  intake.SubmissionService
	maxBytes int64
	log      *zap.SugaredLogger
}

func NewSubmissionHandler(service intake.SubmissionService, maxBytes int64, log *zap.SugaredLogger) *SubmissionHandler {
	return &SubmissionHandler{
		service:  service,
		maxBytes: maxBytes,
		log:      log,
	}
}

func (sh SubmissionHandler) Create(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub intake.Submission

	if err := decode(rw, r, &sub, sh.maxBytes); err != nil {
		sh.log.Infow("Create", "error", "undecodable body")
		if errors.Is(err, errBodyTooLarge) {
			respondErr(ctx, rw, http.StatusRequestEntityTooLarge, err)
			return
		}
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("body must be a JSON submission object"))
		return
	}

	res, err := sh.service.Submit(ctx, sub)
	if err != nil {
		var verr *intake.ValidationError
		var aerr *intake.AuthError
		var rerr *intake.RemoteError
		switch {
		case errors.As(err, &verr):
			respondErr(ctx, rw, http.StatusBadRequest, verr)
		case errors.As(err, &aerr):
			// Needs an operator; resending will fail the same way.
			sh.log.Errorw("Create", "error", aerr.Error())
			respondErr(ctx, rw, http.StatusInternalServerError, errors.New("submission could not be stored"))
		case errors.As(err, &rerr) && rerr.ClientSide():
			// Resending the same payload cannot succeed; the failure is
			// already queued for an operator in the CRM.
			respond(ctx, rw, http.StatusOK, submissionResponse{
				Success: true,
				Warning: "crm_rejected",
				Detail:  rerr.Code,
			})
		default:
			respondRetryable(ctx, rw, http.StatusInternalServerError, errors.New("submission could not be stored"))
		}
		return
	}

	respond(ctx, rw, http.StatusOK, submissionResponse{
		Success:       true,
		Action:        res.Action,
		RecordID:      res.RecordID,
		RemovedFields: res.RemovedFields,
	})
}
