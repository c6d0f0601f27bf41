package upsert

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	intake "github.com/phbpx/crm-intake"
)

// snapshot renders sub as JSON with attachment content replaced by its size.
func snapshot(sub intake.Submission) string {
	if sub.Attachment != nil {
		a := *sub.Attachment
		a.Data = fmt.Sprintf("<%d base64 chars omitted>", len(a.Data))
		sub.Attachment = &a
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Sprintf("{\"error\":%q}", err.Error())
	}
	return string(raw)
}

func auditEntry(at time.Time, sub intake.Submission) string {
	return "[" + at.UTC().Format(time.RFC3339) + "] " + snapshot(sub)
}

// appendEntry adds entry as the newest line of log, dropping the oldest
// lines until the result fits in limit characters.
func appendEntry(log, entry string, limit int) string {
	out := entry
	if trimmed := strings.TrimRight(log, "\n"); trimmed != "" {
		out = trimmed + "\n" + entry
	}

	for utf8.RuneCountInString(out) > limit {
		i := strings.IndexByte(out, '\n')
		if i < 0 {
			break
		}
		out = out[i+1:]
	}

	if n := utf8.RuneCountInString(out); n > limit {
		runes := []rune(out)
		out = string(runes[n-limit:])
	}
	return out
}

func (s *Service) appendAudit(ctx context.Context, res intake.Result, sub intake.Submission) error {
	var existing string
	if res.Action == intake.ActionUpdated {
		v, err := s.store.LeadField(ctx, res.RecordID, fieldSubmissionLog)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
		existing = v
	}

	log := appendEntry(existing, auditEntry(s.now(), sub), s.auditLogMax)
	if err := s.store.UpdateLead(ctx, res.RecordID, intake.Record{fieldSubmissionLog: log}); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// decodeAttachment turns the base64 payload, optionally a data URL, into a
// file ready for upload.
func decodeAttachment(a intake.Attachment) (intake.File, error) {
	data := strings.TrimSpace(a.Data)
	contentType := strings.TrimSpace(a.ContentType)

	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 || !strings.HasSuffix(data[:comma], ";base64") {
			return intake.File{}, intake.NewValidationError("attachment.data", "unsupported data URL")
		}
		if contentType == "" {
			contentType = strings.TrimSuffix(strings.TrimPrefix(data[:comma], "data:"), ";base64")
		}
		data = data[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return intake.File{}, intake.NewValidationError("attachment.data", "must be base64 encoded")
		}
	}
	if len(raw) == 0 {
		return intake.File{}, intake.NewValidationError("attachment.data", "is empty")
	}

	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}

	return intake.File{
		Name:        strings.TrimSpace(a.Filename),
		ContentType: contentType,
		Data:        raw,
	}, nil
}
