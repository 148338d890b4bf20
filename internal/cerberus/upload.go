package cerberus

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/filescan"
	"github.com/Wikid82/argus/internal/metrics"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/util"
)

// UploadKey holds the *ScannedUpload for handlers behind UploadGuard.
const UploadKey = "scannedUpload"

// multipartSlack covers form boundaries and headers around the file part.
const multipartSlack = 1 << 20

// ScannedUpload is what UploadGuard hands to the next handler. Outcome is
// nil when file scanning is disabled.
type ScannedUpload struct {
	Upload  filescan.Upload
	Outcome *filescan.Outcome
}

// UploadGuard stores the multipart file under the upload root, scans it on
// the worker pool and only lets clean files through.
func (c *Cerberus) UploadGuard(field string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		st := c.store
		if st.Pool == nil {
			response.Abort(ctx, http.StatusInternalServerError, "uploads are not configured", nil)
			return
		}
		limit := st.cfg.MaxUploadBytes
		if limit <= 0 {
			limit = filescan.DefaultMaxBytes
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit+multipartSlack)

		fh, err := ctx.FormFile(field)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				response.Abort(ctx, http.StatusRequestEntityTooLarge, "upload exceeds size limit", nil)
				return
			}
			response.Abort(ctx, http.StatusBadRequest, "multipart field \""+field+"\" is required", nil)
			return
		}
		if fh.Size > limit {
			response.Abort(ctx, http.StatusRequestEntityTooLarge, "upload exceeds size limit", nil)
			return
		}

		up := filescan.Upload{
			Path:     filepath.Join(st.Scanner.UploadRoot(), uuid.NewString()+uploadExt(fh.Filename)),
			Filename: fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
		}
		if err := ctx.SaveUploadedFile(fh, up.Path); err != nil {
			ctx.Error(err)
			response.Abort(ctx, http.StatusInternalServerError, "failed to store upload", nil)
			return
		}

		if !c.Snapshot(ctx).Flags.FileScan {
			ctx.Header(HeaderScan, "skipped")
			ctx.Set(UploadKey, &ScannedUpload{Upload: up})
			ctx.Next()
			return
		}

		origin := ctx.ClientIP()
		// Submit only fails before a worker takes the job, so the file is
		// still ours to discard.
		out, err := st.Pool.Submit(ctx.Request.Context(), up)
		if err != nil {
			_ = st.Scanner.Discard(up)
			ctx.Error(err)
			response.Abort(ctx, http.StatusServiceUnavailable, "file scanner unavailable", nil)
			return
		}
		metrics.ObserveScan(string(out.Action), time.Duration(out.Result.DurationMs)*time.Millisecond)
		st.fireScan(origin, up, out)

		if out.Action == filescan.ActionClean {
			ctx.Header(HeaderScan, "clean")
			ctx.Set(UploadKey, &ScannedUpload{Upload: up, Outcome: &out})
			ctx.Next()
			return
		}

		c.rejectUpload(ctx, origin, up, out)
	}
}

func (c *Cerberus) rejectUpload(ctx *gin.Context, origin string, up filescan.Upload, out filescan.Outcome) {
	st := c.store
	sev := out.Result.Severity
	if out.ScanErr != nil {
		sev = signatures.Max(sev, signatures.SeverityHigh)
	} else if len(out.Result.Findings) > 0 || out.Result.HashMatch != "" {
		st.Reputation.RecordSuspicious(origin, "malicious-upload", sev)
	}

	e := events.Event{
		Type:      events.TypeFileScan,
		Severity:  sev,
		Origin:    origin,
		Method:    ctx.Request.Method,
		Path:      util.LogSafe(ctx.Request.URL.Path, 256),
		RequestID: ctx.GetString(response.RequestIDKey),
		Detail:    uploadDetail(up, out),
		Action:    string(out.Action),
		Outcome:   events.OutcomeBlocked,
	}
	if out.Action == filescan.ActionQuarantined {
		e.Outcome = events.OutcomeQuarantined
	}
	st.Record(e)

	ctx.Header(HeaderScan, string(out.Action))
	findings := out.Result.Findings
	if findings == nil {
		findings = []signatures.Summary{}
	}
	response.Abort(ctx, http.StatusForbidden, "File rejected by security scan", map[string]interface{}{
		"scan_id":  out.Result.ScanID,
		"action":   out.Action,
		"severity": sev.String(),
		"findings": findings,
	})
}

func uploadDetail(up filescan.Upload, out filescan.Outcome) string {
	name := util.LogSafe(up.Filename, 128)
	if out.ScanErr != nil {
		return "scan failed for " + name + ": " + out.ScanErr.Error()
	}
	ids := make([]string, 0, len(out.Result.Findings))
	for _, f := range out.Result.Findings {
		ids = append(ids, f.ID)
	}
	return "upload " + name + " matched " + strings.Join(ids, ",")
}

// uploadExt keeps a short alphanumeric extension from the client filename.
func uploadExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	return ext
}
