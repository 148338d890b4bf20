package cerberus

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/config"
)

const (
	// SnapshotKey holds the *config.Snapshot captured for the request.
	SnapshotKey = "securitySnapshot"

	maxBodySample = 64 << 10
)

// Cerberus runs the request pipeline in front of the application handlers.
type Cerberus struct {
	store    *Store
	pipeline *Pipeline
	trusted  func(*http.Request) bool
}

// New wires the default stage order: reputation, rate limit, anomaly,
// pattern matching, CSRF.
func New(store *Store) *Cerberus {
	return &Cerberus{
		store: store,
		pipeline: NewPipeline(
			ReputationStage{store: store},
			RateStage{store: store},
			AnomalyStage{store: store},
			PatternStage{store: store},
			CSRFStage{store: store},
		),
	}
}

func (c *Cerberus) Store() *Store { return c.store }

func (c *Cerberus) Pipeline() *Pipeline { return c.pipeline }

// TrustWhen marks requests for which fn returns true as coming from an
// authenticated operator. Content matching skips trusted requests; every
// other stage still runs. Call it before serving.
func (c *Cerberus) TrustWhen(fn func(*http.Request) bool) { c.trusted = fn }

// Middleware returns a Gin middleware that runs every request through the
// pipeline and aborts with the error envelope when a stage terminates.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		snap := c.store.Live.Current()
		ctx.Set(SnapshotKey, snap)

		req := newRequest(ctx, snap)
		req.Trusted = c.trusted != nil && c.trusted(ctx.Request)
		res := c.pipeline.Run(req)
		for k := range res.Headers {
			ctx.Header(k, res.Headers.Get(k))
		}
		if res.Terminated() {
			v := res.Verdict
			response.Abort(ctx, v.Status, v.Message, v.Details)
			return
		}
		ctx.Next()
	}
}

// Snapshot returns the configuration captured for this request, or the
// current one when the pipeline did not run.
func (c *Cerberus) Snapshot(ctx *gin.Context) *config.Snapshot {
	if v, ok := ctx.Get(SnapshotKey); ok {
		if s, ok := v.(*config.Snapshot); ok {
			return s
		}
	}
	return c.store.Live.Current()
}

// SessionID reads the browser session from the cookie or the session header.
func SessionID(ctx *gin.Context) string {
	if v, err := ctx.Cookie(SessionCookieName); err == nil && v != "" {
		return v
	}
	return ctx.GetHeader(HeaderSessionID)
}

func newRequest(ctx *gin.Context, snap *config.Snapshot) *Request {
	req := ctx.Request
	size := req.ContentLength
	body := sampleBody(req)
	if size < 0 {
		size = int64(len(body))
	}
	return &Request{
		Method:      req.Method,
		Path:        req.URL.Path,
		RawQuery:    req.URL.RawQuery,
		Query:       req.URL.Query(),
		Host:        req.Host,
		Header:      req.Header,
		Origin:      ctx.ClientIP(),
		Session:     SessionID(ctx),
		UserAgent:   req.UserAgent(),
		ContentType: req.Header.Get("Content-Type"),
		Size:        size,
		Body:        body,
		RequestID:   ctx.GetString(response.RequestIDKey),
		ReceivedAt:  time.Now(),
		Config:      snap,
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}

// sampleBody reads up to maxBodySample bytes for inspection and puts them
// back in front of the unread remainder. Multipart bodies are left to the
// upload guard.
func sampleBody(req *http.Request) []byte {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type")); strings.HasPrefix(mt, "multipart/") {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(req.Body, maxBodySample))
	req.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(buf), req.Body), Closer: req.Body}
	if err != nil {
		return nil
	}
	return buf
}
