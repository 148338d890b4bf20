package cerberus

import (
	"net/http"
	"net/url"
	"time"

	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/metrics"
)

// Action is what a stage wants done with the request.
type Action int

const (
	// Continue passes the request to the next stage untouched.
	Continue Action = iota
	// Annotate passes the request on with extra response headers.
	Annotate
	// Terminate ends the request with Status and Message.
	Terminate
)

func (a Action) String() string {
	switch a {
	case Annotate:
		return "annotate"
	case Terminate:
		return "terminate"
	default:
		return "continue"
	}
}

// Verdict is one stage's decision.
type Verdict struct {
	Action  Action
	Status  int
	Message string
	Details map[string]interface{}
	Headers map[string]string
}

// Pass continues without annotations.
func Pass() Verdict { return Verdict{Action: Continue} }

// Mark continues and adds headers to the eventual response.
func Mark(headers map[string]string) Verdict {
	return Verdict{Action: Annotate, Headers: headers}
}

// Deny terminates the request.
func Deny(status int, message string, details map[string]interface{}) Verdict {
	return Verdict{Action: Terminate, Status: status, Message: message, Details: details}
}

// Request is the read-only view of an incoming request the stages inspect.
// Config is the snapshot captured when the request entered the pipeline.
type Request struct {
	Method      string
	Path        string
	RawQuery    string
	Query       url.Values
	Host        string
	Header      http.Header
	Origin      string
	Session     string
	UserAgent   string
	ContentType string
	Size        int64
	Body        []byte
	RequestID   string
	ReceivedAt  time.Time
	Config      *config.Snapshot

	// Trusted is set for requests carrying operator credentials.
	Trusted bool
}

// Stage is one detector in the pipeline.
type Stage interface {
	Name() string
	Inspect(r *Request) Verdict
}

// Result is the combined outcome of a pipeline run.
type Result struct {
	Verdict Verdict
	// Stage names the stage that terminated the request, if any.
	Stage   string
	Headers http.Header
}

// Terminated reports whether a stage stopped the request.
func (r Result) Terminated() bool { return r.Verdict.Action == Terminate }

// Pipeline runs stages in a fixed order. The first Terminate wins; Annotate
// headers accumulate and are kept on termination.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	out := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Name())
	}
	return out
}

// Run evaluates r against every stage.
func (p *Pipeline) Run(r *Request) Result {
	metrics.IncInspected()
	res := Result{Verdict: Pass(), Headers: http.Header{}}
	for _, s := range p.stages {
		v := s.Inspect(r)
		for k, val := range v.Headers {
			res.Headers.Set(k, val)
		}
		if v.Action == Continue {
			continue
		}
		metrics.IncStageDecision(s.Name(), v.Action.String())
		if v.Action == Terminate {
			res.Verdict = v
			res.Stage = s.Name()
			return res
		}
	}
	return res
}
