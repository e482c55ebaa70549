package mirror

import (
	"go.uber.org/zap"
)

// Kind classifies a non-fatal condition met during a run.
type Kind string

const (
	ClassificationFailure   Kind = "classification-failure"
	RelocationMiss          Kind = "relocation-miss"
	NetworkFetchFailure     Kind = "network-fetch-failure"
	StagingNonEmptyAtFinish Kind = "staging-non-empty"
	BulkFetchIncomplete     Kind = "bulk-fetch-incomplete"
	RewriteFailure          Kind = "rewrite-failure"
)

// Diagnostic is one warning collected during a run. None of them abort it;
// each means some reference still points at its original location.
type Diagnostic struct {
	Kind   Kind   `json:"kind"`
	Ref    string `json:"ref"`
	Detail string `json:"detail,omitempty"`
}

// Report accumulates diagnostics in the order they were raised.
type Report struct {
	log   *zap.Logger
	diags []Diagnostic
}

func newReport(log *zap.Logger) *Report {
	return &Report{log: log}
}

func (r *Report) add(kind Kind, ref string, detail string) {
	r.diags = append(r.diags, Diagnostic{Kind: kind, Ref: ref, Detail: detail})
	r.log.Warn("mirror warning",
		zap.String("kind", string(kind)),
		zap.String("ref", ref),
		zap.String("detail", detail))
}

func (r *Report) addErr(kind Kind, ref string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.add(kind, ref, detail)
}

// Diagnostics returns a copy of the collected list.
func (r *Report) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}
