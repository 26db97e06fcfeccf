package model

import (
	"fmt"
	"slices"
	"strings"
)

// Step is one entry of the session's step history.
type Step string

const (
	StepStart              Step = "START"
	StepActionPlan         Step = "ACTION PLAN GENERATION"
	StepInformationSeeking Step = "INFORMATION SEEKING"
	StepLocalSensemaking   Step = "LOCAL SENSEMAKING"
	StepGlobalSensemaking  Step = "GLOBAL SENSEMAKING"
	StepEnd                Step = "END"
	StepPresentation       Step = "PRESENTATION"
	StepFinish             Step = "FINISH"
	StepInvalid            Step = "INVALID STATE"
)

// UnavailableMarker tags understanding and memory text for facts confirmed unavailable.
const UnavailableMarker = "CODE-999"

const (
	IncompleteQueryAnswer = "Incomplete query or instructions"
	// UnansweredAnswer prefixes the degraded answer when presentation fails.
	UnansweredAnswer = "The query could not be answered"
)

// UnavailableNote is the CODE-999 note appended when a request is not answerable.
func UnavailableNote(subject string) string {
	return fmt.Sprintf("Not possible to answer %s using the available data. %s.", subject, UnavailableMarker)
}

// Query is the immutable session input.
type Query struct {
	Text         string `json:"query"`
	Instructions string `json:"instructions"`
}

// Complete reports whether both the question and the presentation instructions are present.
func (q Query) Complete() bool {
	return strings.TrimSpace(q.Text) != "" && strings.TrimSpace(q.Instructions) != ""
}

// InformationRequest is one entry of the information-request log.
type InformationRequest struct {
	Domains []string `json:"domains"`
	Request string   `json:"request"`
}

func (r InformationRequest) String() string {
	return fmt.Sprintf("[%s]: %s", strings.Join(r.Domains, ", "), r.Request)
}

// MemoryBlock is one appended question/answer pair, or a CODE-999 note.
type MemoryBlock struct {
	Request string   `json:"request"`
	Domains []string `json:"domains,omitempty"`
	Answer  string   `json:"answer,omitempty"`
	Note    string   `json:"note,omitempty"`
}

func (b MemoryBlock) String() string {
	if b.Note != "" {
		return b.Note
	}
	return fmt.Sprintf("Question: \n %s \n\n Database: \n [%s] \n\n Answer: \n %s\n\n",
		b.Request, strings.Join(b.Domains, ", "), b.Answer)
}

// pending tracks the INF pass in flight between information seeking and global sensemaking.
type pending struct {
	request    InformationRequest
	results    []CallResult
	summary    string
	summarized bool
}

// Session is the per-query context threaded through the controller. It is a value:
// every With* method returns a new Session and never mutates the receiver or any
// slice it shares with other copies.
type Session struct {
	id            string
	query         Query
	plan          string
	memory        []MemoryBlock
	understanding string
	requests      []InformationRequest
	calls         []FunctionCallRecord
	steps         []Step
	decision      Decision
	iterations    int
	answer        string
	answered      bool
	pending       *pending
}

func NewSession(id string, q Query) Session {
	return Session{id: id, query: q}
}

func (s Session) ID() string            { return s.id }
func (s Session) Query() Query          { return s.query }
func (s Session) Plan() string          { return s.plan }
func (s Session) Understanding() string { return s.understanding }
func (s Session) Decision() Decision    { return s.decision }
func (s Session) Iterations() int       { return s.iterations }
func (s Session) Answer() string        { return s.answer }
func (s Session) Answered() bool        { return s.answered }

func (s Session) Memory() []MemoryBlock { return slices.Clone(s.memory) }

func (s Session) Requests() []InformationRequest { return slices.Clone(s.requests) }

func (s Session) Calls() []FunctionCallRecord { return slices.Clone(s.calls) }

func (s Session) Steps() []Step { return slices.Clone(s.steps) }

// LastStep returns the most recent step, or "" for a fresh session.
func (s Session) LastStep() Step {
	if len(s.steps) == 0 {
		return ""
	}
	return s.steps[len(s.steps)-1]
}

// MemoryText renders memory the way every agent prompt receives it.
func (s Session) MemoryText() string {
	var b strings.Builder
	for _, block := range s.memory {
		b.WriteString("\n\n")
		b.WriteString(block.String())
	}
	return b.String()
}

// HasUnavailable reports whether the understanding carries the CODE-999 marker.
func (s Session) HasUnavailable() bool {
	return strings.Contains(s.understanding, UnavailableMarker)
}

func (s Session) WithStep(step Step) Session {
	s.steps = append(slices.Clip(s.steps), step)
	return s
}

func (s Session) WithPlan(plan string) Session {
	s.plan = plan
	return s
}

func (s Session) WithDecision(d Decision) Session {
	s.decision = d
	return s
}

// WithAnswer stores the terminal answer.
func (s Session) WithAnswer(answer string) Session {
	s.answer = answer
	s.answered = true
	return s
}

// WithUnavailableNote appends a CODE-999 note to both memory and understanding.
func (s Session) WithUnavailableNote(subject string) Session {
	note := UnavailableNote(subject)
	s.memory = append(slices.Clip(s.memory), MemoryBlock{Request: subject, Note: note})
	s.understanding += "\n\n" + note
	return s
}

// WithUnderstanding replaces the understanding. An empty rewrite keeps the old
// text, and CODE-999 notes dropped by the rewrite are carried forward.
func (s Session) WithUnderstanding(next string) Session {
	if strings.TrimSpace(next) == "" {
		return s
	}
	if strings.Contains(s.understanding, UnavailableMarker) && !strings.Contains(next, UnavailableMarker) {
		for _, line := range strings.Split(s.understanding, "\n") {
			if strings.Contains(line, UnavailableMarker) {
				next += "\n\n" + strings.TrimSpace(line)
			}
		}
	}
	s.understanding = next
	return s
}

// WithRequest logs an information request and opens an INF pass for it.
func (s Session) WithRequest(r InformationRequest) Session {
	r.Domains = slices.Clone(r.Domains)
	s.requests = append(slices.Clip(s.requests), r)
	s.pending = &pending{request: r}
	return s
}

// WithResults attaches database results to the open pass and appends them to the call log.
func (s Session) WithResults(results []CallResult) Session {
	if s.pending == nil {
		return s
	}
	p := *s.pending
	p.results = slices.Clone(results)
	s.pending = &p
	calls := slices.Clip(s.calls)
	for _, r := range results {
		calls = append(calls, r.Record())
	}
	s.calls = calls
	return s
}

// WithLocalSummary appends the pass's {request, domains, summary} block to memory.
func (s Session) WithLocalSummary(summary string) Session {
	if s.pending == nil {
		return s
	}
	p := *s.pending
	p.summary = summary
	p.summarized = true
	s.pending = &p
	s.memory = append(slices.Clip(s.memory), MemoryBlock{
		Request: p.request.Request,
		Domains: slices.Clone(p.request.Domains),
		Answer:  summary,
	})
	return s
}

// CompleteIteration closes the open pass and counts it toward the iteration cap.
func (s Session) CompleteIteration() Session {
	s.pending = nil
	s.iterations++
	return s
}

// AbandonRequest closes the open pass without counting it.
func (s Session) AbandonRequest() Session {
	s.pending = nil
	return s
}

// PendingRequest returns the open pass's request.
func (s Session) PendingRequest() (InformationRequest, bool) {
	if s.pending == nil {
		return InformationRequest{}, false
	}
	return s.pending.request, true
}

// PendingResults returns the database results of the open pass.
func (s Session) PendingResults() []CallResult {
	if s.pending == nil {
		return nil
	}
	return slices.Clone(s.pending.results)
}

// PendingSummarized reports whether the open pass already has its memory block.
func (s Session) PendingSummarized() bool {
	return s.pending != nil && s.pending.summarized
}

// Result renders the session for callers and persistence.
func (s Session) Result() Result {
	steps := make([]string, len(s.steps))
	for i, st := range s.steps {
		steps[i] = string(st)
	}
	requests := make([]string, len(s.requests))
	for i, r := range s.requests {
		requests[i] = r.String()
	}
	return Result{
		SessionID:           s.id,
		Query:               s.query.Text,
		Instructions:        s.query.Instructions,
		Answer:              s.answer,
		StepHistory:         steps,
		Memory:              s.MemoryText(),
		Understanding:       s.understanding,
		ActionPlan:          s.plan,
		FunctionCalls:       s.Calls(),
		InformationRequests: requests,
		Iterations:          s.iterations,
	}
}
