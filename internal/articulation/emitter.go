// Package articulation renders search progress and results on the output
// stream.
//
// The text format is line oriented, one prefix per line:
//
//	c  comment (progress)
//	s  verdict
//	a  answer (witness model and step)
//	e  error
//
// The JSON format prints a single report object and no progress lines.
package articulation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"recongo/internal/search"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Emitter handles output generation and formatting. It implements
// search.Observer and is safe for concurrent use.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	err    error

	// PrettyPrint indents JSON output.
	PrettyPrint bool
}

var _ search.Observer = (*Emitter)(nil)

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer, format Format) *Emitter {
	if format == "" {
		format = FormatText
	}
	return &Emitter{
		w:           w,
		format:      format,
		PrettyPrint: true,
	}
}

// Format returns the configured output format.
func (e *Emitter) Format() Format {
	return e.format
}

// Err returns the first write error, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) line(prefix string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return
	}
	elems := make([]string, 0, len(args)+1)
	elems = append(elems, prefix)
	for _, a := range args {
		elems = append(elems, fmt.Sprint(a))
	}
	if _, err := fmt.Fprintln(e.w, strings.Join(elems, " ")); err != nil {
		e.err = err
	}
}

func (e *Emitter) text() bool {
	return e.format == FormatText
}

// StepStarted prints "c Step: N".
func (e *Emitter) StepStarted(step int) {
	if e.text() {
		e.line("c", "Step:", step)
	}
}

// StepSkipped prints "c Skipping".
func (e *Emitter) StepSkipped(int) {
	if e.text() {
		e.line("c", "Skipping")
	}
}

// StepSolved prints the solve outcome.
func (e *Emitter) StepSolved(_ int, res search.Result) {
	if e.text() {
		e.line("c", "Result:", res.Outcome)
	}
}

// Failed prints the error line. JSON output carries the error in the report
// instead.
func (e *Emitter) Failed(_ int, err error) {
	if e.text() {
		e.EmitError(err)
	}
}

// Comment prints a free-form "c" line. JSON output drops it.
func (e *Emitter) Comment(msg string) {
	if e.text() {
		e.line("c", msg)
	}
}

// EmitError prints "e *** <kind> <message>" or, for JSON, an error object.
func (e *Emitter) EmitError(err error) {
	if err == nil {
		return
	}
	kind := search.Classify(err)
	if e.text() {
		e.line("e ***", kind, err.Error())
		return
	}
	_ = e.emitJSON(struct {
		Error     string           `json:"error"`
		ErrorKind search.ErrorKind `json:"error_kind"`
	}{Error: err.Error(), ErrorKind: kind})
}

// EmitReport prints the final verdict.
func (e *Emitter) EmitReport(report search.Report) error {
	if !e.text() {
		return e.emitJSON(report)
	}
	if report.Verdict == search.VerdictReachable {
		e.line("a", "Answer:", report.Model)
	}
	e.line("s", report.Verdict)
	e.line("a", "Step:", report.WitnessStep)
	return e.Err()
}

// Emit writes v as JSON.
func (e *Emitter) Emit(v any) error {
	return e.emitJSON(v)
}

func (e *Emitter) emitJSON(v any) error {
	var data []byte
	var err error

	if e.PrettyPrint {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if _, err := fmt.Fprintln(e.w, string(data)); err != nil {
		e.err = err
	}
	return e.err
}
