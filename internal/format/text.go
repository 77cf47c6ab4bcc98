package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/runwatch/internal/engine"
	"github.com/roach88/runwatch/internal/ir"
)

// ANSI escape sequences.
const (
	reset  = "\x1b[0m"
	bold   = "\x1b[1m"
	gray   = "\x1b[90m"
	green  = "\x1b[32m"
	red    = "\x1b[31m"
	yellow = "\x1b[33m"
	cyan   = "\x1b[36m"
)

const (
	labelWidth = 12
	idWidth    = 23
)

// TextOptions controls text rendering.
type TextOptions struct {
	// Color enables ANSI escape sequences.
	Color bool

	// ShowRepo prefixes each line with owner/name. Useful when watching
	// several repositories.
	ShowRepo bool
}

type painter bool

func (p painter) paint(code, s string) string {
	if !p {
		return s
	}
	return code + s + reset
}

// Text renders e as a single line without a trailing newline.
func Text(e engine.Emitted, opts TextOptions) string {
	p := painter(opts.Color)

	var label, labelColor, id, detail string
	switch ev := e.Event.(type) {
	case ir.RunQueued:
		label, labelColor = "RUN_QUEUED", yellow
		id = strconv.FormatInt(ev.RunID, 10)
		detail = p.paint(bold, ev.Branch) + " @ " + p.paint(gray, ShortSHA(ev.CommitSHA))
	case ir.JobStarted:
		label, labelColor = "JOB_START", cyan
		id = jobID(ev.Job)
		detail = "Name: " + ev.JobName
	case ir.JobFinished:
		label, labelColor = "JOB_"+outcome(ev.Conclusion), conclusionColor(ev.Conclusion)
		id = jobID(ev.Job)
		detail = "Status: " + strings.ToUpper(string(ev.Conclusion))
	case ir.StepStarted:
		label, labelColor = "STEP_START", gray
		id = stepID(ev.Step)
		detail = "Step: " + ev.StepName
	case ir.StepFinished:
		label, labelColor = "STEP_"+outcome(ev.Conclusion), conclusionColor(ev.Conclusion)
		id = stepID(ev.Step)
		detail = "Result: " + strings.ToUpper(string(ev.Conclusion))
	default:
		label, labelColor = strings.ToUpper(string(e.Event.Kind())), gray
		id = strconv.FormatInt(e.Event.Run(), 10)
	}

	var b strings.Builder
	b.WriteString(p.paint(gray, "["+Instant(e.Event.OccurredAt())+"]"))
	b.WriteByte(' ')
	if opts.ShowRepo {
		b.WriteString(p.paint(bold, e.Repo.String()))
		b.WriteByte(' ')
	}
	b.WriteString(p.paint(labelColor, label))
	b.WriteString(strings.Repeat(" ", max(labelWidth-len(label), 1)))
	b.WriteString("ID: ")
	b.WriteString(p.paint(gray, fmt.Sprintf("%-*s", idWidth, id)))
	b.WriteString(" | ")
	b.WriteString(detail)
	return b.String()
}

// Instant formats t in UTC the way every runwatch output does.
func Instant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ShortSHA returns the first seven characters of a commit sha.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func jobID(j ir.JobRef) string {
	return fmt.Sprintf("%d/%d", j.RunID, j.JobID)
}

func stepID(s ir.StepRef) string {
	return fmt.Sprintf("%d#%d", s.JobID, s.Number)
}

// outcome is the label suffix of a finished job or step.
func outcome(c ir.Conclusion) string {
	switch c {
	case ir.ConclusionSuccess:
		return "SUCCESS"
	case ir.ConclusionFailure:
		return "FAIL"
	default:
		return strings.ToUpper(string(c))
	}
}

func conclusionColor(c ir.Conclusion) string {
	if c == ir.ConclusionSuccess {
		return green
	}
	return red
}
