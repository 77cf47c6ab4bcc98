package format

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"golang.org/x/term"

	"github.com/roach88/runwatch/internal/engine"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ValidFormats lists the accepted event formats.
var ValidFormats = []string{FormatText, FormatJSON}

// ValidColorModes lists the accepted color modes.
var ValidColorModes = []string{ColorAuto, ColorAlways, ColorNever}

// Printer writes events to w, one line each. It implements engine.Sink and
// is safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	opts   TextOptions
}

var _ engine.Sink = (*Printer)(nil)

// NewPrinter creates a Printer for one of ValidFormats. opts applies to
// the text format only.
func NewPrinter(w io.Writer, format string, opts TextOptions) (*Printer, error) {
	if !slices.Contains(ValidFormats, format) {
		return nil, fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
	}
	return &Printer{w: w, format: format, opts: opts}, nil
}

// Emit writes e followed by a newline.
func (p *Printer) Emit(_ context.Context, e engine.Emitted) error {
	var line []byte
	switch p.format {
	case FormatJSON:
		data, err := JSON(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		line = data
	default:
		line = []byte(Text(e, p.opts))
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// ResolveColor decides whether to color output written to f.
//
// auto colors only terminals and honors NO_COLOR.
func ResolveColor(mode string, f *os.File) (bool, error) {
	switch mode {
	case ColorAlways:
		return true, nil
	case ColorNever:
		return false, nil
	case ColorAuto, "":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		return f != nil && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("invalid color mode %q: must be one of %v", mode, ValidColorModes)
	}
}
