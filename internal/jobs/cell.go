// Package jobs implements the four named JobHandlers that WorkerRuntime
// dispatches to (spec.md §4.9): batch-stt, unsegment-only, unsegment-with-time
// and ssp. Each handler turns a broker payload into framed reply bytes using
// internal/broker's Status/FormatReply conventions.
package jobs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/boolpae/vrstt-dispatch/internal/engine"
)

// FormatCells renders a cell-stream as tab-delimited start\tend\ttoken\tlike
// lines, the canonical representation between STT and post-processing
// (spec.md GLOSSARY).
func FormatCells(cells []engine.Cell) string {
	var b strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&b, "%g\t%g\t%s\t%g\n", c.Start, c.End, c.Token, c.Likelihood)
	}
	return b.String()
}

// ParseCells reverses FormatCells, tolerating a trailing blank line.
func ParseCells(stream string) ([]engine.Cell, error) {
	var cells []engine.Cell
	for _, line := range strings.Split(stream, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, fmt.Errorf("jobs: malformed cell line %q", line)
		}
		start, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: bad start in %q: %w", line, err)
		}
		end, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: bad end in %q: %w", line, err)
		}
		like, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("jobs: bad likelihood in %q: %w", line, err)
		}
		cells = append(cells, engine.Cell{Start: start, End: end, Token: fields[2], Likelihood: like})
	}
	return cells, nil
}
