package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/cspwatch/internal/csp"
)

var csvHeader = []string{
	"directive", "source", "kind", "emitted", "explanation", "justifications",
}

// WriteCSV writes one row per (directive, source) pair to w. Justifications
// are joined with " | ".
func WriteCSV(w io.Writer, p *csp.Policy) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range p.Directives {
		ds := &p.Directives[i]
		for _, t := range ds.Sources {
			row := []string{
				string(ds.Directive),
				string(t),
				string(t.Kind()),
				strconv.FormatBool(ds.Emitted),
				csp.Explain(t),
				strings.Join(p.Justifications(ds.Directive, t), " | "),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
