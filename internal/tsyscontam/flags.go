package tsyscontam

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FlagReason is the reason string attached to every generated command
const FlagReason = "Tsys:tsysflag_tsys_channel"

// FlagCommand renders the manual flag command for the contaminated channels
// of r, fields in the order mode, scan, spw, reason. ok is false when there
// is nothing to flag.
func FlagCommand(r *Report) (cmd string, ok bool) {
	contam := r.Contamination()
	if contam.Empty() {
		return "", false
	}

	scans := make([]string, len(r.Scans))
	for i, s := range r.Scans {
		scans[i] = strconv.Itoa(s)
	}
	ranges := make([]string, len(contam))
	for i, iv := range contam {
		ranges[i] = fmt.Sprintf("%d~%d", int(iv.Start), int(iv.End))
	}

	return fmt.Sprintf("mode='manual' scan='%s' spw='%d:%s' reason='%s'",
		strings.Join(scans, ","), r.SPW, strings.Join(ranges, ";"), FlagReason), true
}

// FlagCommands renders the commands of every report, in report order
func FlagCommands(reports []*Report) []string {
	var out []string
	for _, r := range reports {
		if cmd, ok := FlagCommand(r); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// WriteFlagTemplate writes the flag commands one per line, each preceded
// by a comment naming its field.
func WriteFlagTemplate(w io.Writer, reports []*Report) error {
	bw := bufio.NewWriter(w)
	for _, r := range reports {
		cmd, ok := FlagCommand(r)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(bw, "# field %d spw %d\n%s\n", r.Field, r.SPW, cmd); err != nil {
			return err
		}
	}
	return bw.Flush()
}
