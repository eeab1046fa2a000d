// Package command parses the timed-command mini-language embedded in
// event descriptions.
//
// The description is line-oriented, one command per line:
//
//	echo hi            fires at the event start
//	-60: warm up       fires 60 minutes before start
//	+30: remind        fires 30 minutes after start
//	end: tear down     fires at the event end
//	end-10: wind down  fires 10 minutes before end
//
// Lines matching neither offset form are treated as absolute-start
// commands; the grammar never rejects a line. The scheduled payload is
// always the runner script invoked with the full event context (start,
// end, summary, location, description), not the matched line text.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gcalat/internal/log"
	"gcalat/internal/model"
)

var (
	endLineRe    = regexp.MustCompile(`^end\s*([+-]?\d+)?\s*:\s*(.*)$`)
	offsetLineRe = regexp.MustCompile(`^([+-]?\d+)\s*:\s*(.*)$`)
)

// Parser turns one event into timed command entries.
type Parser struct {
	// Runner is the wrapper script invoked for every entry.
	Runner string
	// Now supplies the current time; entries not strictly after Now
	// are dropped. Defaults to time.Now.
	Now func() time.Time
}

func (p *Parser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Parse produces the command entries for one event, dropping entries
// whose computed time is already past. A malformed start or end
// timestamp is fatal for the event.
func (p *Parser) Parse(ev model.Event) ([]model.CommandEntry, error) {
	start, err := time.Parse(time.RFC3339, ev.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: parse start %q: %w", ev.ID, ev.Start, err)
	}
	end, err := time.Parse(time.RFC3339, ev.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: parse end %q: %w", ev.ID, ev.End, err)
	}

	now := p.now()
	payload := p.wrapperCommand(ev)

	var entries []model.CommandEntry
	for _, line := range strings.Split(ev.Description, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		execTime := start
		if m := endLineRe.FindStringSubmatch(line); m != nil {
			execTime = end.Add(offsetMinutes(m[1]))
		} else if m := offsetLineRe.FindStringSubmatch(line); m != nil {
			execTime = start.Add(offsetMinutes(m[1]))
		}

		if !execTime.After(now) {
			log.Debug("dropping past-due command", "event_id", ev.ID, "exec_time", execTime.Format(time.RFC3339))
			continue
		}
		entries = append(entries, model.CommandEntry{ExecTime: execTime, Command: payload})
	}
	return entries, nil
}

// wrapperCommand builds the runner invocation carrying the five original
// event fields as quoted positional arguments.
func (p *Parser) wrapperCommand(ev model.Event) string {
	var b strings.Builder
	b.WriteString(p.Runner)
	for _, f := range []string{ev.Start, ev.End, ev.Summary, ev.Location, ev.Description} {
		b.WriteByte(' ')
		b.WriteString(quoteArg(f))
	}
	return b.String()
}

var argEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"`", "\\`",
	`$`, `\$`,
)

// quoteArg double-quotes a value for sh, escaping the characters the
// shell still interprets inside double quotes.
func quoteArg(s string) string {
	return `"` + argEscaper.Replace(s) + `"`
}

func offsetMinutes(s string) time.Duration {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Unreachable given the regexps; treat as no offset.
		return 0
	}
	return time.Duration(n) * time.Minute
}
