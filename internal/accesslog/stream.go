package accesslog

import (
	"github.com/allensuvorov/logamizer/internal/decode"
	"github.com/allensuvorov/logamizer/internal/model"
)

// ParseLines parses an already-decoded batch of lines with the recognizer
// selected by format, returning every successfully normalized event plus a
// quality report. Used directly by tests and by ParseStream for callers
// that already hold lines in memory.
func ParseLines(lines []decode.Line, format model.LogFormat) ([]model.NormalizedEvent, model.ParseQuality) {
	parse := ForFormat(format)
	q := model.ParseQuality{TotalLines: int64(len(lines))}
	events := make([]model.NormalizedEvent, 0, len(lines))
	for _, l := range lines {
		ev, err := parse(l.Number, l.Text)
		if err != nil {
			q.FailedLines++
			continue
		}
		q.ParsedLines++
		events = append(events, ev)
	}
	q.Recompute()
	return events, q
}

// Stream parses decoded lines one at a time via onEvent, so a caller (the
// pipeline driver) can fan the event out to the aggregator, rule engine,
// and error grouper without buffering the whole file. Decoder-level
// counters (total/empty lines) come from decode.Counters and are merged
// into the returned quality report by the caller once decoding finishes.
func Stream(format model.LogFormat, onEvent func(model.NormalizedEvent)) func(decode.Line) (parsed bool) {
	parse := ForFormat(format)
	return func(l decode.Line) bool {
		ev, err := parse(l.Number, l.Text)
		if err != nil {
			return false
		}
		onEvent(ev)
		return true
	}
}
