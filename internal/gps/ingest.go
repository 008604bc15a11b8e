package gps

import (
	"bufio"
	"errors"
	"io"
	"time"
)

type ingestState struct {
	snap    Snapshot
	lastFix time.Time
}

func newIngestState(base Snapshot) *ingestState {
	return &ingestState{snap: base}
}

func (st *ingestState) snapshot() Snapshot {
	out := st.snap
	if st.snap.SpeedKmh != nil {
		v := *st.snap.SpeedKmh
		out.SpeedKmh = &v
	}
	if !st.lastFix.IsZero() {
		out.LastFixUTC = st.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// ingest processes one line. Void fixes return ErrInvalidFix; malformed RMC
// sentences return an error wrapping ErrMalformedSentence. Neither reaches the
// handler.
func (s *Service) ingest(st *ingestState, nowUTC time.Time, line string) error {
	fix, ok, err := ParseLine(line)
	if !ok {
		return nil
	}
	st.snap.Sentences++
	if err != nil {
		st.snap.Rejected++
		return err
	}
	if !fix.Valid {
		st.snap.Void++
		st.snap.Valid = false
		return ErrInvalidFix
	}

	st.snap.Fixes++
	st.snap.Valid = true
	st.snap.LatDeg = fix.Latitude
	st.snap.LonDeg = fix.Longitude
	v := fix.SpeedKmh
	st.snap.SpeedKmh = &v
	st.lastFix = nowUTC

	if s.handler != nil {
		s.handler.HandleFix(fix)
	}
	return nil
}

// lineReader yields CR/LF-stripped lines. Lines longer than max are dropped
// whole rather than split, so a garbled burst can never be parsed as a
// shorter sentence.
type lineReader struct {
	br  *bufio.Reader
	max int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 4096), max: max}
}

func (lr *lineReader) next() (string, error) {
	buf := make([]byte, 0, 128)
	oversized := false
	for {
		frag, err := lr.br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(frag) > lr.max+2 {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, frag...)
			}
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 && !oversized {
			break
		}
		return "", err
	}
	if oversized {
		return "", nil
	}
	for len(buf) > 0 && (buf[len(buf)-1] == '\n' || buf[len(buf)-1] == '\r') {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}
