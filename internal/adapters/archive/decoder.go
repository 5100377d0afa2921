package archive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"

	"gitrank/internal/platform/logger"
)

const maxScanTokenSize = 32 * 1024 * 1024

// Decoder streams Events out of a compressed hour slice artifact.
// The source stream is near-NDJSON with a known quirk: some hours concatenate
// objects back-to-back or break records with spurious line separators. The
// decoder repairs both while scanning: a separator run that does not sit
// between `}` and `{` is collapsed to nothing, and adjacent `}{"` object
// boundaries are split into individual records. Records that still fail to
// parse are logged and skipped; one bad record never aborts the slice.
// The sequence is lazy, finite, and non-restartable
type Decoder struct {
	rc io.ReadCloser
	gz *gzip.Reader
	sc *bufio.Scanner

	cur   []byte
	ready [][]byte
	err   error

	parsed  int
	skipped int
	log     logger.Logger
}

// Open decodes the artifact at path
func Open(path string) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewDecoder(f)
}

// NewDecoder decodes a gzip-compressed record stream
func NewDecoder(rc io.ReadCloser) (*Decoder, error) {
	gz, err := gzip.NewReader(rc)
	if err != nil {
		if cerr := rc.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 512*1024), maxScanTokenSize)
	sc.Split(splitSegments)
	return &Decoder{rc: rc, gz: gz, sc: sc, log: *logger.Named("archive")}, nil
}

// Next returns the next parsed event; io.EOF when the slice is exhausted
func (d *Decoder) Next() (Event, error) {
	for {
		for len(d.ready) > 0 {
			raw := d.ready[0]
			d.ready = d.ready[1:]
			if ev, ok := d.parse(raw); ok {
				return ev, nil
			}
		}
		if d.err != nil {
			return Event{}, d.err
		}

		if !d.sc.Scan() {
			if serr := d.sc.Err(); serr != nil {
				d.err = serr
				return Event{}, serr
			}
			if len(d.cur) > 0 {
				d.ready = splitConcat(d.cur)
				d.cur = nil
				continue
			}
			d.err = io.EOF
			return Event{}, io.EOF
		}

		seg := d.sc.Bytes()
		cp := make([]byte, len(seg))
		copy(cp, seg)

		switch {
		case len(d.cur) == 0:
			d.cur = cp
		case d.cur[len(d.cur)-1] == '}' && cp[0] == '{':
			// separator run at an object boundary: record break
			d.ready = splitConcat(d.cur)
			d.cur = cp
		default:
			// separator run inside a record: collapse it
			d.cur = append(d.cur, cp...)
		}
	}
}

// parse decodes one raw record, counting and logging failures
func (d *Decoder) parse(raw []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.skipped++
		d.log.Debug().Err(err).Int("bytes", len(raw)).Msg("skipping malformed record")
		return Event{}, false
	}
	d.parsed++
	return ev, true
}

// Stats returns the number of records parsed and skipped so far
func (d *Decoder) Stats() (parsed, skipped int) {
	return d.parsed, d.skipped
}

// Close closes the underlying readers
func (d *Decoder) Close() error {
	var first error
	if d.gz != nil {
		if err := d.gz.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			first = err
		}
	}
	if d.rc != nil {
		if err := d.rc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// splitConcat breaks a raw record at back-to-back `}{"` object boundaries
func splitConcat(raw []byte) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == '}' && raw[i+1] == '{' && raw[i+2] == '"' {
			out = append(out, raw[start:i+1])
			start = i + 1
		}
	}
	return append(out, raw[start:])
}

// Line separators the source is known to sprinkle mid-record:
// \n, \r, U+2028 (E2 80 A8), U+2029 (E2 80 A9)

// sepLen returns the byte length of the separator starting data[0], or 0
func sepLen(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	if data[0] == '\n' || data[0] == '\r' {
		return 1
	}
	if len(data) >= 3 && data[0] == 0xE2 && data[1] == 0x80 && (data[2] == 0xA8 || data[2] == 0xA9) {
		return 3
	}
	return 0
}

// maybePartialSep reports whether data could be the prefix of a multi-byte
// separator cut off at the buffer edge
func maybePartialSep(data []byte) bool {
	switch len(data) {
	case 1:
		return data[0] == 0xE2
	case 2:
		return data[0] == 0xE2 && data[1] == 0x80
	default:
		return false
	}
}

// splitSegments is a bufio.SplitFunc yielding maximal separator-free runs
// and silently consuming separator runs between them
func splitSegments(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}

	// consume a leading separator run without emitting a token
	i := 0
	for i < len(data) {
		n := sepLen(data[i:])
		if n == 0 {
			break
		}
		i += n
	}
	if i > 0 {
		if i == len(data) || !maybePartialSep(data[i:]) || atEOF {
			return i, nil, nil
		}
		// tail might be a cut-off separator; consume what is certain
		return i, nil, nil
	}

	// find the end of the current segment
	for j := 0; j < len(data); j++ {
		if sepLen(data[j:]) > 0 {
			return j, data[:j], nil
		}
		if data[j] == 0xE2 && j+3 > len(data) && !atEOF {
			// could be a separator split across reads; wait for more
			if j > 0 {
				return j, data[:j], nil
			}
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
