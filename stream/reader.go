package stream

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// errLineTooLong is returned by frameReader.next for a line longer than the
// maximum. The line has been consumed and the reader is positioned at the
// start of the next one.
var errLineTooLong = errors.New("line exceeds maximum length")

// errStreamIdle is returned by poll when nothing has arrived for the stream
// timeout. DataSift sends ticks well within it on a healthy stream.
var errStreamIdle = errors.New("no data received within the stream timeout")

var errMalformedChunk = errors.New("malformed chunked encoding")

// maxChunkHeader bounds a chunk-size line, extensions included.
const maxChunkHeader = 4096

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkEnd
	chunkDone
)

// deadliner is the part of net.Conn the frame reader needs to bound its
// reads.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// frameReader pulls newline delimited frames off a stream. It decodes the
// transfer encoding itself, copying whatever arrives into its own buffer,
// so a read deadline can expire at any byte without losing decoder state
// and no wait is ever longer than the poll timeout.
type frameReader struct {
	conn deadliner
	raw  *bufio.Reader
	tmp  []byte

	chunked   bool
	state     chunkState
	remaining int64 // in the current chunk, or in the body if it has a length; -1 if unknown
	header    []byte

	buf      []byte // decoded body not yet handed out
	start    int
	scanned  int // buf[start:scanned] has no newline
	nl       int // index of the next newline in buf, or -1
	overflow bool
	done     error // set once the body has ended

	maxLineLength int
	pollTimeout   time.Duration
	streamTimeout time.Duration
	lastData      time.Time
}

// newFrameReader reads the body of a response from raw, which must be read
// from conn and positioned just after the headers. contentLength is -1 when
// the body runs until the connection closes.
func newFrameReader(conn deadliner, raw *bufio.Reader, chunked bool, contentLength int64, pollTimeout, streamTimeout time.Duration, maxLineLength int) *frameReader {
	r := &frameReader{
		conn:          conn,
		raw:           raw,
		tmp:           make([]byte, 32<<10),
		chunked:       chunked,
		remaining:     contentLength,
		nl:            -1,
		maxLineLength: maxLineLength,
		pollTimeout:   pollTimeout,
		streamTimeout: streamTimeout,
		lastData:      time.Now(),
	}
	if !chunked && contentLength == 0 {
		r.done = io.EOF
	}
	return r
}

// poll waits up to the poll timeout for a complete line. It returns false,
// nil if none arrived, and an error if the body is finished or has been
// silent for longer than the stream timeout.
func (r *frameReader) poll() (bool, error) {
	if r.lineReady() {
		return true, nil
	}
	if r.done != nil {
		return false, r.done
	}
	r.compact()
	if err := r.conn.SetReadDeadline(time.Now().Add(r.pollTimeout)); err != nil {
		return false, errors.Wrap(err, "setting poll deadline")
	}
	for {
		n, err := r.raw.Read(r.tmp)
		if n > 0 {
			r.lastData = time.Now()
			if derr := r.decode(r.tmp[:n]); derr != nil {
				return false, derr
			}
			if r.lineReady() {
				return true, nil
			}
		}
		switch {
		case err == nil:
			if r.done != nil {
				return false, r.done
			}
		case isTimeout(err):
			if time.Since(r.lastData) > r.streamTimeout {
				return false, errStreamIdle
			}
			return false, nil
		case err == io.EOF:
			r.done = io.EOF
			if r.state != chunkDone && (r.chunked || r.remaining > 0) {
				r.done = io.ErrUnexpectedEOF
			}
			if r.lineReady() {
				return true, nil
			}
			return false, r.done
		default:
			return false, err
		}
	}
}

// next returns one line with surrounding whitespace removed. An empty line
// is a chunk boundary. The returned slice is only valid until the next call
// to next or poll. If no line is buffered next polls until one is.
func (r *frameReader) next() ([]byte, error) {
	for !r.lineReady() {
		if r.done != nil {
			return nil, r.done
		}
		if _, err := r.poll(); err != nil {
			return nil, err
		}
	}
	end := len(r.buf)
	if r.nl >= 0 {
		end = r.nl + 1
	}
	line := r.buf[r.start:end]
	r.start, r.scanned, r.nl = end, end, -1
	if r.overflow || len(line) > r.maxLineLength {
		r.overflow = false
		return nil, errLineTooLong
	}
	return bytes.TrimSpace(line), nil
}

// lineReady reports whether next can return without reading. The head of a
// line longer than the maximum is dropped as it arrives.
func (r *frameReader) lineReady() bool {
	if r.nl >= 0 {
		return true
	}
	if i := bytes.IndexByte(r.buf[r.scanned:], '\n'); i >= 0 {
		r.nl = r.scanned + i
		return true
	}
	r.scanned = len(r.buf)
	if r.scanned-r.start >= r.maxLineLength {
		r.overflow = true
		r.buf = r.buf[:0]
		r.start, r.scanned = 0, 0
	}
	return r.done != nil && len(r.buf) > r.start
}

func (r *frameReader) compact() {
	if r.start == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.start:])
	r.buf = r.buf[:n]
	r.scanned -= r.start
	r.start = 0
}

// decode appends the body bytes in p to the line buffer, stripping chunk
// framing.
func (r *frameReader) decode(p []byte) error {
	if !r.chunked {
		if r.remaining >= 0 {
			if int64(len(p)) > r.remaining {
				p = p[:r.remaining]
			}
			r.remaining -= int64(len(p))
			if r.remaining == 0 {
				r.done = io.EOF
			}
		}
		r.buf = append(r.buf, p...)
		return nil
	}
	for len(p) > 0 {
		switch r.state {
		case chunkSize:
			i := bytes.IndexByte(p, '\n')
			if i < 0 {
				i = len(p)
			}
			if len(r.header)+i > maxChunkHeader {
				return errMalformedChunk
			}
			r.header = append(r.header, p[:i]...)
			if i == len(p) {
				return nil
			}
			p = p[i+1:]
			size, err := parseChunkSize(r.header)
			r.header = r.header[:0]
			if err != nil {
				return err
			}
			if size == 0 {
				// trailers, if any, are ignored
				r.state = chunkDone
				r.done = io.EOF
				return nil
			}
			r.remaining = size
			r.state = chunkData
		case chunkData:
			n := int64(len(p))
			if n > r.remaining {
				n = r.remaining
			}
			r.buf = append(r.buf, p[:n]...)
			r.remaining -= n
			p = p[n:]
			if r.remaining == 0 {
				r.state = chunkEnd
			}
		case chunkEnd:
			switch p[0] {
			case '\r':
			case '\n':
				r.state = chunkSize
			default:
				return errMalformedChunk
			}
			p = p[1:]
		case chunkDone:
			return nil
		}
	}
	return nil
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, errMalformedChunk
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return 0, errMalformedChunk
	}
	return size, nil
}

func isTimeout(err error) bool {
	nerr, ok := errors.Cause(err).(net.Error)
	return ok && nerr.Timeout()
}
