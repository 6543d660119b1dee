package utils

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrLineTooLong is returned when a single JSONL line exceeds the reader's
// limit. The offending line is consumed through to its newline (bounded)
// so the caller can decide whether to fail the whole operation.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// maxSkipChunks bounds the discard loop for an over-long line so a stream
// that never yields a newline cannot spin forever.
const maxSkipChunks = 1024

// LineReader reads newline-delimited records while enforcing a maximum
// line length. Over-long lines never accumulate in memory beyond the
// limit plus one buffer.
type LineReader struct {
	reader  *bufio.Reader
	maxLine int
}

func NewLineReader(r io.Reader, maxLine int) *LineReader {
	return &LineReader{
		reader:  bufio.NewReaderSize(r, 64*1024),
		maxLine: maxLine,
	}
}

// ReadLine returns the next line without its trailing newline. At end of
// stream it returns (nil, io.EOF). A line longer than the limit is
// discarded through to its newline and ErrLineTooLong is returned.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		part, err := lr.reader.ReadSlice('\n')
		line = append(line, part...)

		if len(line) > lr.maxLine {
			if errors.Is(err, bufio.ErrBufferFull) {
				lr.discardToNewline()
			}
			return nil, ErrLineTooLong
		}

		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return bytes.TrimRight(line, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

func (lr *LineReader) discardToNewline() {
	for i := 0; i < maxSkipChunks; i++ {
		part, err := lr.reader.ReadSlice('\n')
		if err == nil || bytes.HasSuffix(part, []byte{'\n'}) {
			return
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}
