package shopify

import (
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/gempages/shopify-catalog-export/utils"
)

var jsonl = jsoniter.ConfigFastest

// bulkLine is one decoded JSONL line plus its classification.
type bulkLine struct {
	// Kind is the GID resource type, or "" for id-less child nodes
	// (presentment prices).
	Kind string
	// GID is the node's own gid, "" when absent.
	GID string
	// ParentGID is the owning parent's gid, "" for roots.
	ParentGID string
	// Raw is the full line for a second, typed decode.
	Raw []byte
	// Number is the 1-based line number, for error reporting.
	Number int64
}

// bulkScanner walks a bulk result file line by line, classifying each
// node and enforcing the parent-before-child stream invariant.
type bulkScanner struct {
	module string
	file   *os.File
	reader *utils.LineReader
	line   int64

	// seen tracks every gid observed so a child naming an unseen parent
	// fails the operation.
	seen map[string]bool
}

func newBulkScanner(module, path string) (*bulkScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bulk result: %w", err)
	}
	return &bulkScanner{
		module: module,
		file:   f,
		reader: utils.NewLineReader(f, MaxLineLength),
		seen:   make(map[string]bool),
	}, nil
}

func (s *bulkScanner) Close() {
	utils.CloseFile(s.file)
}

// Next returns the next classified line, or nil at end of stream.
func (s *bulkScanner) Next() (*bulkLine, error) {
	raw, err := s.reader.ReadLine()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if errors.Is(err, utils.ErrLineTooLong) {
		return nil, &ParseError{Module: s.module, Line: s.line + 1, Reason: "line exceeds maximum length"}
	}
	if err != nil {
		return nil, &ParseError{Module: s.module, Line: s.line + 1, Reason: err.Error()}
	}
	s.line++

	if len(raw) == 0 {
		return s.Next()
	}

	line := &bulkLine{Raw: append([]byte(nil), raw...), Number: s.line}

	gid := jsonl.Get(raw, "id")
	if gid.LastError() == nil && gid.ValueType() == jsoniter.StringValue {
		line.GID = gid.ToString()
		line.Kind = GIDType(line.GID)
		if line.Kind == "" {
			return nil, &ParseError{Module: s.module, Line: s.line, Reason: fmt.Sprintf("malformed gid=`%s`", line.GID)}
		}
		s.seen[line.GID] = true
	}

	parent := jsonl.Get(raw, "__parentId")
	if parent.LastError() == nil && parent.ValueType() == jsoniter.StringValue {
		line.ParentGID = parent.ToString()
		if !s.seen[line.ParentGID] {
			return nil, &ParseError{
				Module: s.module,
				Line:   s.line,
				Reason: fmt.Sprintf("child references parent %s not seen earlier in the stream", line.ParentGID),
			}
		}
	}

	if line.GID == "" && line.ParentGID == "" {
		return nil, &ParseError{Module: s.module, Line: s.line, Reason: "node carries neither id nor __parentId"}
	}

	return line, nil
}

// decodeInto re-decodes the raw line into a typed node.
func (l *bulkLine) decodeInto(module string, v interface{}) error {
	if err := jsonl.Unmarshal(l.Raw, v); err != nil {
		return &ParseError{Module: module, Line: l.Number, Reason: err.Error()}
	}
	return nil
}
