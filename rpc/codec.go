package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single wire message. Anything larger is treated as a
// protocol violation rather than buffered without limit.
const MaxLineBytes = 16 * 1024 * 1024

// LineWriter writes newline-delimited JSON messages to a stream.
type LineWriter struct {
	writer io.Writer
}

// NewLineWriter creates a new LineWriter.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{writer: w}
}

// WriteMessage encodes v as a single JSON line and flushes it.
func (lw *LineWriter) WriteMessage(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(buf)+1 > MaxLineBytes {
		return fmt.Errorf("encoded message size %d exceeds limit %d", len(buf), MaxLineBytes)
	}
	buf = append(buf, '\n')
	if _, err := lw.writer.Write(buf); err != nil {
		return err
	}
	return nil
}

// LineReader reads newline-delimited JSON responses from a stream.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a new LineReader.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// ReadResponse reads exactly one response envelope. Blank lines are skipped;
// the first non-blank line must parse as a Response or the call fails with a
// ProtocolViolation fault carrying the raw bytes.
func (lr *LineReader) ReadResponse() (*Response, error) {
	line, err := lr.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, PeerClosed("stream ended before a full response", err)
		}
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, ProtocolViolation(fmt.Sprintf("response is not a valid envelope: %v", err), line)
	}
	if resp.Result == nil && resp.Error == nil {
		return nil, ProtocolViolation("response carries neither result nor error", line)
	}
	return &resp, nil
}

// ReadRequest reads one request envelope from the serving side of the
// stream. The raw line comes back alongside any parse failure so the server
// can log what it actually received.
func (lr *LineReader) ReadRequest() (*Request, []byte, error) {
	line, err := lr.readLine()
	if err != nil {
		return nil, nil, err
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, line, fmt.Errorf("request is not a valid envelope: %w", err)
	}
	if req.Method == "" {
		return nil, line, fmt.Errorf("request missing method")
	}
	return &req, line, nil
}

// readLine returns the next non-blank line without its trailing newline.
func (lr *LineReader) readLine() ([]byte, error) {
	for {
		var buf bytes.Buffer
		for {
			frag, err := lr.reader.ReadSlice('\n')
			buf.Write(frag)
			if buf.Len() > MaxLineBytes {
				return nil, ProtocolViolation(
					fmt.Sprintf("line exceeds %d byte limit", MaxLineBytes), nil)
			}
			if err == nil {
				break
			}
			if errors.Is(err, io.EOF) {
				if buf.Len() == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			if !errors.Is(err, bufio.ErrBufferFull) {
				return nil, err
			}
		}
		line := bytes.TrimSpace(buf.Bytes())
		if len(line) > 0 {
			return line, nil
		}
	}
}
