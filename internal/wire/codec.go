package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// maxLineSize bounds a single protocol line. A longer line is consumed and
// discarded like any other undecodable input; the connection stays up.
const maxLineSize = 64 * 1024

// Encoder writes newline-delimited JSON messages. It is safe for concurrent
// use; each Encode writes one complete line.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals msg and writes it as a single '\n'-terminated line.
func (e *Encoder) Encode(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited JSON messages. Blank, unparseable and
// oversized lines are skipped rather than surfaced as errors: the protocol
// is not strict and bad input must not tear down the connection.
type Decoder struct {
	r       *bufio.Reader
	skipped int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next decodable message. It returns io.EOF when the stream
// ends cleanly, or the underlying read error otherwise.
func (d *Decoder) Next() (Message, error) {
	for {
		line, err := d.readLine()
		if len(line) > 0 {
			var msg Message
			if jerr := json.Unmarshal(line, &msg); jerr != nil {
				d.skipped++
			} else {
				return msg, nil
			}
		}
		if err != nil {
			return Message{}, err
		}
	}
}

// readLine returns the next line without its terminator. A line over
// maxLineSize is consumed to its end, counted as skipped and returned as
// nil. A trailing unterminated line at EOF is returned alongside io.EOF.
func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)

		if err == bufio.ErrBufferFull {
			if len(buf) > maxLineSize {
				d.skipped++
				return nil, d.discardLine()
			}
			continue
		}
		if err != nil {
			return buf, err
		}

		line := buf[:len(buf)-1]
		if len(line) > maxLineSize {
			d.skipped++
			return nil, nil
		}
		return line, nil
	}
}

// discardLine consumes input up to and including the next newline.
func (d *Decoder) discardLine() error {
	for {
		_, err := d.r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

// Skipped reports how many undecodable lines were discarded so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}
