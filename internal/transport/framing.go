package transport

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bit2swaz/loramesh/internal/protocol"
)

// WriteLine writes the whole line, retrying short writes.
func WriteLine(w io.Writer, line []byte) error {
	for len(line) > 0 {
		n, err := w.Write(line)
		if err != nil {
			return fmt.Errorf("failed to write line: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("failed to write line: %w", io.ErrShortWrite)
		}
		line = line[n:]
	}
	return nil
}

// Complete reports whether buf holds at least one terminated line.
func Complete(buf []byte) bool {
	return bytes.HasSuffix(buf, []byte(protocol.LineEnd))
}

// SplitFrames returns the receive frames found in a completed buffer, each
// starting at the +RCV= marker. Lines without the marker are echo or noise
// and are counted in discarded.
func SplitFrames(buf []byte) (frames [][]byte, discarded int) {
	for _, line := range bytes.Split(buf, []byte(protocol.LineEnd)) {
		if len(line) == 0 {
			continue
		}
		i := bytes.Index(line, []byte(protocol.RecvMarker))
		if i < 0 {
			discarded++
			continue
		}
		frames = append(frames, line[i:])
	}
	return frames, discarded
}
