package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opsdeck/realtime/internal/buffer"
	"github.com/opsdeck/realtime/internal/message"
)

const maxCompactData = 160

// printLoop writes messages from out to w until out is closed and drained.
func printLoop(w io.Writer, out *buffer.Ring[message.Message], verbose bool) error {
	for {
		m, ok := out.Receive()
		if !ok {
			return nil
		}
		line, err := formatMessage(m, verbose)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

// formatMessage renders one message as a line (compact) or an indented
// envelope (verbose). Both end in a newline.
func formatMessage(m message.Message, verbose bool) (string, error) {
	if verbose {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return "", fmt.Errorf("format message %s: %w", m.ID, err)
		}
		return fmt.Sprintf("[%s]\n%s\n", strings.ToUpper(m.Type), data), nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, m.Data); err != nil {
		compact.Reset()
		compact.Write(m.Data)
	}
	data := truncate(compact.String(), maxCompactData)

	ts := "-"
	if m.Timestamp > 0 {
		ts = m.CreatedAt().UTC().Format(time.TimeOnly + ".000")
	}
	return fmt.Sprintf("[%s] %s %s\n", strings.ToUpper(m.Type), ts, data), nil
}

// truncate shortens s to at most n bytes without splitting a rune and marks
// the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
