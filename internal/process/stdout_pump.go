package process

import (
	"io"
	"os"
)

// pumpStdout reads the child's stdout one byte at a time, preserving
// strict line-ended ordering for subscribers. Every byte is mirrored to
// the optional redirection file as it arrives; on a completed line
// (including its trailing newline) the line is pushed to history and
// published to the broadcaster. End-of-stream ends the pump.
func (p *Process) pumpStdout(stdout io.ReadCloser, mirror *os.File) {
	defer stdout.Close()
	if mirror != nil {
		defer mirror.Close()
	}

	var buf [1]byte
	var line []byte
	for {
		n, err := stdout.Read(buf[:])
		if n > 0 {
			b := buf[0]
			line = append(line, b)
			if mirror != nil {
				_, _ = mirror.Write(buf[:])
			}
			if b == '\n' {
				completed := string(line)
				p.mu.Lock()
				p.stdoutHistory.Push(completed)
				p.mu.Unlock()
				p.broadcaster.Publish(completed)
				line = line[:0]
			}
		}
		if err != nil {
			return
		}
	}
}
