//go:build linux && amd64

package tracer

import (
	"encoding/binary"
	"fmt"
	"syscall"
)

const (
	maxPathLen = 4096
	maxArgv    = 1024
	peekChunk  = 128
)

// peekString reads a NUL-terminated string from the tracee's memory.
func peekString(pid int, addr uintptr) (string, error) {
	if addr == 0 {
		return "", nil
	}
	buf := make([]byte, 0, peekChunk)
	chunk := make([]byte, peekChunk)
	for len(buf) < maxPathLen {
		n, err := syscall.PtracePeekData(pid, addr+uintptr(len(buf)), chunk)
		if n == 0 && err != nil {
			return "", fmt.Errorf("reading string at %#x from pid %d: %w", addr, pid, err)
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				return string(append(buf, chunk[:i]...)), nil
			}
		}
		buf = append(buf, chunk[:n]...)
		if n < len(chunk) {
			break
		}
	}
	return string(buf), nil
}

// peekStringArray reads a NULL-terminated pointer array of wordSize-wide
// pointers and the strings they reference, the shape of an execve argv.
func peekStringArray(pid int, addr uintptr, wordSize int) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	word := make([]byte, wordSize)
	for i := 0; i < maxArgv; i++ {
		n, err := syscall.PtracePeekData(pid, addr+uintptr(i*wordSize), word)
		if n < wordSize {
			return out, fmt.Errorf("reading argv pointer from pid %d: %w", pid, err)
		}
		var ptr uintptr
		if wordSize == 4 {
			ptr = uintptr(binary.LittleEndian.Uint32(word))
		} else {
			ptr = uintptr(binary.LittleEndian.Uint64(word))
		}
		if ptr == 0 {
			break
		}
		s, err := peekString(pid, ptr)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
