//go:build linux && amd64

package tracer

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	elfClass32 = 1
	elfClass64 = 2

	elfMachine386    = 3  // EM_386
	elfMachineX86_64 = 62 // EM_X86_64
)

// wordSizeOf determines a tracee's pointer width from the ELF header of its
// executable image. x32 binaries are ELFCLASS32 with an x86-64 machine tag:
// 4-byte pointers, 64-bit syscall numbering (selected later by the tag bit
// on the syscall number). Anything outside the x86 family is fatal.
func wordSizeOf(pid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return 0, fmt.Errorf("reading exec image of pid %d: %w", pid, err)
	}
	defer f.Close()

	var hdr [20]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return 0, fmt.Errorf("reading ELF header of pid %d: %w", pid, err)
	}
	if hdr[0] != 0x7f || hdr[1] != 'E' || hdr[2] != 'L' || hdr[3] != 'F' {
		return 0, fmt.Errorf("%w: pid %d: not an ELF image", ErrUnsupportedArch, pid)
	}

	machine := uint16(hdr[18]) | uint16(hdr[19])<<8
	if machine != elfMachine386 && machine != elfMachineX86_64 {
		return 0, fmt.Errorf("%w: pid %d: machine %d", ErrUnsupportedArch, pid, machine)
	}

	switch hdr[4] {
	case elfClass32:
		return 4, nil
	case elfClass64:
		if machine != elfMachineX86_64 {
			return 0, fmt.Errorf("%w: pid %d: 64-bit image with machine %d", ErrUnsupportedArch, pid, machine)
		}
		return 8, nil
	}
	return 0, fmt.Errorf("%w: pid %d: ELF class %d", ErrUnsupportedArch, pid, hdr[4])
}

// readTgid reads the thread-group id of pid from /proc. Returns 0 when the
// process is already gone.
func readTgid(pid int) int {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "Tgid:") {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 {
				n, _ := strconv.Atoi(fields[1])
				return n
			}
			break
		}
	}
	return 0
}
