package vf

import (
	"os"
	"syscall"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// setRawMode puts the terminal into raw mode for use as the guest
// serial console: no local echo, no input canonicalization, no CR-NL
// mapping.
func setRawMode(f *os.File) error {
	var attr unix.Termios

	if err := termios.Tcgetattr(f.Fd(), &attr); err != nil {
		return err
	}

	attr.Iflag &^= syscall.ICRNL
	attr.Lflag &^= syscall.ICANON | syscall.ECHO
	attr.Cc[syscall.VMIN] = 1
	attr.Cc[syscall.VTIME] = 0

	return termios.Tcsetattr(f.Fd(), termios.TCSANOW, &attr)
}
