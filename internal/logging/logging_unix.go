//go:build darwin || linux

package logging

import (
	"os"

	"golang.org/x/sys/unix"
)

const SupportsColorEscapes = true

func GetTerminalInfo(file *os.File) (info TerminalInfo) {
	fd := int(file.Fd())

	// Is this file descriptor a terminal?
	if _, err := unix.IoctlGetTermios(fd, ioctlReadTermios); err == nil {
		info.IsTTY = true
		info.UseColorEscapes = true

		// Get the width of the window
		if w, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ); err == nil {
			info.Width = int(w.Col)
		}
	}

	return
}
