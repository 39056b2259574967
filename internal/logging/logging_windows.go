//go:build windows

package logging

import (
	"os"

	"golang.org/x/sys/windows"
)

const SupportsColorEscapes = false

func GetTerminalInfo(file *os.File) (info TerminalInfo) {
	handle := windows.Handle(file.Fd())

	// Is this file descriptor a terminal?
	var mode uint32
	if err := windows.GetConsoleMode(handle, &mode); err != nil {
		return
	}
	info.IsTTY = true

	// Get the width of the window
	var screen windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(handle, &screen); err == nil {
		info.Width = int(screen.Size.X) - 1
	}
	return
}
