package logging

import "golang.org/x/sys/unix"

const ioctlReadTermios = unix.TIOCGETA
