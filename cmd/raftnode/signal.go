package main

import (
	"os"
	"os/signal"
	"syscall"
)

// terminalSignalCh returns a channel that receives the signals that usually
// indicate the terminal of a process.
func terminalSignalCh() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}
