package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePath is fixed rather than configurable: dered manages exactly one
// daemon instance per working directory, mirroring the single shared
// database file serve.Config.DBPath names.
const pidFilePath = "dered.pid"

func writePIDFile() error {
	return os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile() {
	os.Remove(pidFilePath)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: malformed contents: %w", err)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, using the
// zero-signal probe idiom (signal 0 performs permission/existence checks
// without actually delivering a signal).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
