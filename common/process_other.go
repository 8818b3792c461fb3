//go:build !linux

package common

import "os/exec"

// killAfterParent is a no-op where the OS lacks a parent death signal; the
// browserprocess register covers forced shutdowns there.
func killAfterParent(cmd *exec.Cmd) {}
