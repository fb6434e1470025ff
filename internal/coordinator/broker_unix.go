//go:build !windows

package coordinator

import "syscall"

// detachedProcAttr puts the broker in its own session so it survives
// the CLI process and the tmux panes that spawned it.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
