//go:build windows

package service

import (
	"os"
	"os/exec"
)

func detach(*exec.Cmd) {}

// no SIGTERM on windows
func terminate(p *os.Process) error {
	return p.Kill()
}
