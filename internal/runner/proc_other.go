//go:build !unix

package runner

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

func interruptProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
