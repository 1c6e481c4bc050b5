//go:build unix

package node

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// ノードを自身のプロセスグループのリーダーとして起動する。
// ラッパースクリプトの子プロセスもまとめてkillできる
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcess(cmd) }
}

// killProcess はグループリーダーならグループ全体にSIGKILLを送る
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if cmd.SysProcAttr != nil && cmd.SysProcAttr.Setpgid {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.ESRCH) {
			return err
		}
	}
	return cmd.Process.Kill()
}
