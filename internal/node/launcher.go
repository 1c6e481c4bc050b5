package node

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
)

// Launcher builds the command for one node id. The command must not be
// started yet; the handle wires its stdio before starting it.
type Launcher interface {
	BuildCommand(ctx context.Context, id int) (*exec.Cmd, error)
	Name() string
}

// ExecLauncher runs Command with the node id appended as the last argument,
// e.g. []string{"java", "-jar", "app.jar"} becomes "java -jar app.jar 3".
type ExecLauncher struct {
	Command []string
	Dir     string
	// Env replaces the inherited environment when non-nil.
	Env []string
}

var _ Launcher = (*ExecLauncher)(nil)

// BuildCommand は起動前のコマンドを組み立てる
func (l *ExecLauncher) BuildCommand(ctx context.Context, id int) (*exec.Cmd, error) {
	if len(l.Command) == 0 || l.Command[0] == "" {
		return nil, errors.New("node command is empty")
	}
	args := make([]string, 0, len(l.Command))
	args = append(args, l.Command[1:]...)
	args = append(args, strconv.Itoa(id))

	cmd := exec.CommandContext(ctx, l.Command[0], args...)
	cmd.Dir = l.Dir
	if l.Env != nil {
		cmd.Env = l.Env
	}
	setProcessGroup(cmd)
	return cmd, nil
}

// Name はコマンド名を返す
func (l *ExecLauncher) Name() string {
	if len(l.Command) == 0 {
		return ""
	}
	return l.Command[0]
}
