// Package testnode is a scriptable stand-in for a real node process, used
// by tests that need live child processes. Test binaries re-execute
// themselves with EnvFakeNode set and call Main from TestMain.
package testnode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"snapfleet/internal/protocol"
)

const (
	// EnvFakeNode marks a re-executed test binary as a fake node.
	EnvFakeNode = "SNAPFLEET_FAKE_NODE"
	// EnvExitAfter makes the fake node exit with status 3 after N lines.
	EnvExitAfter = "SNAPFLEET_FAKE_EXIT_AFTER"
	// EnvStorage is the storage root snapshots are written under.
	EnvStorage = "SNAPFLEET_FAKE_STORAGE"
)

// IsFakeNode reports whether this process was launched as a fake node.
func IsFakeNode() bool {
	return os.Getenv(EnvFakeNode) == "1"
}

// Command is the argv that re-executes the current test binary without
// running any tests. The node id is appended by the launcher.
func Command() []string {
	return []string{os.Args[0], "-test.run=^$"}
}

// Env returns the environment for a fake node child.
func Env(extra ...string) []string {
	env := append(os.Environ(), EnvFakeNode+"=1")
	return append(env, extra...)
}

// Main runs the fake node on the process stdio and returns its exit code.
func Main() int {
	return Run(os.Args, os.Stdin, os.Stdout, os.Getenv)
}

// Run is the fake node loop. It announces itself, acknowledges every
// protocol line on out and exits 0 when stdin closes.
func Run(args []string, in io.Reader, out io.Writer, getenv func(string) string) int {
	id := "?"
	if len(args) > 0 {
		id = args[len(args)-1]
	}
	exitAfter, _ := strconv.Atoi(getenv(EnvExitAfter))
	storage := getenv(EnvStorage)

	fmt.Fprintf(out, "node %s up\n", id)

	var (
		host      string
		port      int
		snapshots int
		seen      int
	)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		seen++
		cmd, err := protocol.Parse(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else {
			switch cmd.Kind {
			case protocol.KindInitialize:
				host, port = cmd.Host, cmd.Port
				fmt.Fprintf(out, "initialized %s:%d endowment=%d\n", host, port, cmd.Endowment)
			case protocol.KindJoin:
				fmt.Fprintf(out, "joined via %s:%d\n", cmd.Host, cmd.Port)
			case protocol.KindSnapshot:
				snapshots++
				if storage != "" && host != "" {
					dir := filepath.Join(storage, host+"_"+strconv.Itoa(port), strconv.Itoa(snapshots))
					if err := os.MkdirAll(dir, 0o755); err == nil {
						_ = os.WriteFile(filepath.Join(dir, "state"), []byte(id), 0o644)
					}
				}
				fmt.Fprintf(out, "snapshot %d\n", snapshots)
			default:
				fmt.Fprintf(out, "%s ok\n", cmd.Kind)
			}
		}
		if exitAfter > 0 && seen >= exitAfter {
			fmt.Fprintf(out, "node %s exiting\n", id)
			return 3
		}
	}
	return 0
}
