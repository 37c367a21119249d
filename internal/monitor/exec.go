package monitor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes one expanded command string. The default runner
// shells out; tests substitute their own to observe dispatch decisions.
type CommandRunner func(ctx context.Context, command string) error

// expandCommand replaces placeholders in the command template with values
// from the event that triggered it:
//
//	{}       full path of the changed file
//	{base}   base name of the changed file
//	{dir}    directory containing the changed file
//	{event}  event kind (create, modify, delete)
//
// A template with no placeholders comes back unchanged.
func expandCommand(template string, ev fsEvent) string {
	str := template
	str = strings.ReplaceAll(str, "{}", ev.path)
	str = strings.ReplaceAll(str, "{base}", filepath.Base(ev.path))
	str = strings.ReplaceAll(str, "{dir}", filepath.Dir(ev.path))
	str = strings.ReplaceAll(str, "{event}", string(ev.kind))
	return str
}

// runShellCommand executes the command through the shell so quoting, pipes,
// and redirection behave the way they would at a prompt. Output goes straight
// to the tool's stdout and stderr. The call blocks until the command exits;
// overlapping runs are deliberately impossible.
func runShellCommand(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
