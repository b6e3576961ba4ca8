// Package notify raises desktop notifications when a run needs attention.
package notify

import (
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
)

// Notifier delivers a short alert to the operator.
type Notifier interface {
	Notify(title, message string) error
}

// Desktop sends macOS notifications through osascript.
type Desktop struct{}

func (Desktop) Notify(title, message string) error {
	return Send(title, message)
}

// Supported reports whether desktop notifications work on this platform.
func Supported() bool {
	return goruntime.GOOS == "darwin"
}

// Send sends a macOS notification via osascript with sound.
func Send(title, message string) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s" sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
