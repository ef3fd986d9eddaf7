//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes raw mode left behind by device pickers or key grabs.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
