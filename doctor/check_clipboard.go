package doctor

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"

	"parley/audio"
)

// checkClipboard verifies the clipboard used to copy replies from the TUI.
// Clipboard tools can hang when no display server is reachable.
func checkClipboard(_ Config, _ audio.Context) bool {
	if clipboard.Unsupported {
		fmt.Println("  FAIL: no clipboard utility found (install xclip, xsel or wl-clipboard)")
		return false
	}

	previous, _ := clipboard.ReadAll()
	testStr := fmt.Sprintf("parley-doctor-%d", time.Now().UnixNano())

	type result struct {
		readback string
		err      error
		phase    string
	}
	ch := make(chan result, 1)
	go func() {
		if err := clipboard.WriteAll(testStr); err != nil {
			ch <- result{err: err, phase: "write"}
			return
		}
		got, err := clipboard.ReadAll()
		if err != nil {
			ch <- result{err: err, phase: "read"}
			return
		}
		ch <- result{readback: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			fmt.Printf("  FAIL: clipboard %s failed: %v\n", res.phase, res.err)
			return false
		}
		if res.readback != testStr {
			fmt.Printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, res.readback)
			return false
		}
		if previous != "" {
			clipboard.WriteAll(previous)
		}
		fmt.Println("  PASS: clipboard write/read verified")
		return true
	case <-time.After(3 * time.Second):
		fmt.Println("  FAIL: clipboard timed out (display server not accessible?)")
		return false
	}
}
