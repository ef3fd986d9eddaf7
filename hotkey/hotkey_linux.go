//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Linux input_event layout and key codes from linux/input-event-codes.h.
const (
	evKey          = 1
	valRelease     = 0
	valPress       = 1
	codeLCtrl      = 29
	codeRCtrl      = 97
	codeLShift     = 42
	codeRShift     = 54
	codeSpace      = 57
	inputEventSize = 24
)

var errNoKeyboards = errors.New("no keyboard devices found (is user in 'input' group?)")

// combo tracks modifier state for one input device. Autorepeat (value 2)
// leaves state untouched.
type combo struct {
	ctrl, shift, space bool
}

// feed reports whether the event completes or releases the combination.
func (c *combo) feed(code uint16, value int32) (down, up bool) {
	if value != valPress && value != valRelease {
		return false, false
	}
	pressed := value == valPress
	switch code {
	case codeLCtrl, codeRCtrl:
		c.ctrl = pressed
	case codeLShift, codeRShift:
		c.shift = pressed
	case codeSpace:
		switch {
		case pressed && !c.space && c.ctrl && c.shift:
			c.space = true
			return true, false
		case !pressed && c.space:
			c.space = false
			return false, true
		}
	}
	return false, false
}

type evdevHotkey struct {
	keydown chan struct{}
	keyup   chan struct{}
	files   []*os.File
	stop    chan struct{}
	once    sync.Once
}

func New() Hotkey {
	return &evdevHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (h *evdevHotkey) Register() error {
	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return errNoKeyboards
	}
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.watch(f)
	}
	if len(h.files) == 0 {
		return fmt.Errorf("could not open any of %d keyboard(s) (run: sudo usermod -aG input $USER, then re-login)", len(keyboards))
	}
	return nil
}

func (h *evdevHotkey) watch(f *os.File) {
	buf := make([]byte, inputEventSize*16)
	var c combo
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		select {
		case <-h.stop:
			return
		default:
		}
		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			if binary.LittleEndian.Uint16(buf[i+16:]) != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(buf[i+18:])
			value := int32(binary.LittleEndian.Uint32(buf[i+20:]))
			down, up := c.feed(code, value)
			if down {
				notify(h.keydown)
			}
			if up {
				notify(h.keyup)
			}
		}
	}
}

func (h *evdevHotkey) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "event") && isKeyboard(name) {
			out = append(out, filepath.Join("/dev/input", name))
		}
	}
	return out, nil
}

// isKeyboard guesses from the key capability bitmap: mice and power buttons
// expose only a few words.
func isKeyboard(event string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/class/input", event, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}

// Diagnose checks that at least one keyboard device can be opened.
func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", errNoKeyboards
	}
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		f.Close()
		return fmt.Sprintf("%s via %s (%d keyboard(s))", Combo, path, len(keyboards)), nil
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
}
