package hotkey

import "sync"

// FakeHotkey is driven by tests through SimKeydown and SimKeyup.
type FakeHotkey struct {
	down chan struct{}
	up   chan struct{}

	once     sync.Once
	released chan struct{}
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		down:     make(chan struct{}, 1),
		up:       make(chan struct{}, 1),
		released: make(chan struct{}),
	}
}

func (f *FakeHotkey) Register() error { return nil }

func (f *FakeHotkey) Unregister() {
	f.once.Do(func() { close(f.released) })
}

// Released is closed after the first Unregister.
func (f *FakeHotkey) Released() <-chan struct{} { return f.released }

func (f *FakeHotkey) Keydown() <-chan struct{} { return f.down }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.up }

func (f *FakeHotkey) SimKeydown() { f.down <- struct{}{} }
func (f *FakeHotkey) SimKeyup()   { f.up <- struct{}{} }
