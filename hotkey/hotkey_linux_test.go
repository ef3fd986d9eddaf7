//go:build linux

package hotkey

import "testing"

func TestComboFeed(t *testing.T) {
	type ev struct {
		code     uint16
		value    int32
		down, up bool
	}
	tests := []struct {
		name   string
		events []ev
	}{
		{"full combo", []ev{
			{codeLCtrl, valPress, false, false},
			{codeLShift, valPress, false, false},
			{codeSpace, valPress, true, false},
			{codeSpace, valRelease, false, true},
		}},
		{"right modifiers", []ev{
			{codeRCtrl, valPress, false, false},
			{codeRShift, valPress, false, false},
			{codeSpace, valPress, true, false},
		}},
		{"space without shift", []ev{
			{codeLCtrl, valPress, false, false},
			{codeSpace, valPress, false, false},
			{codeSpace, valRelease, false, false},
		}},
		{"autorepeat ignored", []ev{
			{codeLCtrl, valPress, false, false},
			{codeLShift, valPress, false, false},
			{codeSpace, valPress, true, false},
			{codeSpace, 2, false, false},
			{codeSpace, 2, false, false},
			{codeSpace, valRelease, false, true},
		}},
		{"modifier released first still ends combo", []ev{
			{codeLCtrl, valPress, false, false},
			{codeLShift, valPress, false, false},
			{codeSpace, valPress, true, false},
			{codeLCtrl, valRelease, false, false},
			{codeSpace, valRelease, false, true},
			{codeSpace, valPress, false, false},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c combo
			for i, e := range tt.events {
				down, up := c.feed(e.code, e.value)
				if down != e.down || up != e.up {
					t.Errorf("event %d: got down=%v up=%v, want down=%v up=%v", i, down, up, e.down, e.up)
				}
			}
		})
	}
}
