// Package keys maps keyboard keys to the byte sequences a program attached to
// an xterm-compatible terminal expects, and translates raw terminal input into
// those sequences.
//
// Translation always produces the normal-mode sequences. A remote program that
// switched the terminal to application cursor or keypad mode still receives
// CSI arrows (ESC [ A), not SS3 (ESC O A).
package keys

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrReservedKey is returned when encoding the detach combination.
var ErrReservedKey = errors.New("key combination is reserved for detach")

// DetachByte is Ctrl+Q. It is handled locally and never sent to the shell.
const DetachByte byte = 0x11

// Key identifies a special key.
type Key int

const (
	KeyUp Key = iota + 1
	KeyDown
	KeyRight
	KeyLeft
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert
	KeyDelete
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyTab
	KeyBackTab
	KeyBackspace
	KeyEnter
	KeyEscape
)

var sequences = map[Key]string{
	KeyUp:        "\x1b[A",
	KeyDown:      "\x1b[B",
	KeyRight:     "\x1b[C",
	KeyLeft:      "\x1b[D",
	KeyHome:      "\x1b[H",
	KeyEnd:       "\x1b[F",
	KeyPageUp:    "\x1b[5~",
	KeyPageDown:  "\x1b[6~",
	KeyInsert:    "\x1b[2~",
	KeyDelete:    "\x1b[3~",
	KeyF1:        "\x1bOP",
	KeyF2:        "\x1bOQ",
	KeyF3:        "\x1bOR",
	KeyF4:        "\x1bOS",
	KeyF5:        "\x1b[15~",
	KeyF6:        "\x1b[17~",
	KeyF7:        "\x1b[18~",
	KeyF8:        "\x1b[19~",
	KeyF9:        "\x1b[20~",
	KeyF10:       "\x1b[21~",
	KeyF11:       "\x1b[23~",
	KeyF12:       "\x1b[24~",
	KeyTab:       "\t",
	KeyBackTab:   "\x1b[Z",
	KeyBackspace: "\x7f",
	KeyEnter:     "\r",
	KeyEscape:    "\x1b",
}

var names = map[Key]string{
	KeyUp: "Up", KeyDown: "Down", KeyRight: "Right", KeyLeft: "Left",
	KeyHome: "Home", KeyEnd: "End", KeyPageUp: "PageUp", KeyPageDown: "PageDown",
	KeyInsert: "Insert", KeyDelete: "Delete",
	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",
	KeyTab: "Tab", KeyBackTab: "BackTab", KeyBackspace: "Backspace", KeyEnter: "Enter",
	KeyEscape: "Escape",
}

func (k Key) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// Encode returns the byte sequence for k, or nil for an unknown key.
func Encode(k Key) []byte {
	seq, ok := sequences[k]
	if !ok {
		return nil
	}
	return []byte(seq)
}

// FunctionKey returns the key for F1..F12.
func FunctionKey(n int) (Key, bool) {
	if n < 1 || n > 12 {
		return 0, false
	}
	return KeyF1 + Key(n-1), true
}

// EncodeCtrl returns the control code for Ctrl+letter (a-z, either case).
// Ctrl+Q is reserved for detaching.
func EncodeCtrl(letter byte) ([]byte, error) {
	switch {
	case letter >= 'a' && letter <= 'z':
	case letter >= 'A' && letter <= 'Z':
		letter += 'a' - 'A'
	default:
		return nil, fmt.Errorf("ctrl+%q is not a letter", letter)
	}
	code := letter & 0x1f
	if code == DetachByte {
		return nil, ErrReservedKey
	}
	return []byte{code}, nil
}

// EncodeRune returns the UTF-8 bytes of a printable character unchanged.
// Invalid runes encode as U+FFFD.
func EncodeRune(r rune) []byte {
	if !utf8.ValidRune(r) {
		r = utf8.RuneError
	}
	buf := make([]byte, utf8.RuneLen(r))
	utf8.EncodeRune(buf, r)
	return buf
}
