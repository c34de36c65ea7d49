package keys

import "sort"

// inputSequences maps escape sequences terminals send for special keys to
// the key they stand for. Several terminals send non-canonical variants
// (application cursor mode, rxvt, the linux console); all of them are
// re-encoded with the canonical sequence.
var inputSequences = map[string]Key{
	"\x1b[A": KeyUp, "\x1b[B": KeyDown, "\x1b[C": KeyRight, "\x1b[D": KeyLeft,
	"\x1bOA": KeyUp, "\x1bOB": KeyDown, "\x1bOC": KeyRight, "\x1bOD": KeyLeft,

	"\x1b[H": KeyHome, "\x1bOH": KeyHome, "\x1b[1~": KeyHome, "\x1b[7~": KeyHome,
	"\x1b[F": KeyEnd, "\x1bOF": KeyEnd, "\x1b[4~": KeyEnd, "\x1b[8~": KeyEnd,

	"\x1b[2~": KeyInsert, "\x1b[3~": KeyDelete,
	"\x1b[5~": KeyPageUp, "\x1b[6~": KeyPageDown,

	"\x1bOP": KeyF1, "\x1bOQ": KeyF2, "\x1bOR": KeyF3, "\x1bOS": KeyF4,
	"\x1b[11~": KeyF1, "\x1b[12~": KeyF2, "\x1b[13~": KeyF3, "\x1b[14~": KeyF4,
	"\x1b[[A": KeyF1, "\x1b[[B": KeyF2, "\x1b[[C": KeyF3, "\x1b[[D": KeyF4, "\x1b[[E": KeyF5,
	"\x1b[15~": KeyF5, "\x1b[17~": KeyF6, "\x1b[18~": KeyF7, "\x1b[19~": KeyF8,
	"\x1b[20~": KeyF9, "\x1b[21~": KeyF10, "\x1b[23~": KeyF11, "\x1b[24~": KeyF12,

	"\x1b[Z": KeyBackTab,
}

// inputPrefixes holds the keys of inputSequences, longest first.
var inputPrefixes = func() []string {
	out := make([]string, 0, len(inputSequences))
	for seq := range inputSequences {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// Translate converts one batch of raw terminal input into the bytes sent to
// the remote shell. Recognized special keys and control bytes go through the
// encoder; unrecognized escape sequences and everything else pass through
// unchanged. If the batch contains the detach byte, Translate returns the
// bytes before it and detach=true; the rest of the batch is dropped.
func Translate(batch []byte) (out []byte, detach bool) {
	out = make([]byte, 0, len(batch))
	for i := 0; i < len(batch); {
		b := batch[i]
		switch {
		case b == DetachByte:
			return out, true

		case b == 0x1b:
			if key, n := matchSequence(batch[i:]); n > 0 {
				out = append(out, Encode(key)...)
				i += n
				continue
			}
			n := escapeLength(batch[i:])
			out = append(out, batch[i:i+n]...)
			i += n

		case b == '\t':
			out = append(out, Encode(KeyTab)...)
			i++
		case b == '\r':
			out = append(out, Encode(KeyEnter)...)
			i++
		case b == 0x7f:
			out = append(out, Encode(KeyBackspace)...)
			i++
		case b >= 0x01 && b <= 0x1a:
			seq, err := EncodeCtrl('a' + b - 1)
			if err != nil {
				seq = []byte{b}
			}
			out = append(out, seq...)
			i++

		default:
			out = append(out, b)
			i++
		}
	}
	return out, false
}

func matchSequence(data []byte) (Key, int) {
	for _, seq := range inputPrefixes {
		if len(data) >= len(seq) && string(data[:len(seq)]) == seq {
			return inputSequences[seq], len(seq)
		}
	}
	return 0, 0
}

// escapeLength returns how many bytes of data, which starts with ESC, form
// one escape sequence: a full CSI or SS3 sequence if present, otherwise ESC
// alone (Alt+key and a bare Escape are forwarded as-is).
func escapeLength(data []byte) int {
	if len(data) < 2 {
		return 1
	}
	switch data[1] {
	case '[':
		// CSI: parameter bytes 0x30-0x3F, intermediates 0x20-0x2F, final 0x40-0x7E.
		for i := 2; i < len(data); i++ {
			c := data[i]
			if c >= 0x40 && c <= 0x7e {
				return i + 1
			}
			if c < 0x20 || c > 0x3f {
				return i
			}
		}
		return len(data)
	case 'O':
		if len(data) >= 3 {
			return 3
		}
		return 2
	}
	return 1
}
