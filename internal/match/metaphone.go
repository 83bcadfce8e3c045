package match

import "strings"

const maxPhoneticCodeLen = 8

// Metaphone encodes a single word into a consonant-skeleton code. This is
// not textbook Metaphone: several rules (Z→S, the GH handling, H
// suppression after C/S/P/T/G) are tuned so that common speech-to-text
// artifacts ("Zack"/"Sack", "Kitchen"/"Kitchin", "Light"/"Lite") collapse
// to the same code. Rule order is load-bearing: cached phonetic keys are
// only comparable while the encoder stays byte-for-byte stable.
func Metaphone(word string) string {
	var w []byte
	for _, r := range strings.ToUpper(word) {
		if r >= 'A' && r <= 'Z' {
			w = append(w, byte(r))
		}
	}
	if len(w) == 0 {
		return ""
	}

	// Silent leading digraphs.
	if len(w) >= 2 {
		switch string(w[:2]) {
		case "AE", "GN", "KN", "PN", "WR":
			w = w[1:]
		}
	}

	n := len(w)
	out := make([]byte, 0, maxPhoneticCodeLen)
	emit := func(c byte) {
		if len(out) < maxPhoneticCodeLen {
			out = append(out, c)
		}
	}

	for i := 0; i < n && len(out) < maxPhoneticCodeLen; i++ {
		c := w[i]

		// Collapse duplicate consonants, except C.
		if i > 0 && c == w[i-1] && c != 'C' {
			continue
		}

		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			if i == 0 {
				emit(c)
			}
		case 'C':
			if i+1 < n && w[i+1] == 'H' {
				emit('X')
				i++
			} else if i+1 < n && isSoftener(w[i+1]) {
				emit('S')
			} else {
				emit('K')
			}
		case 'S':
			if i+1 < n && w[i+1] == 'H' {
				emit('X')
				i++
			} else {
				emit('S')
			}
		case 'P':
			if i+1 < n && w[i+1] == 'H' {
				emit('F')
				i++
			} else {
				emit('P')
			}
		case 'T':
			if i+1 < n && w[i+1] == 'H' {
				emit('0')
				i++
			} else {
				emit('T')
			}
		case 'G':
			switch {
			case i+1 < n && w[i+1] == 'H':
				// GH is silent before a consonant or at word end,
				// hard K before a vowel.
				if i+2 < n && isVowel(w[i+2]) {
					emit('K')
				}
				i++
			case i+1 == n-1 && w[i+1] == 'N':
				// Silent before N at word end ("sign").
			case i+1 < n && isSoftener(w[i+1]):
				emit('J')
			default:
				emit('K')
			}
		case 'X':
			emit('K')
			emit('S')
		case 'Z':
			emit('S')
		case 'Q':
			emit('K')
		case 'H':
			// Kept only before a vowel, and never after C/S/P/T/G
			// (those digraphs were already consumed above).
			if i+1 < n && isVowel(w[i+1]) && !(i > 0 && isHSuppressor(w[i-1])) {
				emit('H')
			}
		case 'W', 'Y':
			if i+1 < n && isVowel(w[i+1]) {
				emit(c)
			}
		default:
			emit(c)
		}
	}
	return string(out)
}

func isVowel(c byte) bool {
	switch c {
	case 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}

// isSoftener reports whether c softens a preceding C or G.
func isSoftener(c byte) bool {
	return c == 'E' || c == 'I' || c == 'Y'
}

func isHSuppressor(c byte) bool {
	switch c {
	case 'C', 'S', 'P', 'T', 'G':
		return true
	}
	return false
}
