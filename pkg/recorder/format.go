package recorder

import (
	"fmt"
	"math"
	"strings"
)

// render turns an entry's format string and argument slots into the
// message text, consuming at most NumArgs conversions left to right.
//
// This is a scanner, not a wrapper around fmt.Sprintf(format, args...):
// the entry's format string uses C printf conventions (floating
// conversions recovered from the same machine word as an integer would
// occupy, %s of a zero slot meaning NULL, length modifiers like l/ll/z
// that Go's fmt has no notion of), so each conversion is translated into
// a small Go-native format string and applied to a single argument. An
// unrecognized or unsupported conversion (%n, %*, anything this scanner
// doesn't know) aborts formatting of the remainder of the line, same as
// the original: whatever was emitted before the bad conversion stands.
func render(e Entry) string {
	var out strings.Builder
	argIndex := 0
	endedInNewline := false

	f := e.Format
	i := 0
	for i < len(f) {
		c := f[i]
		i++
		if c != '%' {
			out.WriteByte(c)
			endedInNewline = c == '\n'
			continue
		}

		spec, convChar, ok := scanConversion(f, &i)
		if !ok {
			// Unsupported or malformed conversion: stop here, same as
			// the original bailing out of its printf-alike loop.
			break
		}
		if convChar == '%' {
			out.WriteByte('%')
			endedInNewline = false
			continue
		}
		if argIndex >= NumArgs {
			break
		}

		arg := e.Args[argIndex]
		argIndex++
		out.WriteString(renderOne(spec, convChar, arg))
		endedInNewline = false
	}

	if !endedInNewline {
		out.WriteByte('\n')
	}
	return out.String()
}

// scanConversion consumes flags/width/precision/length-modifier
// characters starting at f[*i] (just past the '%') up to and including
// the terminating conversion character, appending everything (including
// the leading '%') to spec. *i is advanced past the conversion on
// return. ok is false for %n, %* (a width/precision supplied via an
// extra argument, which this fixed-slot model has no room for) or any
// character this scanner doesn't recognize.
func scanConversion(f string, i *int) (spec string, convChar byte, ok bool) {
	var b strings.Builder
	b.WriteByte('%')
	for *i < len(f) {
		c := f[*i]
		*i++
		switch c {
		case 'd', 'D', 'i', 'b', 'o', 'O', 'u', 'U', 'x', 'X', 'c', 'C', 's', 'S', 'p', '%':
			b.WriteByte(c)
			return b.String(), c, true
		case 'f', 'F', 'g', 'G', 'e', 'E', 'a', 'A':
			b.WriteByte(c)
			return b.String(), c, true
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
			'.', '+', '-', ' ', '#',
			'l', 'h', 'j', 'z', 't', 'q':
			b.WriteByte(c)
		default:
			return "", 0, false
		}
	}
	return "", 0, false
}

// renderOne applies one conversion to one argument, returning the text it
// produces.
func renderOne(spec string, convChar byte, arg Arg) string {
	switch convChar {
	case 's', 'S':
		if arg.word == 0 {
			return "<NULL>"
		}
		return fmt.Sprintf(goSpec(spec, 's'), arg.str)
	case 'c', 'C':
		return fmt.Sprintf(goSpec(spec, 'c'), rune(arg.word))
	case 'p':
		return fmt.Sprintf("0x%x", arg.word)
	case 'f', 'F', 'g', 'G', 'e', 'E', 'a', 'A':
		// The float-recovery trick: a floating conversion specifier
		// means the argument word holds the bit pattern of a float64,
		// not an integer value.
		v := math.Float64frombits(arg.word)
		return fmt.Sprintf(goSpec(spec, goFloatVerb(convChar)), v)
	case 'o', 'O':
		return fmt.Sprintf(goSpec(spec, 'o'), arg.word)
	case 'x':
		return fmt.Sprintf(goSpec(spec, 'x'), arg.word)
	case 'X':
		return fmt.Sprintf(goSpec(spec, 'X'), arg.word)
	case 'u', 'U':
		return fmt.Sprintf(goSpec(spec, 'd'), arg.word)
	case 'b':
		return fmt.Sprintf(goSpec(spec, 'b'), arg.word)
	case 'd', 'D', 'i':
		return fmt.Sprintf(goSpec(spec, 'd'), int64(arg.word))
	default:
		return ""
	}
}

func goFloatVerb(c byte) byte {
	switch c {
	case 'F':
		return 'f'
	case 'G':
		return 'g'
	case 'E':
		return 'e'
	case 'A', 'a':
		return 'x'
	default:
		return c
	}
}

// goSpec strips printf length modifiers (l, ll, h, hh, z, j, t, q) that
// have no meaning in Go's fmt, keeping flags/width/precision, and fixes
// the conversion character to verb.
func goSpec(spec string, verb byte) string {
	var b strings.Builder
	b.WriteByte('%')
	for i := 1; i < len(spec)-1; i++ {
		switch spec[i] {
		case 'l', 'h', 'j', 'z', 't', 'q':
			continue
		default:
			b.WriteByte(spec[i])
		}
	}
	b.WriteByte(verb)
	return b.String()
}
