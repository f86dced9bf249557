package shmchan

// inferType walks format the same way pkg/recorder's formatter does,
// classifying the argIndex-th conversion specifier's type. It returns
// TypeUnset if format has fewer than argIndex+1 conversions or the
// conversion found doesn't correspond to a channel-publishable type.
// %s/%S classify as unsigned (the argument's word is its NULL-ness, not
// a numeric value, but this matches the original's classification).
func inferType(format string, argIndex int) Type {
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		i++
		for i < len(format) {
			c := format[i]
			i++
			switch c {
			case '%':
				// Literal percent, not an argument; nothing to count.
			case 'd', 'D', 'i', 'b':
				if n == argIndex {
					return TypeSigned
				}
				n++
			case 'o', 'O', 'u', 'U', 'x', 'X', 'c', 'C', 'p', 's', 'S':
				if n == argIndex {
					return TypeUnsigned
				}
				n++
			case 'f', 'F', 'g', 'G', 'e', 'E', 'a', 'A':
				if n == argIndex {
					return TypeReal
				}
				n++
			case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
				'.', '+', '-', ' ', '#', 'l', 'h', 'j', 'z', 't', 'q':
				continue
			default:
				return TypeUnset
			}
			break
		}
		// i is one past the conversion character; step back so the
		// outer loop's increment lands on the next unread character.
		i--
		if n > argIndex {
			break
		}
	}
	return TypeUnset
}
