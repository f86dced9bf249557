package recorder

import "math"

// NumArgs is K, the number of argument slots every entry carries.
// Matches the RECORDER() macro family in the original C implementation,
// which always reserves four.
const NumArgs = 4

// Arg is one argument slot. It carries a machine-word value for numeric
// and floating-point conversions, and - since Go strings cannot safely
// be reduced to a bare pointer word without upsetting the garbage
// collector - a string side-channel used only when the format specifier
// calls for %s/%S. word == 0 for a string argument means the argument is
// the C-style NULL pointer, rendered as "<NULL>", regardless of str.
type Arg struct {
	word  uint64
	str   string
	isStr bool
}

// Int builds an argument slot from a signed integer.
func Int(v int64) Arg { return Arg{word: uint64(v)} }

// Uint builds an argument slot from an unsigned integer.
func Uint(v uint64) Arg { return Arg{word: v} }

// Float builds an argument slot carrying a floating-point value. The
// value is stored as the bit pattern of a float64, the same trick the
// original uses to pass a double through a machine word and recover it
// in the formatter (see render in format.go).
func Float(v float64) Arg { return Arg{word: math.Float64bits(v)} }

// Str builds a string argument slot. An empty string is a valid,
// non-NULL argument; use NullStr for the C NULL-pointer case.
func Str(s string) Arg { return Arg{word: 1, str: s, isStr: true} }

// NullStr builds a NULL string argument slot; the formatter renders it
// as "<NULL>" when the specifier is %s or %S.
func NullStr() Arg { return Arg{word: 0, isStr: true} }

// Entry is one fixed-size flight-recorder record.
type Entry struct {
	Timestamp uint64
	Order     uint64
	Where     string
	Format    string
	Args      [NumArgs]Arg
}
