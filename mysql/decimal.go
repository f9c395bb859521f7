package mysql

import (
	"strings"

	"github.com/pingcap/errors"
	"github.com/shopspring/decimal"
)

// MaxDigits is the maximum number of decimal digits a Decimal can hold,
// matching MySQL's DECIMAL(65, ...) ceiling.
const MaxDigits = 65

// maxDigitsPerWord is the number of base-10 digits packed into one 4-byte
// storage word (DIG_PER_DEC1 in the server source).
const maxDigitsPerWord = 9

// digitBase is 10^maxDigitsPerWord: the base each storage word is in.
const digitBase = 1000000000

// digits2bytes maps a partial digit-group width (0..9 digits) to the number
// of bytes used to store it, taken verbatim from the server's dig2bytes
// table.
var digits2bytes = [10]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

var powers10 = [10]int64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000, 1000000000,
}

// storageWords is the number of 4-byte words needed to hold MaxDigits
// integer digits plus MaxDigits fractional digits (worst case), rounded up.
const storageWords = 2 * ((MaxDigits + maxDigitsPerWord - 1) / maxDigitsPerWord)

// Decimal is the decoded form of a MySQL binary-coded DECIMAL value: a
// sign, an integer digit count, a fractional digit count, and the packed
// base-10^9 digit groups themselves (most significant word first).
//
// Storage layout follows the server's on-disk format: full words hold
// maxDigitsPerWord digits each; the first integer word and the last
// fractional word may be "partial" and only occupy digits2bytes[n] bytes,
// but once decoded every word here is normalized to a full int32 for ease
// of arithmetic. Integer words are ordered most-significant first,
// immediately followed by fractional words most-significant first.
type Decimal struct {
	Negative bool
	Intg     int // number of integer digits
	Frac     int // number of fractional digits
	words    []int32
}

// FromBinary decodes the packed binary representation used on the wire for
// NEWDECIMAL columns and DECIMAL-typed binlog row values. precision and
// scale come from the column's metadata (stored in the TableMap event).
func FromBinary(buf []byte, precision, scale int) (Decimal, error) {
	if precision < scale {
		return Decimal{}, errors.Trace(ErrDecimalBadNum)
	}
	if precision > MaxDigits {
		return Decimal{}, errors.Trace(ErrDecimalOverflow)
	}

	if len(buf) == 0 {
		return Decimal{}, errors.Trace(ErrDecimalBadNum)
	}

	// The sign bit lives in the high bit of the very first byte. Per-byte
	// XOR inverts every byte when negative; the first byte additionally
	// gets its sign bit flipped back so the rest of the decode can treat
	// the buffer as plain unsigned big-endian groups.
	negative := buf[0]&0x80 == 0
	var maskByte byte
	if negative {
		maskByte = 0xff
	}
	work := make([]byte, len(buf))
	for i, b := range buf {
		work[i] = b ^ maskByte
	}
	work[0] ^= 0x80

	intg := precision - scale
	frac := scale
	intg0, intg0x := intg/maxDigitsPerWord, intg%maxDigitsPerWord
	frac0, frac0x := frac/maxDigitsPerWord, frac%maxDigitsPerWord

	var words []int32
	off := 0

	unpackN := func(n int) (int32, error) {
		if off+n > len(work) {
			return 0, errors.Trace(ErrDecimalBadNum)
		}
		var v uint32
		for i := 0; i < n; i++ {
			v = v<<8 | uint32(work[off+i])
		}
		off += n
		return int32(v), nil
	}

	// Leading partial integer group.
	intgReduced := intg
	if intg0x != 0 {
		count := digits2bytes[intg0x]
		x, err := unpackN(count)
		if err != nil {
			return Decimal{}, err
		}
		if int64(x) >= powers10[intg0x+1] {
			return Decimal{}, errors.Trace(ErrDecimalBadNum)
		}
		if x != 0 {
			words = append(words, x)
		} else {
			intgReduced -= intg0x
		}
	}

	// Full integer groups, high to low; leading zero words collapse intg.
	for i := 0; i < intg0; i++ {
		x, err := unpackN(4)
		if err != nil {
			return Decimal{}, err
		}
		if x > digitBase-1 {
			return Decimal{}, errors.Trace(ErrDecimalBadNum)
		}
		if x != 0 || len(words) != 0 {
			words = append(words, x)
		} else {
			intgReduced -= maxDigitsPerWord
		}
	}

	fracWords := make([]int32, 0, frac0+1)
	for i := 0; i < frac0; i++ {
		x, err := unpackN(4)
		if err != nil {
			return Decimal{}, err
		}
		if x > digitBase-1 {
			return Decimal{}, errors.Trace(ErrDecimalBadNum)
		}
		fracWords = append(fracWords, x)
	}

	fracReduced := frac
	if frac0x != 0 {
		count := digits2bytes[frac0x]
		x, err := unpackN(count)
		if err != nil {
			return Decimal{}, err
		}
		if int64(x) > powers10[frac0x+1] {
			return Decimal{}, errors.Trace(ErrDecimalBadNum)
		}
		if x != 0 {
			// Left-align the partial fractional group within a full word.
			x *= int32(powers10[maxDigitsPerWord-frac0x])
			fracWords = append(fracWords, x)
		} else {
			fracReduced -= frac0x
		}
	}

	if intgReduced == 0 && fracReduced == 0 {
		return Decimal{}, nil
	}

	d := Decimal{
		Intg:     intgReduced,
		Frac:     fracReduced,
		Negative: negative,
	}
	d.words = append(d.words, words...)
	d.words = append(d.words, fracWords...)
	return d, nil
}

// FromString parses a MySQL DECIMAL textual literal: optional leading
// spaces, optional sign, digits, optional '.', digits. Scientific notation
// is not recognized, matching the original parser.
func FromString(s string) (Decimal, error) {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i == len(s) {
		return Decimal{}, errors.Trace(ErrDecimalBadNum)
	}

	negative := false
	switch s[i] {
	case '-':
		negative = true
		i++
	case '+':
		i++
	}

	intStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	intDigits := s[intStart:i]

	fracDigits := ""
	if i < len(s) && s[i] == '.' {
		i++
		fracStart := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		fracDigits = s[fracStart:i]
	}

	if len(intDigits)+len(fracDigits) == 0 {
		return Decimal{}, errors.Trace(ErrDecimalBadNum)
	}
	if len(intDigits)+len(fracDigits) > MaxDigits {
		return Decimal{}, errors.Trace(ErrDecimalOverflow)
	}

	d := Decimal{
		Intg:     len(intDigits),
		Frac:     len(fracDigits),
		Negative: negative,
	}

	// Integer part: group from the least-significant end, most-significant
	// word first in d.words.
	if n := len(intDigits); n > 0 {
		var groups []int32
		for end := n; end > 0; {
			start := end - maxDigitsPerWord
			if start < 0 {
				start = 0
			}
			var x int64
			for _, c := range intDigits[start:end] {
				x = x*10 + int64(c-'0')
			}
			groups = append([]int32{int32(x)}, groups...)
			end = start
		}
		d.words = append(d.words, groups...)
	}

	// Fractional part: group from the most-significant end.
	if n := len(fracDigits); n > 0 {
		for start := 0; start < n; start += maxDigitsPerWord {
			end := start + maxDigitsPerWord
			chunk := fracDigits[start:min(end, n)]
			var x int64
			for _, c := range chunk {
				x = x*10 + int64(c-'0')
			}
			if len(chunk) < maxDigitsPerWord {
				x *= powers10[maxDigitsPerWord-len(chunk)]
			}
			d.words = append(d.words, int32(x))
		}
	}

	if d.Negative {
		zero := true
		for _, w := range d.words {
			if w != 0 {
				zero = false
				break
			}
		}
		if zero {
			d.Negative = false
		}
	}
	return d, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// intgWordCount reports how many words hold the integer digits.
func (d Decimal) intgWordCount() int {
	if d.Intg == 0 {
		return 0
	}
	n := d.Intg / maxDigitsPerWord
	if d.Intg%maxDigitsPerWord != 0 {
		n++
	}
	return n
}

// String renders the canonical textual form: a leading "0" is emitted when
// there is no integer part, trailing fractional zeros are trimmed, and the
// decimal point is suppressed entirely when that trim leaves no fractional
// digits.
func (d Decimal) String() string {
	if d.Intg == 0 && d.Frac == 0 {
		return "0"
	}

	var sb strings.Builder
	if d.Negative {
		sb.WriteByte('-')
	}

	intgWords := d.intgWordCount()
	if d.Intg == 0 {
		sb.WriteByte('0')
	} else {
		first := true
		for i := 0; i < intgWords; i++ {
			width := maxDigitsPerWord
			if i == 0 && d.Intg%maxDigitsPerWord != 0 {
				width = d.Intg % maxDigitsPerWord
			}
			sb.WriteString(formatWord(d.words[i], width, !first))
			first = false
		}
	}

	if d.Frac > 0 {
		fracWords := d.words[intgWords:]
		remaining := d.Frac
		var frac strings.Builder
		for _, w := range fracWords {
			width := maxDigitsPerWord
			if remaining < maxDigitsPerWord {
				width = remaining
			}
			frac.WriteString(formatWordFrac(w, width))
			remaining -= width
		}
		fracStr := strings.TrimRight(frac.String(), "0")
		if fracStr != "" {
			sb.WriteByte('.')
			sb.WriteString(fracStr)
		}
	}
	return sb.String()
}

func formatWord(w int32, width int, zeroPad bool) string {
	s := itoa(int64(w))
	if zeroPad {
		for len(s) < width {
			s = "0" + s
		}
	}
	return s
}

// formatWordFrac renders a fractional word that logically holds `width`
// significant leading digits out of a full 9-digit group (the word's value
// was left-shifted into the high digits at decode/parse time for partial
// trailing groups).
func formatWordFrac(w int32, width int) string {
	full := itoa(int64(w))
	for len(full) < maxDigitsPerWord {
		full = "0" + full
	}
	if width >= maxDigitsPerWord {
		return full
	}
	return full[:width]
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Float64 converts the decimal to a float64 by accumulating integer groups
// times 10^9 each and fractional groups scaled by their position.
func (d Decimal) Float64() float64 {
	var v float64
	intgWords := d.intgWordCount()
	for i := 0; i < intgWords; i++ {
		v = v*digitBase + float64(d.words[i])
	}
	scale := 1.0
	for _, w := range d.words[intgWords:] {
		scale /= digitBase
		v += float64(w) * scale
	}
	if d.Negative {
		v = -v
	}
	return v
}

// Decimal converts to a shopspring/decimal.Decimal via the canonical string
// form, for callers that want arbitrary-precision arithmetic rather than
// this package's fixed binary layout.
func (d Decimal) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

// Equal compares two decimals the way the original implementation does:
// signs must agree (a zero value compares equal regardless of sign), and
// digit groups must agree once the shorter integer/fractional part is
// conceptually zero-padded to match the longer.
func (d Decimal) Equal(o Decimal) bool {
	dZero := d.Intg == 0 && d.Frac == 0
	oZero := o.Intg == 0 && o.Frac == 0
	if dZero && oZero {
		return true
	}
	if d.Negative != o.Negative {
		return false
	}
	return d.String() == o.String() || equalDigits(d, o)
}

func equalDigits(d, o Decimal) bool {
	di := d.intgWordCount()
	oi := o.intgWordCount()
	if di != oi {
		return false
	}
	for i := 0; i < di; i++ {
		if d.words[i] != o.words[i] {
			return false
		}
	}
	dFrac := d.words[di:]
	oFrac := o.words[oi:]
	n := len(dFrac)
	if len(oFrac) > n {
		n = len(oFrac)
	}
	for i := 0; i < n; i++ {
		var a, b int32
		if i < len(dFrac) {
			a = dFrac[i]
		}
		if i < len(oFrac) {
			b = oFrac[i]
		}
		if a != b {
			return false
		}
	}
	return true
}
