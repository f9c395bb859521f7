package schema

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// charsetEncodings maps the MySQL charset prefix of a collation name (the
// part before its first underscore, e.g. "latin1" out of
// "latin1_swedish_ci") to the x/text encoding that decodes its row bytes to
// UTF-8. Charsets not listed here are assumed already UTF-8-compatible
// (utf8, utf8mb4, ascii, binary) and are left alone.
var charsetEncodings = map[string]encoding.Encoding{
	"latin1":  charmap.Windows1252, // MySQL's "latin1" is actually cp1252, not ISO-8859-1
	"latin2":  charmap.ISO8859_2,
	"latin5":  charmap.ISO8859_9,
	"latin7":  charmap.ISO8859_13,
	"greek":   charmap.ISO8859_7,
	"hebrew":  charmap.ISO8859_8,
	"cp866":   charmap.CodePage866,
	"cp1250":  charmap.Windows1250,
	"cp1251":  charmap.Windows1251,
	"cp1256":  charmap.Windows1256,
	"koi8r":   charmap.KOI8R,
	"koi8u":   charmap.KOI8U,
	"gbk":     simplifiedchinese.GBK,
	"gb2312":  simplifiedchinese.GBK,
	"gb18030": simplifiedchinese.GB18030,
	"big5":    traditionalchinese.Big5,
	"sjis":    japanese.ShiftJIS,
	"ujis":    japanese.EUCJP,
	"euckr":   korean.EUCKR,
}

// charsetOf returns collation's charset prefix, the part before its first
// underscore (e.g. "utf8mb4" out of "utf8mb4_general_ci"). A bare charset
// name with no underscore (rare, but "binary" is one) is returned as-is.
func charsetOf(collation string) string {
	if i := strings.IndexByte(collation, '_'); i >= 0 {
		return collation[:i]
	}
	return collation
}

// DecodeCollatedString converts data, the raw bytes a CHAR/VARCHAR/TEXT
// column carried on the wire, to a UTF-8 Go string using the x/text
// encoding charsetEncodings maps collation's charset to. Collations with no
// entry (utf8/utf8mb4/ascii/binary, and anything unrecognized) are assumed
// to already be valid UTF-8 and returned unconverted, so an unknown
// collation degrades to the pre-conversion behavior instead of failing the
// row.
func DecodeCollatedString(data []byte, collation string) (string, error) {
	enc, ok := charsetEncodings[strings.ToLower(charsetOf(collation))]
	if !ok {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
