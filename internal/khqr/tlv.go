package khqr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxFieldLength = 99

type field struct {
	tag   string
	value string
}

// tlvWriter appends EMV tag-length-value fields and keeps the first error.
type tlvWriter struct {
	sb  strings.Builder
	err error
}

func (w *tlvWriter) add(tag, value string) {
	if w.err != nil {
		return
	}
	n := utf8.RuneCountInString(value)
	if n > maxFieldLength {
		w.err = fmt.Errorf("%w: tag %s is %d characters", ErrFieldTooLong, tag, n)
		return
	}
	w.sb.WriteString(tag)
	w.sb.WriteString(fmt.Sprintf("%02d", n))
	w.sb.WriteString(value)
}

// addOptional skips empty values.
func (w *tlvWriter) addOptional(tag, value string) {
	if value == "" {
		return
	}
	w.add(tag, value)
}

func (w *tlvWriter) String() (string, error) {
	return w.sb.String(), w.err
}

func parseTLV(payload string) ([]field, error) {
	r := []rune(payload)
	var fields []field

	for i := 0; i < len(r); {
		if i+4 > len(r) {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedPayload, i)
		}
		tag := string(r[i : i+2])
		if !isDigits(tag) {
			return nil, fmt.Errorf("%w: bad tag %q at offset %d", ErrMalformedPayload, tag, i)
		}
		length, err := strconv.Atoi(string(r[i+2 : i+4]))
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: bad length for tag %s", ErrMalformedPayload, tag)
		}
		i += 4
		if i+length > len(r) {
			return nil, fmt.Errorf("%w: value of tag %s overruns payload", ErrMalformedPayload, tag)
		}
		fields = append(fields, field{tag: tag, value: string(r[i : i+length])})
		i += length
	}

	return fields, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
