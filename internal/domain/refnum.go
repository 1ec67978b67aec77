package domain

import "strings"

// refAlphabet excludes I, L and O to keep booking numbers readable over
// the phone. 33 symbols, 5 payload positions, 1 checksum position.
const refAlphabet = "0123456789ABCDEFGHJKMNPQRSTUVWXYZ"

const refPayloadLen = 5

// MaxBookingSeq is the largest sequence value the 5 payload characters
// can encode.
const MaxBookingSeq = 33*33*33*33*33 - 1

// BookingNumberFromSeq encodes a strictly increasing sequence value
// into the public 6-character booking number. The encoding is a
// bijection over [0, MaxBookingSeq], so distinct sequence values can
// never collide.
func BookingNumberFromSeq(seq int64) (string, error) {
	if seq < 0 || seq > MaxBookingSeq {
		return "", Ef(KindFatal, "booking sequence %d out of range", seq)
	}
	buf := make([]byte, refPayloadLen)
	n := seq
	for i := refPayloadLen - 1; i >= 0; i-- {
		buf[i] = refAlphabet[n%33]
		n /= 33
	}
	return string(buf) + string(refAlphabet[refChecksum(buf)]), nil
}

// ValidBookingNumber reports whether s has the expected length,
// alphabet and checksum.
func ValidBookingNumber(s string) bool {
	if len(s) != refPayloadLen+1 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(refAlphabet, r) {
			return false
		}
	}
	return refAlphabet[refChecksum([]byte(s[:refPayloadLen]))] == s[refPayloadLen]
}

// refChecksum is a weighted sum over payload symbol values; the
// position weights catch transpositions, not just substitutions.
func refChecksum(payload []byte) int {
	sum := 0
	for i, c := range payload {
		sum += (i + 1) * strings.IndexByte(refAlphabet, c)
	}
	return sum % 33
}
