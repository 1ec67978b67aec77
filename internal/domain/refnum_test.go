package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBookingNumberFromSeq_Format(t *testing.T) {
	num, err := BookingNumberFromSeq(0)
	assert.NoError(t, err)
	assert.Len(t, num, 6)
	assert.True(t, ValidBookingNumber(num))

	num, err = BookingNumberFromSeq(123456)
	assert.NoError(t, err)
	assert.Len(t, num, 6)
	assert.True(t, ValidBookingNumber(num))
}

func TestBookingNumberFromSeq_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for seq := int64(0); seq < 5000; seq++ {
		num, err := BookingNumberFromSeq(seq)
		assert.NoError(t, err)
		_, dup := seen[num]
		assert.False(t, dup, "duplicate booking number %s at seq %d", num, seq)
		seen[num] = struct{}{}
	}
}

func TestBookingNumberFromSeq_OutOfRange(t *testing.T) {
	_, err := BookingNumberFromSeq(-1)
	assert.Error(t, err)

	_, err = BookingNumberFromSeq(MaxBookingSeq + 1)
	assert.Error(t, err)
}

func TestValidBookingNumber_RejectsTampering(t *testing.T) {
	num, err := BookingNumberFromSeq(98765)
	assert.NoError(t, err)

	// Substituting any payload character breaks the checksum.
	for i := 0; i < len(num)-1; i++ {
		replacement := byte('0')
		if num[i] == '0' {
			replacement = '1'
		}
		tampered := num[:i] + string(replacement) + num[i+1:]
		assert.False(t, ValidBookingNumber(tampered), "tampered %s accepted", tampered)
	}

	assert.False(t, ValidBookingNumber("ABC"))
	assert.False(t, ValidBookingNumber("ABCDEL")) // L is outside the alphabet
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(BookingStatusDraft, BookingStatusPassengersAdded))
	assert.True(t, CanTransition(BookingStatusPaymentPending, BookingStatusPaymentConfirmed))
	assert.True(t, CanTransition(BookingStatusPaymentFailed, BookingStatusPaymentPending))

	assert.False(t, CanTransition(BookingStatusDraft, BookingStatusCompleted))
	assert.False(t, CanTransition(BookingStatusCompleted, BookingStatusExpired))
	assert.False(t, CanTransition(BookingStatusExpired, BookingStatusPaymentPending))
	assert.False(t, CanTransition(BookingStatusCancelled, BookingStatusDraft))
}
