package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type ConsentDocType string

const (
	ConsentDocPolicy ConsentDocType = "policy"
	ConsentDocOffer  ConsentDocType = "offer"
)

type ConsentDoc struct {
	ID        int64
	Type      ConsentDocType
	Version   int
	Content   string
	Hash      string
	CreatedAt time.Time
}

// ContentHash is the canonical SHA-256 over the document body; version
// forking compares against it.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type ConsentAction string

const (
	ConsentAgree    ConsentAction = "agree"
	ConsentWithdraw ConsentAction = "withdraw"
)

type ConsentEvent struct {
	ID           int64
	DocID        int64
	Action       ConsentAction
	UserID       *int64
	BookingID    *int64
	ClientIP     string
	UserAgent    string
	Fingerprint  string
	PassengerIDs []int64
	CreatedAt    time.Time
}
