package domain

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type DocumentType string

const (
	DocumentPassport        DocumentType = "passport"
	DocumentForeignPassport DocumentType = "foreign_passport"
	DocumentBirthCert       DocumentType = "birth_certificate"
)

type Passenger struct {
	ID             int64
	UserID         *int64
	FirstName      string
	LastName       string
	MiddleName     string
	Gender         Gender
	BirthDate      time.Time
	DocumentType   DocumentType
	DocumentNumber string
	DocumentExpiry *time.Time
	Citizenship    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key dedupes owned passengers: a user re-entering the same person
// resolves to the existing row instead of creating a twin.
func (p Passenger) Key() string {
	return p.FirstName + "|" + p.LastName + "|" + p.BirthDate.Format("2006-01-02") +
		"|" + string(p.DocumentType) + "|" + p.DocumentNumber
}
