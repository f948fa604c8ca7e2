package credential

import (
	"fmt"
	"strings"
	"time"
)

// Type is the credential category. It also selects which devices a driver
// provisions: plates go to cameras, faces and tags to terminals and readers.
type Type string

const (
	TypePlate Type = "PLATE"
	TypeFace  Type = "FACE"
	TypeTag   Type = "TAG"
)

// Valid reports whether t is PLATE, FACE or TAG.
func (t Type) Valid() bool {
	return t == TypePlate || t == TypeFace || t == TypeTag
}

// ParseType accepts a type name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// Credential is an identifier that grants access: a plate number, a face
// template reference or a card number.
//
// (Type, Value) is expected to be unique, but uniqueness is enforced by the
// administration layer that writes credentials, not here.
type Credential struct {
	ID    string `json:"id"`
	Type  Type   `json:"type"`
	Value string `json:"value"`

	// UserID is nil for unassigned credentials.
	UserID *string `json:"user_id,omitempty"`

	// ImageRef is the blob reference of the enrolment photo (FACE only).
	ImageRef *string `json:"image_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a person who holds credentials.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Document *string `json:"document,omitempty"`
}

// AccessGroup links users to the devices they may pass.
type AccessGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Subject is the denormalised view of a credential that drivers provision:
// the credential itself plus the owner fields every vendor wants alongside.
type Subject struct {
	CredentialID string
	Type         Type
	Value        string

	// UserID and UserName are empty for unassigned credentials.
	UserID   string
	UserName string

	// Image holds the enrolment photo for FACE credentials when available.
	Image []byte
}

// NewSubject builds a Subject from a credential and its optional owner.
func NewSubject(c *Credential, owner *User) Subject {
	s := Subject{CredentialID: c.ID, Type: c.Type, Value: c.Value}
	if owner != nil {
		s.UserID = owner.ID
		s.UserName = owner.Name
	}
	return s
}

// DisplayName returns the owner name, falling back to the credential value.
// Vendors require a non-empty name on every record.
func (s Subject) DisplayName() string {
	if s.UserName != "" {
		return s.UserName
	}
	return s.Value
}

// EmployeeNo returns the per-person key devices index records by. Every
// credential of one user shares it; unassigned credentials use their own ID.
func (s Subject) EmployeeNo() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.CredentialID
}

// PersonKey returns the key of the device person record that carries this
// credential. A FACE credential is a person of its own keyed by Value, which
// is what terminals report when they recognise the face. Other types attach
// to the owner's record under EmployeeNo.
func (s Subject) PersonKey() string {
	if s.Type == TypeFace {
		return s.Value
	}
	return s.EmployeeNo()
}
