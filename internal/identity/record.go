package identity

// Record holds the fields extracted from a single identity document image.
// Absent values are nil.
type Record struct {
	Image       *string `json:"image,omitempty"`
	Name        *string `json:"name"`
	DateOfBirth *string `json:"dob"`
}

// PairSize is the number of records a well-formed comparison carries.
const PairSize = 2

// NameValue returns the name or "" when absent.
func (r Record) NameValue() string {
	if r.Name == nil {
		return ""
	}
	return *r.Name
}

// DateOfBirthValue returns the date of birth or "" when absent.
func (r Record) DateOfBirthValue() string {
	if r.DateOfBirth == nil {
		return ""
	}
	return *r.DateOfBirth
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	return Record{
		Image:       cloneString(r.Image),
		Name:        cloneString(r.Name),
		DateOfBirth: cloneString(r.DateOfBirth),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
