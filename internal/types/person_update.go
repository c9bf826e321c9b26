package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PersonUpdate is a partial update of a person. It only exposes setters for
// the editable columns, so identity, audit timestamps and approval fields can
// never be part of a general update.
type PersonUpdate struct {
	fields map[string]any
}

// NewPersonUpdate returns an empty update.
func NewPersonUpdate() *PersonUpdate {
	return &PersonUpdate{fields: make(map[string]any)}
}

// UpdateFromPerson copies every editable column of p, the way an edit form
// submits the whole record. Optional columns that are unset are cleared.
func UpdateFromPerson(p *Person) *PersonUpdate {
	u := NewPersonUpdate().
		SetFullName(p.FullName).
		SetEmail(p.Email).
		SetPhone(p.Phone).
		SetDocument(p.Document).
		SetJobTitle(p.JobTitle).
		SetBirthDate(p.BirthDate).
		SetAddress(p.Address).
		SetPhotoURL(p.PhotoURL)
	if p.Status != "" {
		u.SetStatus(p.Status)
	}
	if p.HasLocation() {
		u.SetLocation(*p.Latitude, *p.Longitude)
	} else {
		u.ClearLocation()
	}
	return u
}

func (u *PersonUpdate) set(column string, v any) *PersonUpdate {
	if u.fields == nil {
		u.fields = make(map[string]any)
	}
	u.fields[column] = v
	return u
}

func optional[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func (u *PersonUpdate) SetFullName(v string) *PersonUpdate { return u.set("nome_completo", v) }
func (u *PersonUpdate) SetEmail(v string) *PersonUpdate    { return u.set("email", v) }

// SetPhone sets or, when v is nil, clears the phone.
func (u *PersonUpdate) SetPhone(v *string) *PersonUpdate    { return u.set("telefone", optional(v)) }
func (u *PersonUpdate) SetDocument(v *string) *PersonUpdate { return u.set("documento", optional(v)) }
func (u *PersonUpdate) SetJobTitle(v *string) *PersonUpdate { return u.set("cargo_funcao", optional(v)) }
func (u *PersonUpdate) SetAddress(v *string) *PersonUpdate {
	return u.set("endereco_completo", optional(v))
}
func (u *PersonUpdate) SetPhotoURL(v *string) *PersonUpdate {
	return u.set("foto_perfil_url", optional(v))
}

func (u *PersonUpdate) SetBirthDate(v *Date) *PersonUpdate {
	if v == nil {
		return u.set("data_nascimento", nil)
	}
	return u.set("data_nascimento", v.String())
}

func (u *PersonUpdate) SetStatus(v LifecycleStatus) *PersonUpdate { return u.set("status", v) }

// SetLocation sets both coordinates together.
func (u *PersonUpdate) SetLocation(lat, lng float64) *PersonUpdate {
	u.set("latitude", lat)
	return u.set("longitude", lng)
}

// ClearLocation removes both coordinates.
func (u *PersonUpdate) ClearLocation() *PersonUpdate {
	u.set("latitude", nil)
	return u.set("longitude", nil)
}

// IsEmpty reports whether no column was set.
func (u *PersonUpdate) IsEmpty() bool {
	return u == nil || len(u.fields) == 0
}

// Columns returns a copy of the columns carried by the update.
func (u *PersonUpdate) Columns() map[string]any {
	out := make(map[string]any, len(u.fields))
	for k, v := range u.fields {
		out[k] = v
	}
	return out
}

// Validate rejects empty updates and blanked required fields.
func (u *PersonUpdate) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("%w: update carries no fields", ErrValidation)
	}
	for _, column := range []string{"nome_completo", "email"} {
		v, ok := u.fields[column]
		if !ok {
			continue
		}
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s cannot be empty", ErrValidation, column)
		}
	}
	if s, ok := u.fields["status"]; ok && !s.(LifecycleStatus).Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return nil
}

func (u PersonUpdate) MarshalJSON() ([]byte, error) {
	if u.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(u.fields)
}

// UnmarshalJSON accepts a request body and keeps only the editable columns.
// Unknown or protected columns are rejected.
func (u *PersonUpdate) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	u.fields = make(map[string]any, len(raw))
	for column, value := range raw {
		switch column {
		case "nome_completo", "email":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("%w: %s must be a string", ErrValidation, column)
			}
			u.set(column, s)
		case "telefone", "documento", "cargo_funcao", "endereco_completo", "foto_perfil_url":
			var s *string
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("%w: %s must be a string", ErrValidation, column)
			}
			u.set(column, optional(s))
		case "data_nascimento":
			var d *Date
			if err := json.Unmarshal(value, &d); err != nil {
				return fmt.Errorf("%w: %s", ErrValidation, err.Error())
			}
			u.SetBirthDate(d)
		case "status":
			var s LifecycleStatus
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("%w: status must be a string", ErrValidation)
			}
			u.SetStatus(s)
		case "latitude", "longitude":
			var f *float64
			if err := json.Unmarshal(value, &f); err != nil {
				return fmt.Errorf("%w: %s must be a number", ErrValidation, column)
			}
			u.set(column, optional(f))
		default:
			return fmt.Errorf("%w: column %q cannot be updated", ErrValidation, column)
		}
	}
	if _, lat := u.fields["latitude"]; lat {
		if _, lng := u.fields["longitude"]; !lng {
			return fmt.Errorf("%w: latitude and longitude must be set together", ErrValidation)
		}
	} else if _, lng := u.fields["longitude"]; lng {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrValidation)
	}
	return nil
}
