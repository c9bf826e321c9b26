package types

import (
	"fmt"
	"strings"
	"time"
)

// --- ENUM Types ---

// LifecycleStatus represents the 'status' column of a person.
type LifecycleStatus string

const (
	StatusActive   LifecycleStatus = "Ativo"
	StatusInactive LifecycleStatus = "Inativo"
)

// Valid reports whether s is a known lifecycle status.
func (s LifecycleStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// ApprovalStatus represents the 'status_aprovacao' column of a person.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pendente"
	ApprovalApproved ApprovalStatus = "Aprovado"
	ApprovalRejected ApprovalStatus = "Rejeitado"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// IsDecision reports whether s is a terminal approve/reject outcome.
func (s ApprovalStatus) IsDecision() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Person is a registered individual as stored in the 'pessoas' collection.
type Person struct {
	ID             string          `json:"id" example:"0b9d3c7e-3a0e-4c55-9c2f-2f1f4f6c1a11"` // Backend assigned identifier.
	FullName       string          `json:"nome_completo" example:"Maria da Silva"`
	Email          string          `json:"email" example:"maria@example.com"`
	Phone          *string         `json:"telefone,omitempty"`
	Document       *string         `json:"documento,omitempty"`
	JobTitle       *string         `json:"cargo_funcao,omitempty" example:"Engenheira"`
	BirthDate      *Date           `json:"data_nascimento,omitempty" swaggertype:"string" example:"1990-04-21"`
	Address        *string         `json:"endereco_completo,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	PhotoURL       *string         `json:"foto_perfil_url,omitempty"`
	Status         LifecycleStatus `json:"status" example:"Ativo"`
	ApprovalStatus ApprovalStatus  `json:"status_aprovacao" example:"Pendente"`
	CreatorID      *string         `json:"cadastrante_id,omitempty"`  // Acting user at creation.
	ApproverID     *string         `json:"aprovador_id,omitempty"`    // Set only by approve/reject.
	ApprovedAt     *time.Time      `json:"data_aprovacao,omitempty"`  // Set only by approve/reject.
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasLocation reports whether both coordinates are present.
func (p *Person) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// NewPerson is the payload accepted by create. Identity, audit and approval
// provenance are backend or workflow owned and therefore absent.
type NewPerson struct {
	FullName       string          `json:"nome_completo" example:"Maria da Silva"`
	Email          string          `json:"email" example:"maria@example.com"`
	Phone          *string         `json:"telefone,omitempty"`
	Document       *string         `json:"documento,omitempty"`
	JobTitle       *string         `json:"cargo_funcao,omitempty"`
	BirthDate      *Date           `json:"data_nascimento,omitempty" swaggertype:"string"`
	Address        *string         `json:"endereco_completo,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	PhotoURL       *string         `json:"foto_perfil_url,omitempty"`
	Status         LifecycleStatus `json:"status,omitempty"`
	ApprovalStatus ApprovalStatus  `json:"status_aprovacao,omitempty"`
	CreatorID      string          `json:"cadastrante_id,omitempty"`
}

// Validate checks required fields before any request is issued.
func (p *NewPerson) Validate() error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("%w: full name is required", ErrValidation)
	}
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, p.Status)
	}
	if p.ApprovalStatus != "" && p.ApprovalStatus != ApprovalPending {
		return fmt.Errorf("%w: new persons start pending approval", ErrValidation)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrValidation)
	}
	return nil
}

// WithDefaults fills the lifecycle and approval defaults used by the registry.
func (p NewPerson) WithDefaults() NewPerson {
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = ApprovalPending
	}
	return p
}

// PersonFilters is an optional conjunction of list constraints. Zero values
// impose no constraint.
type PersonFilters struct {
	Name           string          `json:"nome,omitempty"`             // Case-insensitive substring of the full name.
	Status         LifecycleStatus `json:"status,omitempty"`           // Exact lifecycle status.
	JobTitle       string          `json:"cargo,omitempty"`            // Case-insensitive substring of the job title.
	ApprovalStatus ApprovalStatus  `json:"status_aprovacao,omitempty"` // Exact approval status.
}

// IsEmpty reports whether no filter is set.
func (f PersonFilters) IsEmpty() bool {
	return f == PersonFilters{}
}

// Matches applies the filter semantics to an in-memory person.
func (f PersonFilters) Matches(p *Person) bool {
	if f.Name != "" && !containsFold(p.FullName, f.Name) {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.JobTitle != "" && (p.JobTitle == nil || !containsFold(*p.JobTitle, f.JobTitle)) {
		return false
	}
	if f.ApprovalStatus != "" && p.ApprovalStatus != f.ApprovalStatus {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// ApprovalChange is the payload of the approve/reject transition. The three
// columns always travel together in a single request.
type ApprovalChange struct {
	Status     ApprovalStatus `json:"status_aprovacao"`
	ApproverID string         `json:"aprovador_id"`
	ApprovedAt time.Time      `json:"data_aprovacao"`
}

// PhotoFile is an uploaded profile picture.
type PhotoFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        []byte
}

// CreatePersonResponse is returned by create. Warning is set when the record
// was saved but attaching its photo failed.
type CreatePersonResponse struct {
	Person  *Person `json:"person"`
	Warning string  `json:"warning,omitempty"`
}
