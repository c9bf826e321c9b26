package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestNewPerson_Validate(t *testing.T) {
	tests := []struct {
		name    string
		person  NewPerson
		wantErr bool
	}{
		{"minimal", NewPerson{FullName: "Ana", Email: "a@example.com"}, false},
		{"blank name", NewPerson{FullName: "  ", Email: "a@example.com"}, true},
		{"missing email", NewPerson{FullName: "Ana"}, true},
		{"unknown status", NewPerson{FullName: "Ana", Email: "a@example.com", Status: "Deleted"}, true},
		{"explicit pending", NewPerson{FullName: "Ana", Email: "a@example.com", ApprovalStatus: ApprovalPending}, false},
		{"pre-approved", NewPerson{FullName: "Ana", Email: "a@example.com", ApprovalStatus: ApprovalApproved}, true},
		{"latitude alone", NewPerson{FullName: "Ana", Email: "a@example.com", Latitude: ptr(1.0)}, true},
		{"full location", NewPerson{FullName: "Ana", Email: "a@example.com", Latitude: ptr(1.0), Longitude: ptr(2.0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.person.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewPerson_WithDefaults(t *testing.T) {
	p := NewPerson{FullName: "Ana", Email: "a@example.com"}.WithDefaults()
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, ApprovalPending, p.ApprovalStatus)

	kept := NewPerson{Status: StatusInactive}.WithDefaults()
	assert.Equal(t, StatusInactive, kept.Status)
}

func TestPersonFilters_Matches(t *testing.T) {
	p := &Person{FullName: "Maria da Silva", JobTitle: ptr("Engenheira Civil"), Status: StatusActive, ApprovalStatus: ApprovalApproved}

	assert.True(t, PersonFilters{}.Matches(p))
	assert.True(t, PersonFilters{Name: "SILVA", JobTitle: "civil"}.Matches(p))
	assert.False(t, PersonFilters{Status: StatusInactive}.Matches(p))
	assert.False(t, PersonFilters{ApprovalStatus: ApprovalPending}.Matches(p))
	assert.False(t, PersonFilters{JobTitle: "x"}.Matches(&Person{}))
	assert.True(t, PersonFilters{}.IsEmpty())
}

func TestApprovalStatus(t *testing.T) {
	assert.True(t, ApprovalApproved.IsDecision())
	assert.True(t, ApprovalRejected.IsDecision())
	assert.False(t, ApprovalPending.IsDecision())
	assert.False(t, ApprovalStatus("Aprovada").Valid())
}

func TestPerson_JSON(t *testing.T) {
	raw := `{
		"id": "p1",
		"nome_completo": "Ana",
		"email": "a@example.com",
		"data_nascimento": "1990-04-21",
		"latitude": -23.5,
		"longitude": -46.6,
		"status": "Ativo",
		"status_aprovacao": "Aprovado",
		"data_aprovacao": "2024-05-01T12:00:00+00:00",
		"created_at": "2024-04-01T10:00:00.123456+00:00",
		"updated_at": "2024-04-01T10:00:00+00:00"
	}`
	var p Person
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "1990-04-21", p.BirthDate.String())
	assert.True(t, p.HasLocation())
	require.NotNil(t, p.ApprovedAt)
	assert.Equal(t, 2024, p.ApprovedAt.Year())
	assert.Nil(t, p.Phone)
}

func TestDate(t *testing.T) {
	t.Run("marshal", func(t *testing.T) {
		b, err := json.Marshal(NewDate(1990, time.April, 1))
		require.NoError(t, err)
		assert.Equal(t, `"1990-04-01"`, string(b))
	})

	t.Run("timestamp input keeps the date", func(t *testing.T) {
		var d Date
		require.NoError(t, json.Unmarshal([]byte(`"1990-04-01T00:00:00+00:00"`), &d))
		assert.Equal(t, "1990-04-01", d.String())
	})

	t.Run("null leaves the zero value", func(t *testing.T) {
		var d *Date
		require.NoError(t, json.Unmarshal([]byte(`null`), &d))
		assert.Nil(t, d)
	})

	t.Run("invalid", func(t *testing.T) {
		var d Date
		assert.Error(t, json.Unmarshal([]byte(`"21/04/1990"`), &d))
	})
}
