package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/FACorreiaa/person-registry/internal/types"
)

func seedPersons(s *testStack, n int) {
	for i := range n {
		lat, lng := -23.5+float64(i%20)*0.01, -46.6+float64(i%7)*0.01
		s.fake.SeedPerson(types.Person{
			FullName:       fmt.Sprintf("Pessoa %04d", i),
			Email:          fmt.Sprintf("pessoa%d@example.com", i),
			ApprovalStatus: types.ApprovalApproved,
			Latitude:       &lat,
			Longitude:      &lng,
		})
	}
}

func loggedInBrowser(b *testing.B, s *testStack) *browser {
	s.fake.AddUser("bench@example.com", "bench-pass", types.DefaultRole)
	br := s.browser(b)
	br.login("bench@example.com", "bench-pass")
	return br
}

func BenchmarkListPersons(b *testing.B) {
	s := newTestStack(b)
	seedPersons(s, 200)
	br := loggedInBrowser(b, s)

	for b.Loop() {
		if status := br.json(http.MethodGet, "/persons?nome=pessoa", nil, nil); status != http.StatusOK {
			b.Fatalf("unexpected status %d", status)
		}
	}
}

func BenchmarkDashboard(b *testing.B) {
	s := newTestStack(b)
	seedPersons(s, 200)
	br := loggedInBrowser(b, s)

	for b.Loop() {
		if status := br.json(http.MethodGet, "/dashboard", nil, nil); status != http.StatusOK {
			b.Fatalf("unexpected status %d", status)
		}
	}
}

func BenchmarkSessionCheck(b *testing.B) {
	s := newTestStack(b)
	br := loggedInBrowser(b, s)

	for b.Loop() {
		if status := br.json(http.MethodGet, "/auth/session", nil, nil); status != http.StatusOK {
			b.Fatalf("unexpected status %d", status)
		}
	}
}
