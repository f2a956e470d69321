// Package mocks holds gomock doubles for the gate's collaborator interfaces.
//
// Regenerate after interface changes with:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=session_lookup_mock.go github.com/spec-kit/assistant-gate/internal/auth SessionLookup
