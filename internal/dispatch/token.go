package dispatch

import "github.com/google/uuid"

// TokenGenerator names logical transactions. Every event of one transaction
// carries the same token.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-sortable UUIDv7 tokens.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
