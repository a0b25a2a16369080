// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

// Repositories holds all repository instances.
type Repositories struct {
	Swaps       *SwapRepository
	Quotes      *QuoteRepository
	Risk        *RiskRepository
	Audit       *AuditRepository
	Prices      *PriceRepository
	QuantumKeys *QuantumKeyRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Swaps:       NewSwapRepository(client),
		Quotes:      NewQuoteRepository(client),
		Risk:        NewRiskRepository(client),
		Audit:       NewAuditRepository(client),
		Prices:      NewPriceRepository(client),
		QuantumKeys: NewQuantumKeyRepository(client),
	}
}
