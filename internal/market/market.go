package market

import "fmt"

// Market identifies one pool: the index token positions track, the long and
// short tokens backing the two sides, and the pool token representing the
// claim on the pool. Long and short tokens are always distinct; their pool
// amounts are kept in disjoint ledgers keyed by (market, token).
type Market struct {
	Address    string
	IndexToken string
	LongToken  string
	ShortToken string
	PoolToken  string
}

// Validate checks the descriptor invariants.
func (m Market) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("market has empty address")
	}
	if m.LongToken == "" || m.ShortToken == "" {
		return fmt.Errorf("market %s has empty backing token", m.Address)
	}
	if m.LongToken == m.ShortToken {
		return fmt.Errorf("market %s has identical long and short tokens", m.Address)
	}
	return nil
}

// ContainsToken reports whether token is one of the market's backing tokens.
func (m Market) ContainsToken(token string) bool {
	return token == m.LongToken || token == m.ShortToken
}

// OppositeToken returns the other backing token for a swap hop.
func (m Market) OppositeToken(token string) (string, error) {
	switch token {
	case m.LongToken:
		return m.ShortToken, nil
	case m.ShortToken:
		return m.LongToken, nil
	default:
		return "", fmt.Errorf("token %s is not a backing token of market %s", token, m.Address)
	}
}

// IsLongToken reports which side of the pool a backing token belongs to.
func (m Market) IsLongToken(token string) bool {
	return token == m.LongToken
}

// Store resolves market descriptors. The descriptor data is owned by an
// external collaborator; the core only reads it.
type Store interface {
	Get(address string) (Market, error)
}

// MemStore is a map-backed Store for tests and local wiring.
type MemStore struct {
	markets map[string]Market
}

func NewMemStore() *MemStore {
	return &MemStore{markets: make(map[string]Market)}
}

func (s *MemStore) Set(m Market) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.markets[m.Address] = m
	return nil
}

func (s *MemStore) Get(address string) (Market, error) {
	m, ok := s.markets[address]
	if !ok {
		return Market{}, fmt.Errorf("unknown market %s", address)
	}
	return m, nil
}
