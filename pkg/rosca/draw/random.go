package draw

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// RandomSource supplies the randomness for a draw.
type RandomSource interface {
	// UniformIndex returns an integer uniformly distributed in [0, bound).
	UniformIndex(bound int) (int, error)
	// OpaqueToken returns an unpredictable string stored with the draw for
	// traceability. It never influences the winner.
	OpaqueToken() (string, error)
}

var tokenBound = big.NewInt(1_000_000_000)

// CryptoSource draws from crypto/rand.
type CryptoSource struct {
	Now func() time.Time
}

func (s CryptoSource) UniformIndex(bound int) (int, error) {
	if bound <= 0 {
		return 0, fmt.Errorf("uniform index: bound must be positive, got %d", bound)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(bound)))
	if err != nil {
		return 0, fmt.Errorf("uniform index: %w", err)
	}
	return int(n.Int64()), nil
}

func (s CryptoSource) OpaqueToken() (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n, err := rand.Int(rand.Reader, tokenBound)
	if err != nil {
		return "", fmt.Errorf("opaque token: %w", err)
	}
	return fmt.Sprintf("%d-%d", now().UnixMilli(), n.Int64()), nil
}

// Selection is the outcome of picking a winner.
type Selection struct {
	Winner        models.Membership
	EligibleCount int
	SeedValue     string
}

var errEmptyPool = errors.New("select: no eligible members")

// Select picks one member of eligible. The seed token is drawn before the
// index so the two values are independent draws from the source.
func Select(src RandomSource, eligible []models.Membership) (Selection, error) {
	if len(eligible) == 0 {
		return Selection{}, errEmptyPool
	}
	seed, err := src.OpaqueToken()
	if err != nil {
		return Selection{}, err
	}
	idx, err := src.UniformIndex(len(eligible))
	if err != nil {
		return Selection{}, err
	}
	if idx < 0 || idx >= len(eligible) {
		return Selection{}, fmt.Errorf("select: index %d out of range [0, %d)", idx, len(eligible))
	}
	return Selection{
		Winner:        eligible[idx],
		EligibleCount: len(eligible),
		SeedValue:     seed,
	}, nil
}
