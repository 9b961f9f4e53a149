package stress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/kolkov/refslot/internal/refslot/atomicslot"
	"github.com/kolkov/refslot/internal/refslot/stripe"
)

// Config errors.
var (
	ErrConfigInvalid      = errors.New("invalid stress config")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrWritersInvalid     = errors.New("writers must be positive")
	ErrIterationsInvalid  = errors.New("iterations must be positive")
	ErrSlotsInvalid       = errors.New("slots must be positive")
	ErrLoadEveryInvalid   = errors.New("load_every must not be negative")
)

// Config describes one stress run.
type Config struct {
	// Writers is the number of goroutines storing concurrently.
	Writers int `json:"writers"`

	// Iterations is the number of stores each writer performs.
	Iterations int `json:"iterations"`

	// Slots is the number of shared slots writers rotate over.
	Slots int `json:"slots"`

	// TableSize is the stripe count; must be a power of two.
	TableSize int `json:"table_size"`

	// Policy is "guarded" or "fast".
	Policy string `json:"policy"`

	// Copy uses StoreCopy instead of Store.
	Copy bool `json:"copy,omitempty"`

	// LoadEvery makes each writer Load after every n-th store (0 disables).
	LoadEvery int `json:"load_every,omitempty"`

	// Debug records per-value retain/release history and free sites.
	Debug bool `json:"debug,omitempty"`
}

// DefaultConfig returns the configuration used when no file or flag
// overrides it.
func DefaultConfig() Config {
	return Config{
		Writers:    8,
		Iterations: 1000,
		Slots:      4,
		TableSize:  stripe.DefaultSize,
		Policy:     atomicslot.PolicyGuarded.String(),
		LoadEvery:  10,
	}
}

// LoadConfig overlays the JSONC file at path onto base. Fields absent from
// the file keep base's values.
func LoadConfig(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return Config{}, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := ParseConfig(data, base)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, nil
}

// ParseConfig overlays JSONC data onto base.
func ParseConfig(data []byte, base Config) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	cfg := base
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// Validate checks cfg and returns the parsed policy.
func (c Config) Validate() (atomicslot.Policy, error) {
	switch {
	case c.Writers <= 0:
		return 0, fmt.Errorf("%w: %w (got %d)", ErrConfigInvalid, ErrWritersInvalid, c.Writers)
	case c.Iterations <= 0:
		return 0, fmt.Errorf("%w: %w (got %d)", ErrConfigInvalid, ErrIterationsInvalid, c.Iterations)
	case c.Slots <= 0:
		return 0, fmt.Errorf("%w: %w (got %d)", ErrConfigInvalid, ErrSlotsInvalid, c.Slots)
	case c.LoadEvery < 0:
		return 0, fmt.Errorf("%w: %w (got %d)", ErrConfigInvalid, ErrLoadEveryInvalid, c.LoadEvery)
	}

	policy, err := atomicslot.ParsePolicy(c.Policy)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return policy, nil
}
