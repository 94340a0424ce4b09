package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/portfolio"
)

// expiryLayouts are the accepted option expiry formats.
var expiryLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// PositionConfig seeds one lot from positions.toml.
type PositionConfig struct {
	Account    string  `mapstructure:"account"`
	Symbol     string  `mapstructure:"symbol"`
	Quantity   float64 `mapstructure:"quantity"`
	EntryPrice float64 `mapstructure:"entry_price"`

	// Option fields; Type selects an option lot.
	Type       string  `mapstructure:"type"`
	Underlying string  `mapstructure:"underlying"`
	Strike     float64 `mapstructure:"strike"`
	Expiry     string  `mapstructure:"expiry"`
	ImpliedVol float64 `mapstructure:"implied_vol"`
}

// Instrument builds the instrument definition of the lot.
func (p PositionConfig) Instrument() (*models.Instrument, error) {
	if strings.TrimSpace(p.Type) == "" {
		return models.NewSpot(p.Symbol), nil
	}
	optType, err := models.ParseOptionType(p.Type)
	if err != nil {
		return nil, err
	}
	expiry, err := parseExpiry(p.Expiry)
	if err != nil {
		return nil, err
	}
	inst := models.NewOption(p.Symbol, p.Underlying, p.Strike, expiry, optType, p.ImpliedVol)
	return inst, inst.Validate()
}

func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Date-only expiries settle at 08:00 UTC.
			if layout == "2006-01-02" {
				t = t.Add(8 * time.Hour)
			}
			return t, nil
		}
	}
	return time.Time{}, errors.NewValidationError("expiry", s, "expected RFC3339 or YYYY-MM-DD")
}

// LoadPositions reads [[positions]] from a TOML file. A missing file yields
// no positions.
func LoadPositions(path string) ([]PositionConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	var file struct {
		Positions []PositionConfig `mapstructure:"positions"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return file.Positions, nil
}

// SeedBook opens every seeded lot in book. Every failing lot is reported,
// joined with ErrConfigInvalid; valid lots are still opened.
func SeedBook(book *portfolio.Book, positions []PositionConfig) error {
	var errs []error
	for i, p := range positions {
		account := strings.TrimSpace(p.Account)
		if account == "" {
			errs = append(errs, fmt.Errorf("position %d: %w", i,
				errors.NewValidationError("account", p.Account, "account is required")))
			continue
		}
		inst, err := p.Instrument()
		if err != nil {
			errs = append(errs, fmt.Errorf("position %d (%s): %w", i, p.Symbol, err))
			continue
		}
		if _, err := book.Account(account).Add(inst, p.Quantity, p.EntryPrice); err != nil {
			errs = append(errs, fmt.Errorf("position %d (%s): %w", i, p.Symbol, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errors.ErrConfigInvalid}, errs...)...)
	}
	return nil
}

// LoadBook builds a book from the configured positions file.
func (c *Config) LoadBook() (*portfolio.Book, error) {
	positions, err := LoadPositions(c.Portfolio.PositionsFile)
	if err != nil {
		return nil, err
	}
	book := portfolio.NewBook(c.LotPolicy(), c.Risk.RiskFreeRate)
	if err := SeedBook(book, positions); err != nil {
		return book, err
	}
	return book, nil
}
