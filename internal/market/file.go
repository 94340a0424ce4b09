package market

import (
	"context"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

// FileOracle serves prices from a TOML, YAML or JSON file with a top-level
// "prices" table, for example:
//
//	[prices]
//	BTC = 62900
//	ETH = 3050.5
//
// The file is re-read whenever it changes on disk.
type FileOracle struct {
	path   string
	v      *viper.Viper
	logger zerolog.Logger

	mu     sync.RWMutex
	prices map[string]float64
}

// NewFileOracle loads prices from path and starts watching it.
func NewFileOracle(path string, logger zerolog.Logger) (*FileOracle, error) {
	v := viper.New()
	v.SetConfigFile(path)

	o := &FileOracle{
		path:   path,
		v:      v,
		logger: logger.With().Str("component", "file_oracle").Str("path", path).Logger(),
		prices: make(map[string]float64),
	}
	if err := o.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := o.reload(); err != nil {
			o.logger.Warn().Err(err).Msg("Keeping previous prices after failed reload")
			return
		}
		o.logger.Info().Int("symbols", o.Len()).Msg("Prices reloaded")
	})
	v.WatchConfig()

	return o, nil
}

func (o *FileOracle) reload() error {
	if err := o.v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading price file %s", o.path)
	}

	// viper lower-cases keys; symbols are normalised back to upper case.
	raw := o.v.GetStringMap("prices")
	prices := make(map[string]float64, len(raw))
	for key := range raw {
		sym := models.NormalizeSymbol(key)
		price := o.v.GetFloat64("prices." + strings.ToLower(key))
		if err := validPrice(sym, price); err != nil {
			return err
		}
		prices[sym] = price
	}

	o.mu.Lock()
	o.prices = prices
	o.mu.Unlock()
	return nil
}

// GetPrice returns the price last read for symbol.
func (o *FileOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.RLock()
	p, ok := o.prices[models.NormalizeSymbol(symbol)]
	o.mu.RUnlock()
	if !ok {
		return 0, errors.NewLookupError("price", symbol, "not in "+o.path, errors.ErrPriceUnavailable)
	}
	return p, nil
}

// Len returns the number of symbols loaded.
func (o *FileOracle) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.prices)
}
