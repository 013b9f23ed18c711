package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Exchange       string `envconfig:"EXCHANGE" default:"NSE"`
	Watchlist      string `envconfig:"WATCHLIST" default:""`
	ShortWatchlist string `envconfig:"SHORT_WATCHLIST" default:""`

	// Clock times in the runner's local timezone, HH:MM.
	SessionStart   string `envconfig:"SESSION_START" default:"09:15"`
	SessionEnd     string `envconfig:"SESSION_END" default:"15:10"`
	BuyWindowStart string `envconfig:"BUY_WINDOW_START" default:"09:30"`
	BuyWindowEnd   string `envconfig:"BUY_WINDOW_END" default:"14:45"`

	PreOpenPeriod time.Duration `envconfig:"PRE_OPEN_PERIOD" default:"2m"`
	LoopPeriod    time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`

	Allocation float64 `envconfig:"ALLOCATION" default:"10000"`
	// Zero means the session baseline comes from the broker margins call.
	StartingCash float64 `envconfig:"STARTING_CASH" default:"0"`

	ForceLiquidationAge int `envconfig:"FORCE_LIQUIDATION_AGE" default:"16"`

	// Comma-separated YYYY-MM-DD market holidays.
	Holidays string `envconfig:"MARKET_HOLIDAYS" default:""`

	// "broker" polls LTP from the broker; "generator" polls the price
	// generator harness instead.
	FeedMode string `envconfig:"FEED_MODE" default:"broker"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
