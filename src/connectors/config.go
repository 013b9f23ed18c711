package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BrokerBaseURL  string `envconfig:"BROKER_BASE_URL" default:"https://api.kite.trade"`
	BrokerAPIKey   string `envconfig:"BROKER_API_KEY" default:""`
	BrokerToken    string `envconfig:"BROKER_ACCESS_TOKEN" default:""`
	BrokerWSURL    string `envconfig:"BROKER_WS_URL" default:""`
	GeneratorURL   string `envconfig:"GENERATOR_URL" default:"http://localhost:8200"`
	RequestTimeout int    `envconfig:"BROKER_REQUEST_TIMEOUT_SECONDS" default:"10"`
	ReadRetries    int    `envconfig:"BROKER_READ_RETRIES" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
