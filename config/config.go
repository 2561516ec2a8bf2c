package config

import (
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"perproute/pkg/types"
)

type Config struct {
	// Owner is the administrator address (hex) allowed to pause, rebind
	// oracles and mutate venue state.
	Owner                string `yaml:"owner"`
	ListenAddr           string `yaml:"listenAddr"`
	MaxPriceDeviationBps int64  `yaml:"maxPriceDeviationBps"`

	Journal       *JournalConfig           `yaml:"journal"`
	VenueConfigs  map[string]*VenueConfig  `yaml:"venue"`
	OracleConfigs map[string]*OracleConfig `yaml:"oracle"` // keyed by market
}

type VenueConfig struct {
	Gateway     types.GatewayKind `yaml:"gateway"`
	Name        string            `yaml:"name"`
	MaxLeverage int               `yaml:"maxLeverage"`
	FeeRateBps  int64             `yaml:"feeRateBps"`

	// bnf gateways
	EnvPrefix string            `yaml:"envPrefix"`
	Symbols   map[string]string `yaml:"symbols"` // market -> local symbol

	// sim gateways
	BasePrices map[string]string `yaml:"basePrices"` // market -> decimal price
}

type OracleConfig struct {
	Feed   types.FeedKind `yaml:"feed"`
	Symbol string         `yaml:"symbol"` // bnf feeds
	WsUrl  string         `yaml:"wsUrl"`  // ws feeds
	Price  string         `yaml:"price"`  // static feeds
}

type JournalConfig struct {
	Path     string `yaml:"path"`
	S3Bucket string `yaml:"s3Bucket"` // optional; empty disables uploads
}

func LoadConfig(envName types.EnvName) (*Config, error) {
	// read YAML file
	var data []byte
	var err error

	yamlFiles := map[types.EnvName]string{
		types.EnvLocal: "perproute.yaml",
		types.EnvDev:   "perproute.dev.yaml",
		types.EnvProd:  "perproute.prod.yaml",
	}
	fileName := yamlFiles[envName]
	data, err = os.ReadFile(fileName)
	if err != nil {
		log.Fatalf("fail to load config file '%s': %v", fileName, err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		log.Fatalf("fail to decode config file '%v': %v", config, err)
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":3000"
	}
	return &config, nil
}
