package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config structs

type Config struct {
	IsDebug bool `yaml:"is_debug"`

	DataDir string `yaml:"data_dir"`

	MySQL MySQL `yaml:"mysql"`
	Redis Redis `yaml:"redis"`
	Etcd  Etcd  `yaml:"etcd"`

	Market Market `yaml:"market"`
}

type MySQL struct {
	Main MySQLServer `yaml:"main"`
}

type MySQLServer struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Pass         string `yaml:"pass"`
	DB           string `yaml:"db"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type Redis struct {
	Main RedisServer `yaml:"main"`
}

type RedisServer struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Pass    string `yaml:"pass"`
	Timeout int    `yaml:"timeout"`
}

type Etcd struct {
	Main EtcdServer `yaml:"main"`
}

type EtcdServer struct {
	Enable bool   `yaml:"enable"`
	Url    string `yaml:"url"`
}

// Market holds the venue bootstrap parameters: the fixed primary supply,
// the primary price, the royalty percentage routed to the organizer on
// resales, and the organizer / escrow account handles.
type Market struct {
	Venue      string `yaml:"venue"`
	Organizer  int64  `yaml:"organizer"`
	Escrow     int64  `yaml:"escrow"`
	Supply     int64  `yaml:"supply"`
	Price      int64  `yaml:"price"`
	RoyaltyPct int64  `yaml:"royalty_pct"`

	// Treasury receives the one-shot settlement currency mint at bootstrap.
	Treasury    int64 `yaml:"treasury"`
	InitialMint int64 `yaml:"initial_mint"`
}

// Global variables

const DEVDATA = "/usr/local/gatepass/devdata"

var Shared *Config // single instance of the config

var (
	fConfig string // config file path
)

func init() {
	flag.StringVar(&fConfig, "config", "", "specify the config file")
}

// Init initializes the Shared config from the given file path.
func Init(configFile string) {
	file, err := os.Open(configFile)
	if err != nil {
		panic(err)
	}
	defer file.Close()

	// decode into a fresh Config so a re-init never keeps stale fields
	c := &Config{}
	decoder := yaml.NewDecoder(file)
	err = decoder.Decode(c)
	if err != nil {
		panic(err)
	}

	applyDefaults(c)
	Shared = c
}

// EasyInit initializes the Shared config from the -config flag, falling
// back to the default config file paths.
func EasyInit() {
	fpath := fConfig
	if fpath == "" {
		fpath = "config/config.yml"
	}

	if _, err := os.Stat(fpath); os.IsNotExist(err) {
		fpath = DEVDATA + "/config.yml"
		printf(fmt.Sprintf("use config: %s (DEVDATA)", fpath))
	} else {
		printf(fmt.Sprintf("use config: %s", fpath))
	}

	Init(fpath)
}

// applyDefaults fills in the fixed bootstrap parameters when the config
// file leaves them out: 1000 passes, 100 units each, 1% royalty.
func applyDefaults(c *Config) {
	if c.Market.Venue == "" {
		c.Market.Venue = "MAINHALL"
	}
	if c.Market.Supply == 0 {
		c.Market.Supply = 1000
	}
	if c.Market.Price == 0 {
		c.Market.Price = 100
	}
	if c.Market.RoyaltyPct == 0 {
		c.Market.RoyaltyPct = 1
	}
}

func printf(s string) {
	fmt.Printf("%s %s\n", time.Now().Format("2006/01/02 15:04:05"), s)
}
