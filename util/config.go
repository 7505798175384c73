package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "mammut"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                 string
		SshPort              int      `yaml:"sshPort"`
		HttpPort             int      `yaml:"httpPort"`
		SslDomain            string   `yaml:"sslDomain"`
		WithAp               bool     `yaml:"withAp"`
		Single               bool     `yaml:"single"`
		Closed               bool     `yaml:"closed"`
		MaxQueueItems        int      `yaml:"maxQueueItems"`
		AllowLocalNetwork    bool     `yaml:"allowLocalNetwork"`
		FederationDomains    []string `yaml:"federationDomains"`
		DeliveryTimeoutSec   int      `yaml:"deliveryTimeoutSec"`
		DeliveryThreadTtlMin int      `yaml:"deliveryThreadTtlMin"`
		BlockRefreshSec      int      `yaml:"blockRefreshSec"`
		WatchdogIntervalSec  int      `yaml:"watchdogIntervalSec"`
		ActorMaxAgeHours     int      `yaml:"actorMaxAgeHours"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)
	applyDefaults(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("MAMMUT_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("MAMMUT_SSHPORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.SshPort = p
	}

	if v := os.Getenv("MAMMUT_HTTPPORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = p
	}

	if v := os.Getenv("MAMMUT_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if os.Getenv("MAMMUT_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}

	if os.Getenv("MAMMUT_SINGLE") == "true" {
		c.Conf.Single = true
	}

	if os.Getenv("MAMMUT_CLOSED") == "true" {
		c.Conf.Closed = true
	}

	if os.Getenv("MAMMUT_ALLOW_LOCAL_NETWORK") == "true" {
		c.Conf.AllowLocalNetwork = true
	}

	if v := os.Getenv("MAMMUT_MAX_QUEUE_ITEMS"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.MaxQueueItems = p
	}
}

// applyDefaults fills the federation tunables that may be absent from an
// older config file.
func applyDefaults(c *AppConfig) {
	if c.Conf.MaxQueueItems <= 0 {
		c.Conf.MaxQueueItems = 256
	}
	if c.Conf.DeliveryTimeoutSec <= 0 {
		c.Conf.DeliveryTimeoutSec = 30
	}
	if c.Conf.DeliveryThreadTtlMin <= 0 {
		c.Conf.DeliveryThreadTtlMin = 5
	}
	if c.Conf.BlockRefreshSec <= 0 {
		c.Conf.BlockRefreshSec = 120
	}
	if c.Conf.WatchdogIntervalSec <= 0 {
		c.Conf.WatchdogIntervalSec = 20
	}
	if c.Conf.ActorMaxAgeHours <= 0 {
		c.Conf.ActorMaxAgeHours = 24
	}
}
