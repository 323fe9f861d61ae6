// Package config loads the tripod configuration file.
//
// The file is YAML. Unknown keys are rejected; missing keys keep
// their default values:
//
//     device_name: FilmMate Tripod
//     app_id: 0x55
//     log_level: info
//     log_format: text
//     handle_base: 40
//     tx_power: 3
//     demo:
//       count: 0        # 0 writes until interrupted
//       interval: 5s
//       max: 100
//       seed: 0         # 0 seeds from the clock
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/filmmate/gatt"
)

// maxNameLen is the longest name that fits a complete local name
// field in an empty advertising packet.
const maxNameLen = gatt.MaxEIRPacketLength - 2

// TX power range of the radio, in dBm.
const (
	minTxPower = -12
	maxTxPower = 9
)

// Config is the tripod configuration.
type Config struct {
	DeviceName string `yaml:"device_name"`
	AppID      uint16 `yaml:"app_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	HandleBase uint16 `yaml:"handle_base"`
	TxPower    int8   `yaml:"tx_power"`
	Demo       Demo   `yaml:"demo"`
}

// Demo configures the demo central: it writes Count random values in
// [0, Max], one every Interval, and prints the notifications.
type Demo struct {
	Count    int           `yaml:"count"`
	Interval time.Duration `yaml:"interval"`
	Max      int32         `yaml:"max"`
	Seed     int64         `yaml:"seed"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DeviceName: gatt.DefaultDeviceName,
		AppID:      gatt.DefaultAppID,
		LogLevel:   "info",
		LogFormat:  "text",
		HandleBase: 40,
		TxPower:    3,
		Demo: Demo{
			Interval: 5 * time.Second,
			Max:      100,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config")
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes b over the defaults and validates the result.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.DeviceName == "":
		return errors.New("device_name is empty")
	case len(c.DeviceName) > maxNameLen:
		return errors.Errorf("device_name is %d bytes, max %d", len(c.DeviceName), maxNameLen)
	case c.HandleBase == 0:
		return errors.New("handle_base must be positive")
	case c.HandleBase > 0xffff-uint16(gatt.IdxNB):
		return errors.Errorf("handle_base 0x%x leaves no room for the attribute table", c.HandleBase)
	case c.TxPower < minTxPower || c.TxPower > maxTxPower:
		return errors.Errorf("tx_power %d out of range [%d, %d]", c.TxPower, minTxPower, maxTxPower)
	case c.Demo.Count < 0:
		return errors.Errorf("demo.count %d is negative", c.Demo.Count)
	case c.Demo.Interval <= 0:
		return errors.Errorf("demo.interval %v must be positive", c.Demo.Interval)
	case c.Demo.Max <= 0:
		return errors.Errorf("demo.max %d must be positive", c.Demo.Max)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Formatter(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() (logrus.Level, error) {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, errors.Wrap(err, "log_level")
	}
	return l, nil
}

// Formatter returns the configured log formatter.
func (c Config) Formatter() (logrus.Formatter, error) {
	switch c.LogFormat {
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	}
	return nil, errors.Errorf("log_format %q: want text or json", c.LogFormat)
}
