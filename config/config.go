// Package config loads the echo server settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TheSmallBoat/carlo-echo/echo"
)

type Window struct {
	TxBufSize int `yaml:"tx_buf_size"`
	TxWinSize int `yaml:"tx_win_size"`
	RxBufSize int `yaml:"rx_buf_size"`
	RxWinSize int `yaml:"rx_win_size"`
}

type Config struct {
	Addr           string        `yaml:"addr"`
	QueueLength    int           `yaml:"queue_length"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	ShutdownDelay  time.Duration `yaml:"shutdown_delay"`
	IdleDelay      time.Duration `yaml:"idle_delay"`
	Window         Window        `yaml:"window"`
	Debug          bool          `yaml:"debug"`
}

func Default() *Config {
	return &Config{
		Addr:           ":" + strconv.Itoa(echo.DefaultPort),
		QueueLength:    echo.DefaultQueueLength,
		ReadBufferSize: echo.DefaultReadBufferSize,
		ShutdownDelay:  echo.DefaultShutdownDelay,
		IdleDelay:      echo.DefaultIdleDelay,
		Window: Window{
			TxBufSize: echo.DefaultWindow.TxBufSize,
			TxWinSize: echo.DefaultWindow.TxWinSize,
			RxBufSize: echo.DefaultWindow.RxBufSize,
			RxWinSize: echo.DefaultWindow.RxWinSize,
		},
	}
}

// Load reads the configuration from the given YAML file path. Fields missing
// from the file keep their defaults; a missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.QueueLength <= 0 {
		return fmt.Errorf("queue_length must be positive, got %d", c.QueueLength)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.ShutdownDelay <= 0 {
		return fmt.Errorf("shutdown_delay must be positive, got %s", c.ShutdownDelay)
	}
	if c.IdleDelay <= 0 {
		return fmt.Errorf("idle_delay must be positive, got %s", c.IdleDelay)
	}
	if c.Window.TxBufSize < 0 || c.Window.RxBufSize < 0 || c.Window.TxWinSize < 0 || c.Window.RxWinSize < 0 {
		return errors.New("window sizes must not be negative")
	}
	return nil
}

// Server builds an unstarted server from the configuration.
func (c *Config) Server() *echo.Server {
	return &echo.Server{
		Addr:           c.Addr,
		QueueLength:    c.QueueLength,
		ReadBufferSize: c.ReadBufferSize,
		ShutdownDelay:  c.ShutdownDelay,
		IdleDelay:      c.IdleDelay,
		Window: &echo.WindowProps{
			TxBufSize: c.Window.TxBufSize,
			TxWinSize: c.Window.TxWinSize,
			RxBufSize: c.Window.RxBufSize,
			RxWinSize: c.Window.RxWinSize,
		},
	}
}
