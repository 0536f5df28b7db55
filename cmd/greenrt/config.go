package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-greenrt/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Print the effective configuration as YAML",
		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("marshal config: %v", err), 1)
	}
	fmt.Fprint(c.App.Writer, string(out))
	return nil
}

// loadConfig layers the config file, GREENRT_* variables and global flags,
// in that order.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.FromEnv(cfg); err != nil {
		return nil, err
	}
	if n := c.Int("threads"); n > 0 {
		cfg.Threads = n
	}
	if s := c.String("stack-size"); s != "" {
		size, err := config.ParseByteSize(s)
		if err != nil {
			return nil, fmt.Errorf("--stack-size: %w", err)
		}
		cfg.StackSize = size
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
