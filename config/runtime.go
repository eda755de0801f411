package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Runtime publishes the hot-reloadable part of the config.
type Runtime struct {
	general atomic.Pointer[General]
}

func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.Update(cfg.General)
	return r
}

// General returns the settings in effect right now.
func (r *Runtime) General() General {
	return *r.general.Load()
}

// Update swaps the settings; invalid values fall back to safe minimums.
func (r *Runtime) Update(g General) {
	if g.SimultaneousActions < 1 {
		g.SimultaneousActions = 1
	}
	r.general.Store(&g)
}

// Watch re-reads the config file on change and pushes the general section into rt.
// It returns false when the config did not come from a file.
func (c *Config) Watch(rt *Runtime, logger *slog.Logger) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		var g General
		if err := c.v.UnmarshalKey("general", &g); err != nil {
			logger.Error("CONFIG_RELOAD_FAILED", "file", e.Name, "err", err)
			return
		}
		rt.Update(g)
		logger.Info("CONFIG_RELOADED",
			"file", e.Name,
			"op", e.Op.String(),
			"simultaneous_actions", g.SimultaneousActions,
		)
	})
	c.v.WatchConfig()
	return true
}
