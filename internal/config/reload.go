package config

import (
	"errors"
	"fmt"
	"reflect"
)

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Gateway.AuthMode {
	case AuthModeStrict, AuthModeEdge:
	default:
		errs = append(errs, fmt.Errorf("gateway.authMode %q: want %q or %q", c.Gateway.AuthMode, AuthModeStrict, AuthModeEdge))
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rateLimit.store %q: want memory or redis", c.RateLimit.Store))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.TTS.Window <= 0 {
		errs = append(errs, errors.New("tts.window must be positive"))
	}
	return errors.Join(errs...)
}

// Changes lists the top-level sections that differ between old and cur, by
// their yaml names.
func Changes(old, cur *Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var out []string
	ov, cv := reflect.ValueOf(*old), reflect.ValueOf(*cur)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), cv.Field(i).Interface()) {
			out = append(out, t.Field(i).Tag.Get("yaml"))
		}
	}
	return out
}

// RestartRequired lists changed settings that a running relay does not pick up.
func RestartRequired(old, cur *Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var out []string
	if old.Gateway.Port != cur.Gateway.Port {
		out = append(out, "gateway.port")
	}
	if old.Auth != cur.Auth {
		out = append(out, "auth")
	}
	if old.RateLimit.Store != cur.RateLimit.Store || old.RateLimit.Redis != cur.RateLimit.Redis {
		out = append(out, "rateLimit.store")
	}
	if old.TTS.SweepSchedule != cur.TTS.SweepSchedule {
		out = append(out, "tts.sweepSchedule")
	}
	return out
}
