package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/markhub/internal/integrations"
)

var jsonOutput bool

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func sourceIcon(source string) string {
	switch source {
	case integrations.TwitterID:
		return "[T]"
	case integrations.RedditID:
		return "[R]"
	case integrations.NotionID:
		return "[N]"
	case integrations.ChromeID:
		return "[C]"
	case integrations.ZapierID:
		return "[Z]"
	case "manual":
		return "[M]"
	default:
		return "[?]"
	}
}

func formatLastSync(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func printStatus(s integrations.Status) {
	state := "disabled"
	if s.Enabled {
		state = "enabled"
	}
	fmt.Printf("%s %-8s %-8s %-8s configured=%t reauth=%t last_sync=%s due=%t\n",
		sourceIcon(s.ID), s.ID, s.Type, state, s.Configured, s.NeedsReauth, formatLastSync(s.LastSync), s.ShouldAutoSync)
}

func printErrors(errs []string) {
	for _, e := range errs {
		fmt.Printf("   ! %s\n", e)
	}
}

// parseKeyValues turns key=value arguments into a map.
func parseKeyValues(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

// buildConfigUpdate maps key=value pairs onto a config update. Known config
// fields are set directly and every other key becomes a setting.
func buildConfigUpdate(values map[string]string) (integrations.ConfigUpdate, error) {
	var u integrations.ConfigUpdate
	for key, value := range values {
		switch key {
		case "name":
			u.Name = &value
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return u, fmt.Errorf("enabled: %w", err)
			}
			u.Enabled = &b
		case "apiKey":
			u.APIKey = &value
		case "accessToken":
			u.AccessToken = &value
		case "refreshToken":
			u.RefreshToken = &value
		case "expiresAt":
			ms, err := parseMillis(value, true)
			if err != nil {
				return u, fmt.Errorf("expiresAt: %w", err)
			}
			u.ExpiresAt = &ms
		case "syncInterval":
			ms, err := parseMillis(value, false)
			if err != nil {
				return u, fmt.Errorf("syncInterval: %w", err)
			}
			u.SyncInterval = &ms
		default:
			if u.Settings == nil {
				u.Settings = map[string]any{}
			}
			u.Settings[key] = value
		}
	}
	return u, nil
}

// parseMillis accepts plain milliseconds or a Go duration. For absolute
// values a duration is taken as relative to now.
func parseMillis(value string, absolute bool) (int64, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("expected milliseconds or duration, got %q", value)
	}
	if absolute {
		return time.Now().Add(d).UnixMilli(), nil
	}
	return d.Milliseconds(), nil
}
