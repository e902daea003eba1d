// Package sudoconf reads the engine's bootstrap configuration file: the
// line-oriented /etc/sudo.conf format (§6), plus a tolerant JSON variant
// used by the --json-defaults CLI flag.
package sudoconf

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tailscale/hujson"
)

// PluginSpec is one "Plugin symbol path [args...]" line.
type PluginSpec struct {
	Symbol string
	Path   string
	Args   []string
}

// Config is the parsed contents of /etc/sudo.conf: path overrides for the
// askpass and noexec helpers, and the plugin load list.
type Config struct {
	AskpassPath string
	NoexecPath  string
	Plugins     []PluginSpec
}

// Read parses the line-oriented sudo.conf grammar: blank lines and lines
// starting with '#' are ignored; recognized directives are
// "Path askpass <path>", "Path noexec <path>", and
// "Plugin <symbol> <path> [args...]".
func Read(r io.Reader) (*Config, error) {
	cfg := &Config{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "path":
			if len(fields) != 3 {
				return nil, fmt.Errorf("sudo.conf:%d: malformed Path directive", lineNo)
			}
			switch strings.ToLower(fields[1]) {
			case "askpass":
				cfg.AskpassPath = fields[2]
			case "noexec":
				cfg.NoexecPath = fields[2]
			default:
				return nil, fmt.Errorf("sudo.conf:%d: unknown Path target %q", lineNo, fields[1])
			}
		case "plugin":
			if len(fields) < 3 {
				return nil, fmt.Errorf("sudo.conf:%d: malformed Plugin directive", lineNo)
			}
			cfg.Plugins = append(cfg.Plugins, PluginSpec{
				Symbol: fields[1], Path: fields[2], Args: fields[3:],
			})
		default:
			return nil, fmt.Errorf("sudo.conf:%d: unknown directive %q", lineNo, fields[0])
		}
	}
	return cfg, scanner.Err()
}

// JSONDefaults is the shape accepted by --json-defaults: a flat map of
// Defaults keys to string values, written as commented/trailing-comma
// tolerant JSON (hujson) rather than strict encoding/json, matching the
// engine's general tolerance for human-edited configuration text.
type JSONDefaults map[string]string

// ReadJSONDefaults standardizes hujson input to strict JSON and decodes
// it into a flat key/value map the caller can feed through
// policy.Registry.Set one binding at a time.
func ReadJSONDefaults(data []byte) (JSONDefaults, error) {
	ast, err := hujson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing json-defaults: %w", err)
	}
	ast.Standardize()

	out := JSONDefaults{}
	if err := json.Unmarshal(ast.Pack(), &out); err != nil {
		return nil, fmt.Errorf("parsing json-defaults: %w", err)
	}
	return out, nil
}
