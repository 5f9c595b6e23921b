package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# shardline configuration.
# The bot token is read from SHARDLINE_TOKEN; SHARDLINE_GATEWAY_URL,
# SHARDLINE_ADMIN_ADDR and SHARDLINE_ADMIN_TOKEN override the file.
# shards.mode is one of auto, count, range or manual.

`

// Template renders DefaultFile as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(DefaultFile())
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
