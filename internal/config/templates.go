package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const serverTemplate = `listen = ":7420"
transport = "tcp"
backend = "rsa-oaep-aes-gcm"
max_chunk_bytes = 1024
max_item_bytes = 1048576
handshake_timeout = "5s"
read_timeout = "15s"
heartbeat_interval = "5s"
freshness_window = "5m"
clock_skew = "2s"
rate_limit = 200.0
rate_burst = 50
metrics_listen = "127.0.0.1:9420"

[control_codes]
shutdown = 1
ping = 2
input = 3

[tls]
enabled = false
`

const clientTemplate = `address = "127.0.0.1:7420"
transport = "tcp"
backend = "rsa-oaep-aes-gcm"
max_chunk_bytes = 1024
handshake_timeout = "5s"
read_timeout = "15s"
heartbeat_interval = "5s"
dial_max_attempts = 5

[control_codes]
shutdown = 1
ping = 2
input = 3
`
