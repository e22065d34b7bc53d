// Command mcp exposes the event tracker API as MCP tools over stdio.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TRACKER_MCP_"

type bridgeConfig struct {
	APIURL   string `koanf:"api_url"`
	Token    string `koanf:"token"`
	Login    string `koanf:"login"`
	Password string `koanf:"password"`
}

func loadConfig() (*bridgeConfig, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env variables: %w", err)
	}

	cfg := &bridgeConfig{APIURL: "http://localhost:8080"}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Token == "" && (cfg.Login == "" || cfg.Password == "") {
		return nil, fmt.Errorf("set %sTOKEN or both %sLOGIN and %sPASSWORD", envPrefix, envPrefix, envPrefix)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	server := NewMCPServer(cfg, &http.Client{Timeout: 15 * time.Second})
	server.Run(os.Stdin, os.Stdout)
}
