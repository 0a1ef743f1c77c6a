package main

import (
	"fmt"
	"os"

	ramavan "github.com/ramavan-chat/ramavan-go"
)

// getClient creates a Ramavan client from the config file, with env
// overrides for RAMAVAN_BASE_URL and RAMAVAN_TOKEN.
func getClient() (*ramavan.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	baseURL := cfg.Default.BaseURL
	if v := os.Getenv("RAMAVAN_BASE_URL"); v != "" {
		baseURL = v
	}
	token := cfg.Auth.Token
	if v := os.Getenv("RAMAVAN_TOKEN"); v != "" {
		token = v
	}

	if baseURL == "" || token == "" {
		fmt.Fprintln(os.Stderr, "No server configured. Run 'ramavan init <base-url> <token>' first.")
		os.Exit(1)
	}

	return ramavan.NewClient(baseURL, token), cfg
}

// configLastGroupStore persists the last selected group into the config
// file so the next 'ramavan watch' resumes there.
type configLastGroupStore struct{}

func (configLastGroupStore) LoadLastGroup() (string, bool) {
	cfg, err := loadConfig()
	if err != nil || cfg.State.LastGroupID == "" {
		return "", false
	}
	return cfg.State.LastGroupID, true
}

func (configLastGroupStore) SaveLastGroup(g *ramavan.Group) {
	cfg, err := loadConfig()
	if err != nil {
		return
	}
	cfg.State.LastGroupID = g.ID
	cfg.State.LastGroupName = g.Name
	_ = saveConfig(cfg)
}
