package postgres

import (
	"net/url"
)

// ConnConfig holds discrete connection settings, as the CLIs take them.
type ConnConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// ConnString renders cfg as a postgres:// URL. SSLMode defaults to disable.
func (cfg ConnConfig) ConnString() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
