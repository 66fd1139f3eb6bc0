package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv fills empty fields from environment variables. Variables never override
// values that came from the config file or flags.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if v := strings.TrimSpace(getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}

	fill(&c.APIKey, "GEMINI_API_KEY")
	fill(&c.Model, "GEMINI_MODEL")
	fill(&c.DatabaseURL, "DATABASE_URL")
	fill(&c.HunterAPIKey, "HUNTER_API_KEY")
	fill(&c.SMTPHost, "SMTP_HOST", "SMTP_SERVER")
	fill(&c.SMTPUsername, "SMTP_USERNAME", "EMAIL_ADDRESS")
	fill(&c.SMTPPassword, "SMTP_PASSWORD", "EMAIL_PASSWORD")
	fill(&c.FromAddress, "SMTP_FROM", "EMAIL_ADDRESS")
	fill(&c.CandidateName, "CANDIDATE_NAME")
	fill(&c.SessionCookie, "LINKEDIN_SESSION_COOKIE")

	if c.SMTPPort == 0 {
		if port, err := strconv.Atoi(strings.TrimSpace(getenv("SMTP_PORT"))); err == nil {
			c.SMTPPort = port
		}
	}

	if c.ExcludedLocations == nil {
		if raw := strings.TrimSpace(getenv("EXCLUDED_LOCATIONS")); raw != "" {
			var locations []string
			if err := json.Unmarshal([]byte(raw), &locations); err == nil {
				c.ExcludedLocations = locations
			}
		}
	}
}
