package config

const redacted = "***"

// Redacted returns a copy of c with secrets masked, safe to log.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Kalshi.ApiKey)
	redact(&out.Kalshi.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices and maps are copied so the redacted value cannot alias the
	// live config.
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if c.Metadata.Stations != nil {
		out.Metadata.Stations = make(map[string]string, len(c.Metadata.Stations))
		for k, v := range c.Metadata.Stations {
			out.Metadata.Stations[k] = v
		}
	}
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
