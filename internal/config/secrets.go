package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Deribit = cfg.Deribit
	redact(&out.Deribit.ClientSecret)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
