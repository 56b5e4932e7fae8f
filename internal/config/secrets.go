package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Passwords, keys
// and tokens become "***". URLs that embed a secret keep their host so the
// log still shows where escrowd connects.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	out.Postgres.DSN = redactURLPassword(cfg.Postgres.DSN)
	out.Notify.DiscordWebhookURL = redactURLPath(cfg.Notify.DiscordWebhookURL)
	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}

// redactURLPassword masks the password of a URL-form DSN. Key/value DSNs
// are masked whole.
func redactURLPassword(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

// redactURLPath keeps only the scheme and host of a webhook URL; the path
// is the credential.
func redactURLPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
