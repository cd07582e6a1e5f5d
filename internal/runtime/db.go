package runtime

import (
	"net"
	"net/url"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// BuildPostgresDSN returns storage.postgres.url when set, otherwise a
// postgres:// URL assembled from the discrete settings. Credentials are
// escaped.
func BuildPostgresDSN(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", errors.Misconfigured("config is nil")
	}
	p := cfg.Storage.Postgres
	if p.URL != "" {
		return p.URL, nil
	}
	if err := p.Validate(); err != nil {
		return "", errors.Mark(err, errors.ErrMisconfigured)
	}

	port, ssl := p.Port, p.SSLMode
	if port == "" {
		port = "5432"
	}
	if ssl == "" {
		ssl = "disable"
	}
	q := url.Values{"sslmode": {ssl}}
	if secs := int(p.Timeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: q.Encode(),
	}
	switch {
	case p.User != "" && p.Password != "":
		u.User = url.UserPassword(p.User, p.Password)
	case p.User != "":
		u.User = url.User(p.User)
	}
	return u.String(), nil
}

// BuildRedisOptions resolves redis client options from a URL or host/port settings.
func BuildRedisOptions(cfg *config.Config) (*redis.Options, error) {
	if cfg == nil {
		return nil, errors.Misconfigured("config is nil")
	}
	r := cfg.Storage.Redis
	if r.URL != "" {
		opts, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "parse redis url"), errors.ErrMisconfigured)
		}
		return opts, nil
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Mark(err, errors.ErrMisconfigured)
	}
	opts := &redis.Options{
		Addr:     net.JoinHostPort(r.Host, r.Port),
		Password: r.Password,
		DB:       r.DB,
	}
	if r.Timeout > 0 {
		opts.DialTimeout = r.Timeout
		opts.ReadTimeout = r.Timeout
		opts.WriteTimeout = r.Timeout
	}
	return opts, nil
}
