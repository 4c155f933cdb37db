package auth

import (
	"crypto/rand"
	"log"
	"time"
)

// Config holds the operator credentials and token settings.
type Config struct {
	Username string
	Password string
	Secret   string
	TokenTTL time.Duration
}

// Authenticator issues and verifies session tokens.
type Authenticator struct {
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator builds an authenticator from cfg. Missing credentials are
// logged, not fatal: login then fails until they are configured. Without a
// secret a random per-process key is used, so tokens do not survive restarts.
func NewAuthenticator(cfg Config) *Authenticator {
	if cfg.Username == "" {
		log.Println("WARNING: ADMIN_USERNAME environment variable not set.")
	}
	if cfg.Password == "" {
		log.Println("WARNING: ADMIN_PASSWORD environment variable not set.")
	}
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		log.Println("WARNING: AUTH_TOKEN_SECRET not set; using an ephemeral signing key.")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("Failed to generate signing key: %v", err)
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &Authenticator{
		username: cfg.Username,
		password: cfg.Password,
		secret:   secret,
		ttl:      cfg.TokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
