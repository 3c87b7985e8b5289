package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

// KeyringService is the OS keyring service holding source secrets. The
// source name is the keyring user for its locator, "<name>:password" for
// its password.
const KeyringService = "calnotes"

var (
	// ErrSecretNotFound is returned when a keyring entry does not exist.
	ErrSecretNotFound = errors.New("secret not found in keyring")
	// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

// GetSecret reads a secret from the OS keyring.
func GetSecret(user string) (string, error) {
	s, err := keyring.Get(KeyringService, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return s, nil
}

// SetSecret stores a secret in the OS keyring.
func SetSecret(user, secret string) error {
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	if err := keyring.Set(KeyringService, user, secret); err != nil {
		return fmt.Errorf("store secret in keyring: %w", err)
	}
	return nil
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(user string) error {
	if err := keyring.Delete(KeyringService, user); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("delete secret from keyring: %w", err)
	}
	return nil
}

// PasswordUser is the keyring user holding a source's password.
func PasswordUser(source string) string {
	return source + ":password"
}

// Env looks up variables in the process environment first and then in the
// configured dotenv file.
type Env struct {
	file map[string]string
}

// LoadEnv reads c.EnvFile. A missing file is not an error.
func (c *Config) LoadEnv() (*Env, error) {
	env := &Env{file: map[string]string{}}
	if c.EnvFile == "" {
		return env, nil
	}
	vars, err := godotenv.Read(c.EnvFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return env, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", c.EnvFile, err)
	}
	env.file = vars
	return env, nil
}

// Get returns the value of key.
func (e *Env) Get(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return e.file[key]
}

// Window returns the lookahead window starting at the beginning of now's
// day in loc, lookbehind days earlier, lasting lookbehind+lookahead days.
func Window(now time.Time, loc *time.Location, lookbehind, lookahead int) model.Window {
	today := model.DateOf(now.In(loc))
	return model.Window{
		Start: today.AddDays(-lookbehind).In(loc),
		End:   today.AddDays(lookahead).In(loc),
	}
}

// ResolveSources converts the configured sources into model.Source values
// with resolved locators and windows. Priority follows declaration order.
// A source whose locator cannot be resolved is still returned, carrying the
// reason in Unresolved, so the run reports it as failed.
func (c *Config) ResolveSources(now time.Time) ([]model.Source, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	env, err := c.LoadEnv()
	if err != nil {
		return nil, err
	}

	out := make([]model.Source, 0, len(c.Sources))
	for i, sc := range c.Sources {
		locator, resolveErr := resolveLocator(sc, env)
		if resolveErr != nil {
			appLog.Warn("source locator not resolved", "source", sc.Name, "reason", resolveErr.Error())
		}

		lookahead := c.LookaheadDays
		if sc.LookaheadDays > 0 {
			lookahead = sc.LookaheadDays
		}

		src := model.Source{
			Name:             sc.Name,
			Kind:             sc.Kind,
			Locator:          locator,
			CalendarPath:     sc.CalendarPath,
			Username:         sc.Username,
			Emoji:            sc.Emoji,
			Label:            sc.Label,
			KeywordSensitive: sc.Keywords,
			Priority:         i,
			Window:           Window(now, loc, c.LookbehindDays, lookahead),
			Unresolved:       resolveErr,
		}
		if resolveErr == nil && sc.Username != "" {
			src.Password = resolvePassword(sc, env)
		}
		out = append(out, src)
	}
	return out, nil
}

func resolveLocator(sc SourceConfig, env *Env) (string, error) {
	switch {
	case sc.URL != "":
		return sc.URL, nil
	case sc.URLEnv != "":
		if v := env.Get(sc.URLEnv); v != "" {
			return v, nil
		}
		if !sc.Keyring {
			return "", fmt.Errorf("environment variable %s is not set", sc.URLEnv)
		}
	}
	if sc.Keyring {
		return GetSecret(sc.Name)
	}
	return "", errors.New("no locator configured")
}

func resolvePassword(sc SourceConfig, env *Env) string {
	if sc.PasswordEnv != "" {
		if v := env.Get(sc.PasswordEnv); v != "" {
			return v
		}
	}
	if sc.Keyring {
		if v, err := GetSecret(PasswordUser(sc.Name)); err == nil {
			return v
		}
	}
	return ""
}
