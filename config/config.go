package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	SocketURL      string
	AccessToken    string
	UserID         string
	RoomID         string
	RoomOwnerID    string
	HTTPAddr       string
	AllowedOrigins []string
	PostgresURL    string
	EmitRate       float64
	EmitBurst      int
	RequestTimeout time.Duration
	Debug          bool
}

var ErrMissingEnv = errors.New("missing-env")

// Load reads the environment, after filling it from the given dotenv files
// (".env" when none are named). Missing files are skipped; variables already
// set are never overridden.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		RoomID:      os.Getenv("ROOM_ID"),
		RoomOwnerID: os.Getenv("ROOM_OWNER_ID"),
		HTTPAddr:    getenv("HTTP_ADDR", ":5000"),
		PostgresURL: os.Getenv("POSTGRES_URL"),
	}

	var err error
	if cfg.SocketURL, err = requireEnv("SOCKET_URL"); err != nil {
		return Config{}, err
	}
	if cfg.AccessToken, err = requireEnv("ACCESS_TOKEN"); err != nil {
		return Config{}, err
	}
	if cfg.UserID, err = requireEnv("USER_ID"); err != nil {
		return Config{}, err
	}

	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if cfg.EmitRate, err = strconv.ParseFloat(getenv("EMIT_RATE", "20"), 64); err != nil {
		return Config{}, fmt.Errorf("EMIT_RATE: %w", err)
	}
	if cfg.EmitBurst, err = strconv.Atoi(getenv("EMIT_BURST", "10")); err != nil {
		return Config{}, fmt.Errorf("EMIT_BURST: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getenv("REQUEST_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.Debug, err = strconv.ParseBool(getenv("DEBUG", "false")); err != nil {
		return Config{}, fmt.Errorf("DEBUG: %w", err)
	}
	return cfg, nil
}

func requireEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, key)
	}
	return v, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
