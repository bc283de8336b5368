package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the process-wide configuration read from the environment.
type Config struct {
	Listen        string
	InventoryFile string
	DialectFile   string
	WatchFile     string

	LogLevel string
	LogFile  string

	Workers int

	// FinishedRetention is how long results of finished jobs stay visible.
	FinishedRetention time.Duration

	SSH    SSH
	WebAPI WebAPI
}

// SSH holds transport defaults applied when a host entry leaves them unset.
type SSH struct {
	Port       int
	Timeout    time.Duration
	Verbose    bool
	ControlDir string
}

// WebAPI holds the client certificate used for REST job submission and polling.
type WebAPI struct {
	CertFile       string
	CertPassphrase string
	BaseURL        string
}

func getenv(k, fb string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fb
}

func getenvInt(k string, fb int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fb
}

func getenvBool(k string) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Load reads a .env file when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on environment variables")
	}

	return Config{
		Listen:            getenv("JOBWATCH_LISTEN", ":9333"),
		InventoryFile:     getenv("JOBWATCH_INVENTORY", "deploy/hosts.example.yaml"),
		DialectFile:       getenv("JOBWATCH_DIALECTS", ""),
		WatchFile:         getenv("JOBWATCH_WATCHES", ""),
		LogLevel:          getenv("JOBWATCH_LOG_LEVEL", "info"),
		LogFile:           getenv("JOBWATCH_LOG_FILE", ""),
		Workers:           getenvInt("JOBWATCH_WORKERS", 5),
		FinishedRetention: time.Duration(getenvInt("JOBWATCH_FINISHED_RETENTION_MINUTES", 60)) * time.Minute,
		SSH:               LoadSSH(),
		WebAPI:            LoadWebAPI(),
	}
}

// LoadSSH reads the transport defaults only.
func LoadSSH() SSH {
	return SSH{
		Port:       getenvInt("JOBWATCH_SSH_PORT", 22),
		Timeout:    time.Duration(getenvInt("JOBWATCH_SSH_TIMEOUT_SECONDS", 5)) * time.Second,
		Verbose:    getenvBool("JOBWATCH_SSH_VERBOSE"),
		ControlDir: os.Getenv("JOBWATCH_SSH_CONTROL_DIR"),
	}
}

// LoadWebAPI is called at request-build time so that certificate rotation
// does not need a restart.
func LoadWebAPI() WebAPI {
	return WebAPI{
		CertFile:       os.Getenv("JOBWATCH_WEBAPI_CERT_FILE"),
		CertPassphrase: os.Getenv("JOBWATCH_WEBAPI_CERT_PASSPHRASE"),
		BaseURL:        getenv("JOBWATCH_WEBAPI_BASE_URL", "https://api.fugaku.r-ccs.riken.jp/"),
	}
}
