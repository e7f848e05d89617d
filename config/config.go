package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP   string
	ListenAddrPort string
	MaxUploadMB    int

	// StorageRoot is resolved once at startup and injected into the store and converter
	StorageRoot    string
	ScratchPath    string
	StorageBackend string
	S3Config

	PdftoppmPath      string
	NativeTimeout     time.Duration
	RenderScale       float64
	MaxConcurrentJobs int

	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseDbname   string
	DatabaseSslmode  string

	Retention         time.Duration
	RetentionInterval int
}

// S3Config stores the object storage settings used when StorageBackend is "s3"
type S3Config struct {
	S3Endpoint  string
	S3AccessKey string `json:"-"`
	S3SecretKey string `json:"-"`
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	S3Prefix    string
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil || floatVal <= 0 {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfigLive := Load()

	logger.Info("Storage configured",
		"backend", serverConfigLive.StorageBackend,
		"root", serverConfigLive.StorageRoot,
		"scratch", serverConfigLive.ScratchPath)

	if err := checkExecutables(serverConfigLive.PdftoppmPath, logger); err != nil {
		logger.Warn("pdftoppm not found, native rendering will be skipped", "path", serverConfigLive.PdftoppmPath)
	}

	fmt.Println("\n========================================")
	fmt.Println("   pdftopng - PDF to PNG converter")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}

	return serverConfigLive, logger
}

// Load reads the configuration from the environment without touching the logger
func Load() ServerConfig {
	serverConfigLive := ServerConfig{}

	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")
	serverConfigLive.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 50)

	serverConfigLive.StorageRoot = resolveStorageRoot()
	serverConfigLive.ScratchPath = filepath.Join(serverConfigLive.StorageRoot, "scratch")
	serverConfigLive.StorageBackend = getEnv("STORAGE_BACKEND", "fs")
	serverConfigLive.S3Config = S3Config{
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", "pdftopng"),
		S3Region:    getEnv("S3_REGION", ""),
		S3UseSSL:    getEnvBool("S3_USE_SSL", true),
		S3Prefix:    getEnv("S3_PREFIX", "output"),
	}

	serverConfigLive.PdftoppmPath = getEnv("PDFTOPPM_PATH", "pdftoppm")
	serverConfigLive.NativeTimeout = getEnvDuration("NATIVE_TIMEOUT", 60*time.Second)
	serverConfigLive.RenderScale = getEnvFloat("RENDER_SCALE", 2.0)
	serverConfigLive.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", 4)

	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pdftopng")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", filepath.Join(serverConfigLive.StorageRoot, "pdftopng.sqlite"))
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	serverConfigLive.Retention = getEnvDuration("RETENTION", 24*time.Hour)
	serverConfigLive.RetentionInterval = getEnvInt("RETENTION_INTERVAL_MINUTES", 30)

	return serverConfigLive
}

// resolveStorageRoot picks the writable root. Ephemeral deployments only have the temp dir.
func resolveStorageRoot() string {
	root := os.Getenv("STORAGE_ROOT")
	if root == "" {
		if getEnv("DEPLOY_TARGET", "local") == "ephemeral" {
			root = filepath.Join(os.TempDir(), "pdftopng")
		} else {
			root = "data"
		}
	}
	rootAbs, err := filepath.Abs(filepath.ToSlash(root))
	if err != nil {
		Logger.Error("Failed creating absolute path for storage root", "root", root, "error", err)
		return root
	}
	return rootAbs
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdftopng.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// checkExecutables verifies that the rasterizer binary resolves on this host
func checkExecutables(binary string, logger *slog.Logger) error {
	path, err := exec.LookPath(binary)
	if err != nil {
		logger.Debug("Cannot find executable", "binary", binary, "error", err)
		return err
	}
	logger.Debug("Executable found", "binary", binary, "path", path)
	return nil
}
