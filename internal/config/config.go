package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/peterbourgon/ff/v4"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/extraction"
	"github.com/zombor/expense-tracker/internal/ocr"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// EnvVarPrefix prefixes every flag read from the environment, so --db-driver
// can also be set with EXPENSE_TRACKER_DB_DRIVER.
const EnvVarPrefix = "EXPENSE_TRACKER"

// Config is the resolved configuration shared by the binaries.
type Config struct {
	Port      int
	AuthUser  string
	AuthPass  string
	Owner     string
	PublicURL string

	DBDriver string
	DBPath   string

	Storage     string
	StoragePath string
	GCSBucket   string

	Tesseract string
	OCRLang   string

	Scanner     string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	OpenAIKey   string
	OpenAIModel string
	OpenAIURL   string

	VATMin             decimal.Decimal
	VATMax             decimal.Decimal
	AmountFloor        decimal.Decimal
	DuplicateTolerance decimal.Decimal
	OutlierSigma       float64

	LogLevel  string
	LogFormat string
}

// Flags holds the registered flag values until they are resolved.
type Flags struct {
	port      *int
	authUser  *string
	authPass  *string
	owner     *string
	publicURL *string

	dbDriver *string
	dbPath   *string

	storage     *string
	storagePath *string
	gcsBucket   *string

	tesseract *string
	ocrLang   *string

	scanner     *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	openAIKey   *string
	openAIModel *string
	openAIURL   *string

	vatMin             *string
	vatMax             *string
	amountFloor        *string
	duplicateTolerance *string
	outlierSigma       *string

	logLevel  *string
	logFormat *string
}

// Register adds the shared flags to fs.
func Register(fs *ff.FlagSet) *Flags {
	return &Flags{
		port:      fs.IntLong("port", 8080, "HTTP server port"),
		authUser:  fs.StringLong("auth-user", "", "Basic auth username; also the owner of the records (optional)"),
		authPass:  fs.StringLong("auth-pass", "", "Basic auth password (optional)"),
		owner:     fs.StringLong("owner", receipt.DefaultOwner, "Owner id used when basic auth is disabled"),
		publicURL: fs.StringLong("public-url", "", "Base URL of this server for local image links (default http://localhost:<port>)"),

		dbDriver: fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'"),
		dbPath:   fs.StringLong("db", "expense-tracker.db", "Database file path"),

		storage:     fs.StringLong("storage", "local", "Image store: 'local' or 'gcs'"),
		storagePath: fs.StringLong("storage-path", "./receipts", "Local image directory"),
		gcsBucket:   fs.StringLong("gcs-bucket", "", "Google Cloud Storage bucket for images"),

		tesseract: fs.StringLong("tesseract", "tesseract", "Tesseract binary"),
		ocrLang:   fs.StringLong("ocr-lang", "tur+eng", "Tesseract languages"),

		scanner:     fs.StringLong("scanner", "gemini", "AI scanner: 'gemini', 'ollama', 'openai' or 'none'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)"),
		openAIKey:   fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)"),
		openAIModel: fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name"),
		openAIURL:   fs.StringLong("openai-url", "", "OpenAI compatible API base URL (optional)"),

		vatMin:             fs.StringLong("vat-min", "0", "Lowest accepted VAT rate in percent, exclusive"),
		vatMax:             fs.StringLong("vat-max", "25", "Highest accepted VAT rate in percent, exclusive"),
		amountFloor:        fs.StringLong("amount-floor", "5", "Totals at or below this are ignored"),
		duplicateTolerance: fs.StringLong("duplicate-tolerance", "5", "Amount difference still treated as a duplicate on the same day"),
		outlierSigma:       fs.StringLong("outlier-sigma", "2", "Standard deviations above the mean that make an outlier"),

		logLevel:  fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: fs.StringLong("log-format", "text", "Log format: 'text' or 'json'"),
	}
}

// Parse reads args and EXPENSE_TRACKER_* environment variables into fs and
// resolves the shared flags.
func (f *Flags) Parse(fs *ff.FlagSet, args []string) (Config, error) {
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return Config{}, err
	}
	return f.Resolve()
}

// Resolve validates the flag values.
func (f *Flags) Resolve() (Config, error) {
	c := Config{
		Port:        *f.port,
		AuthUser:    *f.authUser,
		AuthPass:    *f.authPass,
		Owner:       *f.owner,
		PublicURL:   *f.publicURL,
		DBDriver:    *f.dbDriver,
		DBPath:      *f.dbPath,
		Storage:     *f.storage,
		StoragePath: *f.storagePath,
		GCSBucket:   *f.gcsBucket,
		Tesseract:   *f.tesseract,
		OCRLang:     *f.ocrLang,
		Scanner:     *f.scanner,
		GeminiKey:   *f.geminiKey,
		GeminiModel: *f.geminiModel,
		OllamaURL:   *f.ollamaURL,
		OllamaModel: *f.ollamaModel,
		OpenAIKey:   *f.openAIKey,
		OpenAIModel: *f.openAIModel,
		OpenAIURL:   *f.openAIURL,
		LogLevel:    *f.logLevel,
		LogFormat:   *f.logFormat,
	}
	if c.PublicURL == "" {
		c.PublicURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}

	for name, dst := range map[string]struct {
		raw string
		out *decimal.Decimal
	}{
		"vat-min":             {*f.vatMin, &c.VATMin},
		"vat-max":             {*f.vatMax, &c.VATMax},
		"amount-floor":        {*f.amountFloor, &c.AmountFloor},
		"duplicate-tolerance": {*f.duplicateTolerance, &c.DuplicateTolerance},
	} {
		d, err := decimal.NewFromString(dst.raw)
		if err != nil {
			return Config{}, fmt.Errorf("--%s: %w", name, err)
		}
		*dst.out = d
	}
	if !c.VATMin.LessThan(c.VATMax) {
		return Config{}, fmt.Errorf("--vat-min %s must be below --vat-max %s", c.VATMin, c.VATMax)
	}

	sigma, err := strconv.ParseFloat(*f.outlierSigma, 64)
	if err != nil || sigma <= 0 {
		return Config{}, fmt.Errorf("--outlier-sigma must be a positive number, got %q", *f.outlierSigma)
	}
	c.OutlierSigma = sigma

	switch c.DBDriver {
	case "bolt", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid db driver %q, valid: bolt or sqlite", c.DBDriver)
	}
	switch c.Storage {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return Config{}, fmt.Errorf("--gcs-bucket is required for gcs storage")
		}
	default:
		return Config{}, fmt.Errorf("invalid storage %q, valid: local or gcs", c.Storage)
	}
	switch c.Scanner {
	case "gemini", "ollama", "openai", "none":
	default:
		return Config{}, fmt.Errorf("invalid scanner type %q, valid: gemini, ollama, openai or none", c.Scanner)
	}
	return c, nil
}

// SetupLogger installs the default slog logger.
func SetupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q, valid: text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// BasicAuth returns the server credentials; both empty disables auth.
func (c Config) BasicAuth() receipt.BasicAuth {
	return receipt.BasicAuth{Username: c.AuthUser, Password: c.AuthPass}
}

// OwnerID is the owner used by tools that do not authenticate.
func (c Config) OwnerID() string {
	if c.AuthUser != "" {
		return c.AuthUser
	}
	return c.Owner
}

// Service returns the tunables of the receipt service.
func (c Config) Service() receipt.Config {
	cfg := receipt.DefaultConfig()
	cfg.Engine = extraction.Config{
		AmountFloor: c.AmountFloor,
		VATMin:      c.VATMin,
		VATMax:      c.VATMax,
	}
	cfg.DuplicateTolerance = c.DuplicateTolerance
	cfg.OutlierSigma = c.OutlierSigma
	return cfg
}

// OpenDB opens the configured database.
func (c Config) OpenDB() (receipt.DB, error) {
	slog.Info("Initializing database...", "driver", c.DBDriver, "path", c.DBPath)
	switch c.DBDriver {
	case "sqlite":
		return receipt.NewSQLiteDB(c.DBPath)
	default:
		return receipt.NewBoltDB(c.DBPath)
	}
}

// OpenStorage opens the configured image store.
func (c Config) OpenStorage(ctx context.Context) (receipt.Storage, error) {
	slog.Info("Initializing storage...", "storage", c.Storage)
	if c.Storage == "gcs" {
		return receipt.NewGCSStorage(ctx, c.GCSBucket)
	}
	return receipt.NewLocalStorage(c.StoragePath, c.PublicURL)
}

// Recognizer returns the OCR engine.
func (c Config) Recognizer() ocr.Recognizer {
	return ocr.NewTesseract(ocr.Config{Tesseract: c.Tesseract, Lang: c.OCRLang})
}

// OpenScanner returns the configured AI scanner, or nil for "none".
func (c Config) OpenScanner() (scanning.Scanner, error) {
	switch c.Scanner {
	case "gemini":
		apiKey := c.GeminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", c.GeminiModel)
		return scanning.NewGemini(apiKey, c.GeminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", c.OllamaURL, "model", c.OllamaModel)
		return scanning.NewOllama(c.OllamaURL, c.OllamaModel)
	case "openai":
		apiKey := c.OpenAIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI scanner...", "model", c.OpenAIModel)
		return scanning.NewOpenAI(apiKey, c.OpenAIModel, c.OpenAIURL)
	case "none":
		slog.Info("AI scanner disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q", c.Scanner)
	}
}
