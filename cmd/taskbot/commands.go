// ABOUTME: Administrative subcommands: interactive init, demo seeding, user creation, health probe and tokens
// ABOUTME: Each command loads the config file and talks to the database or the running server directly

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/taskbot/internal/auth"
	"github.com/2389/taskbot/internal/config"
	"github.com/2389/taskbot/internal/store"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath, err := config.ExpandPath(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runSeed(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	seeded, err := store.Seed(ctx, s)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if !seeded {
		color.New(color.FgYellow).Println("  Database already seeded, nothing to do.")
		return nil
	}
	green.Printf("  ✓ Seeded demo data into %s\n", cfg.Database.Path)
	fmt.Println()
	fmt.Println("  Log in from a chat with /login using one of:")
	fmt.Printf("    %-22s manager123\n", store.SeedManagerEmail)
	fmt.Printf("    %-22s dev123\n", "dev1@example.com")
	return nil
}

// addUserOptions are the flags of the adduser command.
type addUserOptions struct {
	name     string
	email    string
	password string
	role     string
	teamID   int64
	lead     bool
}

func parseAddUserFlags(args []string) (*addUserOptions, error) {
	var opts addUserOptions
	fs := pflag.NewFlagSet("adduser", pflag.ContinueOnError)
	fs.StringVarP(&opts.name, "name", "n", "", "display name")
	fs.StringVarP(&opts.email, "email", "e", "", "login email")
	fs.StringVarP(&opts.password, "password", "p", "", "password (prompted when empty)")
	fs.StringVar(&opts.role, "role", string(store.RoleDeveloper), "developer or manager")
	fs.Int64Var(&opts.teamID, "team-id", 0, "team the user belongs to")
	fs.BoolVar(&opts.lead, "lead", false, "mark the user as team lead")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts.name = strings.TrimSpace(opts.name)
	opts.email = strings.ToLower(strings.TrimSpace(opts.email))
	switch {
	case opts.name == "":
		return nil, errors.New("--name is required")
	case opts.email == "" || !strings.Contains(opts.email, "@"):
		return nil, errors.New("--email must be an email address")
	}
	switch store.Role(opts.role) {
	case store.RoleDeveloper, store.RoleManager:
	default:
		return nil, fmt.Errorf("--role %q must be developer or manager", opts.role)
	}
	return &opts, nil
}

func runAddUser(ctx context.Context, args []string) error {
	opts, err := parseAddUserFlags(args)
	if err != nil {
		return err
	}
	if opts.password == "" {
		opts.password = prompt(bufio.NewReader(os.Stdin), "Password", "")
	}
	if opts.password == "" {
		return errors.New("password cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return err
	}
	user := &store.User{
		Name:         opts.name,
		Email:        opts.email,
		PasswordHash: hash,
		Role:         store.Role(opts.role),
		Lead:         opts.lead,
	}
	if opts.teamID > 0 {
		user.TeamID = &opts.teamID
	}

	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("a user with email %s already exists", opts.email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created %s <%s> (id %d)\n", user.Name, user.Email, user.ID)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Server.HTTPAddr
	if cfg.Tailscale.Enabled {
		host = cfg.Tailscale.Hostname
	}
	url := fmt.Sprintf("http://%s/health", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// tokenOptions are the flags of the token command.
type tokenOptions struct {
	subject string
	ttl     time.Duration
}

func parseTokenFlags(args []string) (*tokenOptions, error) {
	var opts tokenOptions
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.StringVar(&opts.subject, "sub", "", "operator name recorded as the token subject")
	fs.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	opts.subject = strings.TrimSpace(opts.subject)
	if opts.subject == "" {
		return nil, errors.New("--sub is required")
	}
	if opts.ttl <= 0 {
		return nil, errors.New("--ttl must be positive")
	}
	return &opts, nil
}

func runToken(args []string) error {
	opts, err := parseTokenFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured; the admin API is open")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(opts.subject, opts.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// initAnswers collects the values asked by the init command.
type initAnswers struct {
	HTTPAddr  string
	GRPCAddr  string
	DBPath    string
	JWTSecret string

	TailscaleEnabled   bool
	TailscaleHostname  string
	TailscaleAuthKey   string
	TailscaleEphemeral bool

	TelegramEnabled bool
	TelegramToken   string

	MatrixEnabled     bool
	MatrixHomeserver  string
	MatrixUserID      string
	MatrixAccessToken string
	MatrixCryptoDir   string

	AllowUserPicker bool
	LogLevel        string
	LogFormat       string
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# taskbot configuration\n")
	cfg.WriteString("# Generated by taskbot init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	if a.GRPCAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	if a.JWTSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TailscaleHostname)
		if a.TailscaleAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TailscaleAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TailscaleEphemeral)
	}
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	fmt.Fprintf(&cfg, "  allow_user_picker: %t\n", a.AllowUserPicker)
	cfg.WriteString("  dedupe_ttl: \"5m\"\n")
	cfg.WriteString("  send_timeout: \"15s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("frontends:\n")
	cfg.WriteString("  telegram:\n")
	fmt.Fprintf(&cfg, "    enabled: %t\n", a.TelegramEnabled)
	if a.TelegramEnabled {
		fmt.Fprintf(&cfg, "    token: %q\n", a.TelegramToken)
	}
	cfg.WriteString("  matrix:\n")
	fmt.Fprintf(&cfg, "    enabled: %t\n", a.MatrixEnabled)
	if a.MatrixEnabled {
		fmt.Fprintf(&cfg, "    homeserver: %q\n", a.MatrixHomeserver)
		fmt.Fprintf(&cfg, "    user_id: %q\n", a.MatrixUserID)
		fmt.Fprintf(&cfg, "    access_token: %q\n", a.MatrixAccessToken)
		if a.MatrixCryptoDir != "" {
			fmt.Fprintf(&cfg, "    crypto_dir: %q\n", a.MatrixCryptoDir)
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("taskbot configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "taskbot.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")
	if yes(prompt(reader, "Protect the admin API with a JWT secret?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHostname = prompt(reader, "Tailscale hostname", "taskbot")
		a.TailscaleAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TailscaleEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Chat Frontends ---")
	a.TelegramEnabled = yes(prompt(reader, "Enable Telegram?", "yes"))
	if a.TelegramEnabled {
		a.TelegramToken = prompt(reader, "Telegram bot token", "${TELEGRAM_BOT_TOKEN}")
	}
	a.MatrixEnabled = yes(prompt(reader, "Enable Matrix?", "no"))
	if a.MatrixEnabled {
		a.MatrixHomeserver = prompt(reader, "Matrix homeserver URL", "https://matrix.org")
		a.MatrixUserID = prompt(reader, "Matrix bot user ID", "@taskbot:matrix.org")
		a.MatrixAccessToken = prompt(reader, "Matrix access token", "${MATRIX_ACCESS_TOKEN}")
		a.MatrixCryptoDir = prompt(reader, "Encryption store directory (empty to disable E2EE)", "")
	}
	a.AllowUserPicker = yes(prompt(reader, "Offer a user picker on /login (demo only)?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  taskbot seed     # optional demo data")
	fmt.Println("  taskbot serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
