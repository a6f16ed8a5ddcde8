// main.go - Admin control tool for coursepulse
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"coursepulse/internal"
	"coursepulse/internal/config"
	"coursepulse/internal/seeder"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

var errNoApp = errors.New("app initialization failed")

// Command defines the interface for all command implementations
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// NeedsApp is implemented by commands that run without a database.
type NeedsApp interface {
	NeedsApp() bool
}

var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&ReportCommand{},
	&LinksCommand{},
	&HashTokenCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if n, ok := cmd.(NeedsApp); !ok || n.NeedsApp() {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Printf("Warning: Failed to initialize app: %v", err)
		}
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand simulates visitors through the tracker
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds demo links and simulated visits (-sessions N -days D)" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	sessions := fs.Int("sessions", 500, "number of visits to simulate")
	days := fs.Int("days", 30, "spread visits over the last N days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if app == nil {
		return errNoApp
	}
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	s := seeder.NewSeeder(app.DBManager, slog.Default(), *sessions)
	s.Days = *days
	return s.Run(ctx)
}

// ReportCommand prints the analytics report as JSON
type ReportCommand struct{}

func (c *ReportCommand) Name() string        { return "report" }
func (c *ReportCommand) Description() string { return "Prints the report for a window: report [1|7|30|90]" }

func (c *ReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}

	window := timeframe.Window(config.GetConfig().DefaultReportWindow)
	if len(args) > 0 {
		parsed, err := timeframe.ParseWindow(args[0])
		if err != nil {
			return err
		}
		window = parsed
	}

	r := app.Services.Engine.ComputeReport(ctx, window)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// LinksCommand lists tracked links
type LinksCommand struct{}

func (c *LinksCommand) Name() string        { return "links" }
func (c *LinksCommand) Description() string { return "Lists tracked links and short-code collisions" }

func (c *LinksCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}

	links, err := utm.ListLinks(app.DBManager.GetConnection())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tSOURCE\tMEDIUM\tCAMPAIGN\tURL")
	for _, l := range links {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.ShortCode, l.SourceLabel, l.MediumLabel, l.CampaignLabel, l.FullURL)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, collision := range utm.FindCollisions(links) {
		fmt.Printf("warning: %q strips to %q and decodes ambiguously\n", collision.ShortCode, collision.ConflictsWith)
	}
	return nil
}

// HashTokenCommand prints the bcrypt hash for an admin token
type HashTokenCommand struct{}

func (c *HashTokenCommand) Name() string { return "hash-token" }
func (c *HashTokenCommand) Description() string {
	return "Reads an admin token and prints the hash for COURSEPULSE_ADMIN_TOKEN_HASH"
}
func (c *HashTokenCommand) NeedsApp() bool { return false }

func (c *HashTokenCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	token, err := readToken()
	if err != nil {
		return err
	}
	if len(token) < 16 {
		return fmt.Errorf("token must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, "Admin token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm token: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("tokens do not match")
	}
	return strings.TrimSpace(string(first)), nil
}

// StatusCommand shows database statistics
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	db := app.DBManager.GetConnection()

	var sessions, views, clicks int64
	if err := db.Model(&tracking.SessionRecord{}).Count(&sessions).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&tracking.PageView{}).Count(&views).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&tracking.ClickEvent{}).Count(&clicks).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	cfg := config.GetConfig()
	fmt.Println("System Status:")
	fmt.Printf("- Database: %s\n", cfg.GetDatabasePath())
	fmt.Printf("- Sessions: %d, page views: %d, clicks: %d\n", sessions, views, clicks)
	fmt.Printf("- Admin API: %v\n", cfg.AdminAPIEnabled())
	fmt.Printf("- GeoIP: %v\n", app.Services.Geo.Enabled())
	fmt.Printf("- Open Connections: %d (in use %d, idle %d)\n",
		sqlDB.Stats().OpenConnections, sqlDB.Stats().InUse, sqlDB.Stats().Idle)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }
func (c *HelpCommand) NeedsApp() bool      { return false }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pulsectl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
