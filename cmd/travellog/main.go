package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"travellog/internal/app"
	"travellog/internal/config"
	"travellog/internal/importer"
	"travellog/internal/travellog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TravelLogApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Add", "List").
func newApp(cmd *cobra.Command, operation string) (*app.TravelLogApp, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts := []app.Option{
		app.WithPassphrase(func() (string, error) {
			return readPassphrase("Passphrase to unlock snapshots: ")
		}),
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts = append(opts, app.WithLogEcho(os.Stderr))
	}

	a, err := app.NewTravelLogApp(cmd.Context(), cfg, paths.ConfigFile, operation, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase returns TRAVELLOG_PASSPHRASE if set, otherwise prompts on
// the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("TRAVELLOG_PASSPHRASE"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to read the passphrase from: set TRAVELLOG_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:           "travellog",
	Short:         "Record the places you have visited",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		// A fresh local session key until the user switches owner
		owner := uuid.New().String()

		// Create config with defaults
		cfg := config.NewConfig(owner, paths.BaseDir)

		// Initialize config file
		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Owner:    %s\n", owner)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to resolve paths: %w", err)
		}

		// Read config
		cfg, err := config.ReadFromFile(paths.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		// Display config
		fmt.Printf("Configuration from %s:\n\n", paths.ConfigFile)
		fmt.Printf("Owner:        %s\n", cfg.Owner)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Remote:       %s\n", cfg.Remote.Type)
		fmt.Printf("Snapshots:    %s\n", cfg.Persistence.Type)
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		fmt.Printf("Soft max age: %s\n", cfg.Sync.SoftMaxAge)
		fmt.Printf("Hard ceiling: %s\n", cfg.Sync.HardCeiling)
		fmt.Printf("Tx timeout:   %s\n", cfg.Sync.TxTimeout)
		fmt.Printf("Ordering:     %s\n", cfg.Sync.Ordering)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "InitKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("TRAVELLOG_PASSPHRASE") == "" {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return errors.New("passphrases do not match")
			}
		}

		if err := a.InitKeys(passphrase); err != nil {
			return err
		}

		fmt.Printf("Keys written to %s\n", a.Config().Encryption.PublicKeyPath)
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add COUNTRY CITY",
	Short: "Record a visited place",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")

		a, err := newApp(cmd, "Add")
		if err != nil {
			return err
		}
		defer a.Close()

		explorer := a.Config().Sync.ExplorerURL
		a.OnProgress(func(n travellog.Notification) {
			app.RenderNotification(os.Stdout, n, explorer)
		})

		if _, err := a.Add(cmd.Context(), args[0], args[1], date); err != nil {
			return fmt.Errorf("adding place: %w", err)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List visited places",
	RunE: func(cmd *cobra.Command, args []string) error {
		order, _ := cmd.Flags().GetString("order")
		search, _ := cmd.Flags().GetString("search")
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp(cmd, "List")
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.List(cmd.Context(), order, search, refresh)
		if err != nil {
			return err
		}
		return app.RenderView(os.Stdout, view, travellog.RealClock{}.Now())
	},
}

// count command
var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count visited places",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Count")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Count(cmd.Context())
		if err != nil {
			return err
		}
		return app.RenderCount(os.Stdout, n)
	},
}

// remove command
var removeCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a place from the local list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("No place with id %s.\n", args[0])
			return nil
		}
		fmt.Printf("Removed %s locally; it returns on the next refresh while the ledger holds it.\n", args[0])
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import [FILE]",
	Short: "Import places from a YAML file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, _ := cmd.Flags().GetBool("sample")
		if len(args) == 0 && !sample {
			return errors.New("a FILE or --sample is required")
		}

		a, err := newApp(cmd, "Import")
		if err != nil {
			return err
		}
		defer a.Close()

		explorer := a.Config().Sync.ExplorerURL
		a.OnProgress(func(n travellog.Notification) {
			app.RenderNotification(os.Stdout, n, explorer)
		})

		r := importer.Sample()
		if !sample {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening visit file: %w", err)
			}
			defer f.Close()
			r = f
		}

		handles, err := a.Import(cmd.Context(), r)
		if rerr := app.RenderImport(os.Stdout, handles); rerr != nil && err == nil {
			err = rerr
		}
		return err
	},
}

// owner command
var ownerCmd = &cobra.Command{
	Use:   "owner [NEW]",
	Short: "Show or switch the active owner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logout, _ := cmd.Flags().GetBool("logout")
		if logout && len(args) > 0 {
			return errors.New("--logout takes no owner")
		}

		a, err := newApp(cmd, "Owner")
		if err != nil {
			return err
		}
		defer a.Close()

		switch {
		case logout:
			if err := a.SetOwner(cmd.Context(), ""); err != nil {
				return err
			}
			fmt.Println("Logged out; local records cleared.")
		case len(args) == 1:
			if err := a.SetOwner(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Owner: %s\n", a.Owner())
		default:
			if a.Owner().IsZero() {
				fmt.Println("Logged out.")
			} else {
				fmt.Printf("Owner: %s\n", a.Owner())
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Echo log lines to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("date", "d", "", "Visit date as YYYY-MM-DD (default today)")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("order", "o", "", "visited_desc, visited_asc, country_asc, city_asc or insertion")
	listCmd.Flags().StringP("search", "s", "", "Only places whose country or city contains this text")
	listCmd.Flags().BoolP("refresh", "r", false, "Fetch from the ledger even if the cache is fresh")
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("sample", false, "Import the built-in sample places")
	rootCmd.AddCommand(ownerCmd)
	ownerCmd.Flags().Bool("logout", false, "Log out and clear local records")
}
