package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sfimport/internal/app"
	"sfimport/internal/config"
	"sfimport/internal/history"
	"sfimport/internal/importer"
	"sfimport/internal/locator"
	"sfimport/internal/savefile"
	"sfimport/internal/wgs"
)

const version = "0.1.0"

// exitError carries the process exit status for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := rootCmd.Execute()
	if pause {
		waitForEnter()
	}
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var (
	verbose bool
	pause   bool
)

// loadConfig reads the config file, falling back to defaults when it does not
// exist yet.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.Load(defaults["config_path"], defaults["base_dir"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an ImporterApp. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Import", "List").
func newApp(operation string) (*app.ImporterApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewImporterApp(cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// cloudFlagHint explains the one format violation real indexes are known to
// trigger: some tools write local containers with flag 5.
const cloudFlagHint = "hint: the index holds a container whose flag cloud bit (0x4) disagrees with its cloud id, " +
	"for example a local container written with flag 5 by another tool; this importer refuses to modify such an index"

// classify maps an error to the exit status and message the user sees.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, locator.ErrNoPackageDir),
		errors.Is(err, locator.ErrPackageNotFound),
		errors.Is(err, locator.ErrContainerNotFound):
		return &exitError{code: 2, err: err}
	case errors.Is(err, wgs.ErrCloudFlagMismatch):
		return &exitError{code: 3, err: fmt.Errorf("%w\n%s", err, cloudFlagHint)}
	case errors.Is(err, wgs.ErrFormatViolation):
		return &exitError{code: 3, err: fmt.Errorf("unsupported container format, please report this issue: %w", err)}
	case errors.Is(err, wgs.ErrMissingResource):
		return &exitError{code: 4, err: err}
	case errors.Is(err, importer.ErrAlreadyImported):
		return &exitError{code: 5, err: err}
	default:
		return err
	}
}

func waitForEnter() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	fmt.Print("Press Enter to exit...")
	bufio.NewReader(os.Stdin).ReadString('\n')
}

func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a terminal is required to enter the passphrase")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printPackage(pkg *importer.Package) {
	fmt.Printf("Found container path: %s\n", pkg.Root)
	fmt.Println("Parsed container index:")
	fmt.Printf("  Package name: %s\n", pkg.Index.PackageName)
	fmt.Printf("  %d containers:\n", len(pkg.Index.Containers))
	for _, c := range pkg.Index.Containers {
		fmt.Printf("    %s (%d bytes)\n", c.Name, c.Size)
	}
	fmt.Println()
}

var rootCmd = &cobra.Command{
	Use:          "sfimport",
	Short:        "Import Starfield save files into the Xbox game's container storage",
	Version:      version,
	SilenceUsage: true,
}

// import command
var importCmd = &cobra.Command{
	Use:   "import SAVE",
	Short: "Import a save file as a new container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")

		fmt.Printf("========== Starfield Save File Importer v%s ==========\n", version)
		fmt.Println("WARNING: This tool is experimental. Always manually back up your existing saves!")
		fmt.Println()

		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, err := a.OpenPackage()
		if err != nil {
			return classify(err)
		}
		printPackage(pkg)

		fmt.Println("Creating new container")
		res, err := a.ImportInto(pkg, args[0], strategy)
		if err != nil {
			return classify(err)
		}

		if res.BackupPath != "" {
			fmt.Printf("Created backup of container: %s\n", res.BackupPath)
		}
		fmt.Printf("Wrote new container to %s\n", res.PayloadDir)
		fmt.Println("Updated container index")
		fmt.Println("Done!")
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the containers in the game's index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, err := a.OpenPackage()
		if err != nil {
			return classify(err)
		}
		printPackage(pkg)
		return nil
	},
}

// inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect SAVE",
	Short: "Parse and verify a chunked save file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("extract")

		a, err := newApp("InspectSave")
		if err != nil {
			return err
		}
		defer a.Close()

		var sf *savefile.SaveFile
		if out != "" {
			sf, err = a.DecompressSave(args[0], out)
		} else {
			sf, err = a.InspectSave(args[0])
		}
		if err != nil {
			return classify(err)
		}

		fmt.Printf("Header size:       %d\n", sf.HeaderSize)
		fmt.Printf("Real header size:  %d\n", sf.RealHeaderSize)
		fmt.Printf("Uncompressed size: %d\n", sf.UncompressedSize)
		fmt.Printf("Compressed size:   %d\n", sf.CompressedSize())
		fmt.Printf("Chunks:            %d\n", len(sf.Chunks))
		fmt.Printf("Opaque:            0x%08X\n", sf.Opaque)
		if out != "" {
			fmt.Printf("Decompressed to:   %s\n", out)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every container's file list against the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Verify")
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, statuses, err := a.VerifyContainers()
		if err != nil {
			return classify(err)
		}

		fmt.Printf("Container path: %s\n", pkg.Root)
		bad := 0
		for _, s := range statuses {
			switch {
			case s.Err != nil:
				bad++
				fmt.Printf("FAIL  %s: %v\n", s.Container.Name, s.Err)
			case !s.SizeMatches():
				bad++
				fmt.Printf("SIZE  %s: index %d, files %d\n", s.Container.Name, s.Container.Size, s.Files.Size())
			default:
				fmt.Printf("OK    %s (%d files)\n", s.Container.Name, len(s.Files.Files))
			}
			for _, name := range s.Orphans {
				fmt.Printf("  unreferenced blob: %s\n", name)
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d containers failed verification", bad, len(statuses))
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View previous imports",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		save, _ := cmd.Flags().GetString("save")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		var imports []*history.Import
		if save != "" {
			imports, err = a.FindImports(save)
		} else {
			imports, err = a.GetHistory(limit)
		}
		if err != nil {
			return err
		}

		if len(imports) == 0 {
			fmt.Println("No imports recorded.")
			return nil
		}

		for _, im := range imports {
			fmt.Printf("#%d  %s  %-8s  %10d  %s  %s\n",
				im.ID,
				im.ImportedAt.Local().Format("2006-01-02 15:04:05"),
				im.Strategy,
				im.Size,
				im.ContainerName,
				im.ContainerID,
			)
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export DEST",
	Short: "Write a standalone copy of the import history database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ExportHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportHistory(args[0]); err != nil {
			return err
		}
		fmt.Printf("Exported import history to %s\n", args[0])
		return nil
	},
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.PackageDir = locator.DefaultWGSDir()

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Package Dir: %s\n", cfg.PackageDir)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Strategy:    %s\n", cfg.Strategy)
		fmt.Printf("Backup:      %s %s\n", cfg.Backup.Type, cfg.Backup.Dir)
		fmt.Printf("History:     %s %s\n", cfg.History.Type, cfg.History.DataDir)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage archive backups",
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the key pair used to encrypt archive backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.GenerateBackupKeys(cfg.Backup, pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Backup.RecipientPath)
		fmt.Printf("Private key: %s\n", cfg.Backup.IdentityPath)
		return nil
	},
}

var backupExtractCmd = &cobra.Command{
	Use:   "extract ARCHIVE DEST",
	Short: "Unpack an archive backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var pass string
		if strings.HasSuffix(args[0], ".age") {
			if pass, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		if err := app.ExtractBackup(cfg.Backup, args[0], args[1], pass); err != nil {
			return fmt.Errorf("extracting backup: %w", err)
		}
		fmt.Printf("Extracted %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write all log levels to stderr")
	rootCmd.PersistentFlags().BoolVar(&pause, "pause", false, "Wait for Enter before exiting (for double-click launches)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// backup subcommands
	backupCmd.AddCommand(backupKeygenCmd)
	backupCmd.AddCommand(backupExtractCmd)

	// root commands
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("strategy", "s", "", `Container layout: "raw" or "chunked" (default from config)`)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("extract", "", "Write the decompressed save contents to this path")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of imports to show")
	historyCmd.Flags().String("save", "", "Show every import of the named save file")
	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
}
