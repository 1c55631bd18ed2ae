// Package main provides the CLI entrypoint for inkleaf.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/inkleaf/inkleaf/internal/access"
	"github.com/inkleaf/inkleaf/internal/catalog"
	"github.com/inkleaf/inkleaf/internal/config"
	"github.com/inkleaf/inkleaf/internal/model"
	"github.com/inkleaf/inkleaf/internal/store"
	"github.com/inkleaf/inkleaf/internal/tui"
)

const (
	defaultReaderWidth  = 0.7
	terminalWidthBackup = 80
)

var (
	readFeedDir     string
	readReaderWidth float64

	unlocksClear bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inkleaf",
		Short:         "TUI reader for serialized fiction",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runReadCmd,
	}

	rootCmd.Flags().StringVar(&readFeedDir, "feed-dir", config.DefaultFeedDir(), "directory scanned for novel feeds")
	rootCmd.Flags().Float64Var(&readReaderWidth, "reader-width", defaultReaderWidth, "reader text width as a fraction of the terminal (0-1)")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newNovelsCmd())
	rootCmd.AddCommand(newUnlocksCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runReadCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadReaderConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	promotions := make(chan []string, 8)
	ctrl := access.New(access.NewKVRepository(st), access.WithOnPromotion(func(ids []string) {
		select {
		case promotions <- ids:
		default:
			// Drop when the UI is not draining; state is already saved.
		}
	}))
	defer ctrl.Close()

	m, err := tui.NewModel(st, ctrl, cfg, promotions)
	if err != nil {
		return err
	}
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func loadReaderConfig(cmd *cobra.Command) (model.Config, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return model.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "feed-dir", &readFeedDir, fileCfg.Reader.FeedDir)
	applyFloatConfig(cmd, "reader-width", &readReaderWidth, fileCfg.Reader.ReaderWidth)

	cfg := model.Config{
		FeedDir:     readFeedDir,
		ReaderWidth: readReaderWidth,
	}
	if cfg.ReaderWidth <= 0 || cfg.ReaderWidth > 1 {
		return model.Config{}, fmt.Errorf("--reader-width must be between 0 and 1")
	}
	return cfg, nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [feed.json ...]",
		Short: "Import novel feeds",
		Long:  "Import one or more novel feed files. With no arguments, imports every *.json feed in the feed directory.",
		RunE:  runImportCmd,
	}
	cmd.Flags().StringVar(&readFeedDir, "feed-dir", config.DefaultFeedDir(), "directory scanned for novel feeds")
	return cmd
}

func runImportCmd(cmd *cobra.Command, args []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "feed-dir", &readFeedDir, fileCfg.Reader.FeedDir)

	paths := args
	if len(paths) == 0 {
		paths, err = feedPaths(readFeedDir)
		if err != nil {
			return err
		}
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	for _, path := range paths {
		novel, err := catalog.ImportFile(ctx, st, path)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Imported %q (%s)\n", novel.Title, novel.ID); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func feedPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("feed directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to read feed directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no feeds found in %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

func newNovelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "novels",
		Short: "List imported novels",
		Args:  cobra.NoArgs,
		RunE:  runNovelsCmd,
	}
}

func runNovelsCmd(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	novels, err := st.ListNovels(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list novels: %w", err)
	}
	if len(novels) == 0 {
		logErrln("No novels imported. Run: inkleaf import <feed.json>")
		return nil
	}
	for _, n := range novels {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s by %s (%d chapters)\n", n.Title, n.Author, n.Chapters); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newUnlocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlocks",
		Short: "Show or clear chapter unlock state",
		Args:  cobra.NoArgs,
		RunE:  runUnlocksCmd,
	}
	cmd.Flags().BoolVar(&unlocksClear, "clear", false, "clear all unlock state")
	return cmd
}

func runUnlocksCmd(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	repo := access.NewKVRepository(st)

	if unlocksClear {
		if err := repo.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear unlock state: %w", err)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), "Unlock state cleared."); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	state, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load unlock state: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(state.Unlocked) == 0 {
		if _, err := fmt.Fprintln(out, "No unlocked chapters."); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else {
		ids := make([]string, 0, len(state.Unlocked))
		for id := range state.Unlocked {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if _, err := fmt.Fprintf(out, "Unlocked chapters (%d):\n%s\n", len(ids), columnize(ids, terminalWidth())); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if len(state.Timers) == 0 {
		if _, err := fmt.Fprintln(out, "No active wait-timer."); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	now := time.Now()
	for id, expiry := range state.Timers {
		display := access.FormatRemaining(expiry.Sub(now))
		if _, err := fmt.Fprintf(out, "Waiting on %s: %s remaining (expires %s)\n",
			id, display.Full, expiry.Local().Format(time.RFC1123)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

// columnize lays IDs out in rows that fit the given width.
func columnize(ids []string, width int) string {
	if len(ids) == 0 {
		return ""
	}
	colWidth := 0
	for _, id := range ids {
		if len(id) > colWidth {
			colWidth = len(id)
		}
	}
	colWidth += 2
	perRow := width / colWidth
	if perRow < 1 {
		perRow = 1
	}
	var b strings.Builder
	for i, id := range ids {
		b.WriteString(fmt.Sprintf("%-*s", colWidth, id))
		if (i+1)%perRow == 0 && i != len(ids)-1 {
			b.WriteRune('\n')
		}
	}
	return b.String()
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# inkleaf configuration
# Uncomment a value to enable it. CLI flags override config values.

[reader]
# feed-dir = %q
# reader-width = %.2f      # Reader text width as a fraction of the terminal (0-1)
`,
		config.DefaultFeedDir(),
		defaultReaderWidth,
	)
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
