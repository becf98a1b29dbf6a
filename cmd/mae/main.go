package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/mae/internal/api"
	"github.com/pbaille/mae/internal/codec"
	"github.com/pbaille/mae/internal/config"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/fetcher"
	"github.com/pbaille/mae/internal/fileio"
	"github.com/pbaille/mae/internal/logging"
	"github.com/pbaille/mae/internal/span"
	"github.com/pbaille/mae/internal/store"
	"github.com/pbaille/mae/internal/task"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mae",
		Short:         "Multi-purpose annotation environment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			logging.InitLogger(logging.ParseLevel(cfg.Log.Level), logging.ParseFormat(cfg.Log.Format))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default in-memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(normalizeCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(newCmd())
	rootCmd.AddCommand(iaaCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// getStore opens the configured store and creates the task's schema in it
// unless it already holds that task.
func getStore(taskPath string) (*store.Store, error) {
	tk, err := task.Load(taskPath)
	if err != nil {
		return nil, err
	}
	if p := cfg.Database.Path; p != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	s, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	name, err := s.TaskName()
	if err != nil {
		s.Close()
		return nil, err
	}
	switch name {
	case "":
		if err := tk.Apply(s); err != nil {
			s.Close()
			return nil, err
		}
	case tk.Name:
	default:
		s.Close()
		return nil, fmt.Errorf("database holds task %s, not %s", name, tk.Name)
	}
	return s, nil
}

// loadFile reads an annotation file, compressed or not, into the store
func loadFile(s *store.Store, path string) (string, error) {
	r, err := fileio.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return s.LoadFrom(r, path)
}

// writeOut saves the store to path, or to stdout when path is empty
func writeOut(s *store.Store, path string) error {
	if path == "" {
		return s.Save(os.Stdout)
	}
	w, err := fileio.Create(path)
	if err != nil {
		return err
	}
	if err := s.Save(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return s.SetAnnotationFileName(path)
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema TASK",
		Short: "Show the tag types of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, err := task.Load(args[0])
			if err != nil {
				return err
			}
			printSchema(os.Stdout, tk.Schema())
			return nil
		},
	}
}

func printSchema(w io.Writer, sc *domain.Schema) {
	fmt.Fprintf(w, "Task: %s\n", sc.TaskName)
	for _, tt := range sc.TagTypes {
		kind := "extent"
		switch {
		case tt.Link:
			kind = "link"
		case tt.NonConsuming:
			kind = "extent, non-consuming"
		}
		fmt.Fprintf(w, "\n%s (%s, prefix %s)\n", tt.Name, kind, tt.Prefix)
		for _, at := range tt.ArgumentTypes {
			fmt.Fprintf(w, "  -> %s%s\n", at.Name, flags(at.Required, false))
		}
		for _, at := range tt.AttributeTypes {
			fmt.Fprintf(w, "  @ %s%s", at.Name, flags(at.Required, at.IDRef))
			if len(at.ValueSet) > 0 {
				fmt.Fprintf(w, " in {%s}", strings.Join(at.ValueSet, ", "))
			}
			if at.Default != "" {
				fmt.Fprintf(w, " default %s", at.Default)
			}
			fmt.Fprintln(w)
		}
	}
}

func flags(required, idRef bool) string {
	var out []string
	if required {
		out = append(out, "required")
	}
	if idRef {
		out = append(out, "id ref")
	}
	if len(out) == 0 {
		return ""
	}
	return " (" + strings.Join(out, ", ") + ")"
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check TASK FILE [OTHER...]",
		Short: "Validate an annotation file",
		Long: "Decode FILE against TASK, report warnings and tags missing required values.\n" +
			"OTHER files are checked to annotate the same task and primary text.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			warnings, err := loadFile(s, args[1])
			if err != nil {
				return err
			}
			if warnings != "" {
				fmt.Printf("Warnings:\n%s\n", warnings)
			}

			missing, err := s.AllUnderspecified()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(missing))
			for id := range missing {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("%s is missing %s\n", id, strings.Join(missing[id], ", "))
			}

			incompatible := 0
			for _, other := range args[2:] {
				if err := checkOther(s, other); err != nil {
					fmt.Printf("%s: %v\n", other, err)
					incompatible++
				}
			}

			if warnings == "" && len(missing) == 0 && incompatible == 0 {
				fmt.Println("OK")
			}
			if incompatible > 0 {
				return fmt.Errorf("%d incompatible files", incompatible)
			}
			return nil
		},
	}
}

func checkOther(s *store.Store, path string) error {
	r, err := fileio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	p, err := codec.ReadPreamble(r, path)
	if err != nil {
		return err
	}
	return s.CheckCompatible(p)
}

func normalizeCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "normalize TASK FILE",
		Short: "Rewrite an annotation file in canonical form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			warnings, err := loadFile(s, args[1])
			if err != nil {
				return err
			}
			if warnings != "" {
				fmt.Fprintf(os.Stderr, "Warnings:\n%s\n", warnings)
			}
			return writeOut(s, out)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, .xz to compress (default stdout)")
	return cmd
}

func tagsCmd() *cobra.Command {
	var (
		at, begin, end int
		tagType        string
		within         bool
	)

	cmd := &cobra.Command{
		Use:   "tags TASK FILE",
		Short: "List the tags at a location or in a range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := loadFile(s, args[1]); err != nil {
				return err
			}

			var tags []*domain.ExtentTag
			switch {
			case cmd.Flags().Changed("at") && tagType != "":
				tags, err = s.TagsOfTypeAt(tagType, at)
			case cmd.Flags().Changed("at"):
				tags, err = s.TagsAt(at)
			case within && tagType != "":
				tags, err = s.TagsOfTypeBetween(tagType, begin, end)
			case within:
				tags, err = s.TagsBetween(begin, end)
			case tagType != "":
				tags, err = s.TagsOfTypeIn(tagType, begin, end)
			default:
				tags, err = s.TagsIn(begin, end)
			}
			if err != nil {
				return err
			}

			if len(tags) == 0 {
				fmt.Println("No tags found.")
				return nil
			}
			for _, t := range tags {
				fmt.Printf("%-6s %-10s %-12s %s\n", t.ID, t.TypeName, span.Format(t.Spans), truncate(t.Text, 50))
				for _, a := range t.Attributes {
					fmt.Printf("         %s=%s\n", a.Name, a.Value)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&at, "at", 0, "character offset")
	cmd.Flags().IntVar(&begin, "begin", 0, "range start")
	cmd.Flags().IntVar(&end, "end", 0, "range end (exclusive)")
	cmd.Flags().StringVarP(&tagType, "type", "t", "", "only tags of this type")
	cmd.Flags().BoolVar(&within, "within", false, "only tags lying entirely in the range")
	cmd.MarkFlagsMutuallyExclusive("at", "begin")
	cmd.MarkFlagsMutuallyExclusive("at", "end")
	return cmd
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func newCmd() *cobra.Command {
	var textFile, url, out string

	cmd := &cobra.Command{
		Use:   "new TASK",
		Short: "Start an empty annotation file over a text or a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if url != "" {
				f := fetcher.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes)
				fetched, err := f.Fetch(context.Background(), url)
				if err != nil {
					return err
				}
				text = fetched
			} else {
				r, err := fileio.Open(textFile)
				if err != nil {
					return err
				}
				b, err := io.ReadAll(r)
				r.Close()
				if err != nil {
					return fmt.Errorf("read text: %w", err)
				}
				text = string(b)
			}

			s, err := getStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.EmptyAnnotations(); err != nil {
				return err
			}
			if err := s.SetPrimaryText(text); err != nil {
				return err
			}
			return writeOut(s, out)
		},
	}

	cmd.Flags().StringVar(&textFile, "text", "", "primary text file")
	cmd.Flags().StringVar(&url, "url", "", "web page to take the primary text from")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, .xz to compress (default stdout)")
	cmd.MarkFlagsOneRequired("text", "url")
	cmd.MarkFlagsMutuallyExclusive("text", "url")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve TASK [FILE]",
		Short: "Start the REST API server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore(args[0])
			if err != nil {
				return err
			}
			// Note: don't defer s.Close() as server runs indefinitely

			if len(args) == 2 {
				warnings, err := loadFile(s, args[1])
				if err != nil {
					return err
				}
				if warnings != "" {
					logging.Warn("annotation file has warnings", "path", args[1], "warnings", warnings)
				}
			}

			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			server := api.New(s, addr)
			return server.Run()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address")
	return cmd
}
