package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/mae/internal/agreement"
	"github.com/pbaille/mae/internal/task"
)

func iaaCmd() *cobra.Command {
	var (
		targets   []string
		method    string
		multi     bool
		perChar   bool
		combined  bool
		useGold   bool
		delimiter string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "iaa TASK FILE...",
		Short: "Compute inter-annotator agreement",
		Long: "Compute agreement between annotation files named DOC<delimiter>ANNOTATOR.xml.\n" +
			"FILE may be a directory, in which case every .xml and .xml.xz file in it is used.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, err := task.Load(args[0])
			if err != nil {
				return err
			}
			paths, err := expandPaths(args[1:])
			if err != nil {
				return err
			}
			opts := agreement.Options{
				AllowMultiTagging: multi,
				Combined:          combined,
			}
			if perChar {
				opts.Granularity = agreement.PerCharacter
			}
			if opts.Targets, err = parseTargets(targets); err != nil {
				return err
			}
			if !cmd.Flags().Changed("delimiter") {
				delimiter = cfg.Agreement.Delimiter
			}
			if !cmd.Flags().Changed("gold") {
				useGold = cfg.Agreement.UseGold
			}

			idx, err := agreement.IndexFiles(paths, delimiter, cfg.Agreement.GoldSymbol)
			if err != nil {
				return err
			}
			cache := agreement.NewParseCache(idx, tk.Schema(), useGold)
			engine, err := agreement.NewEngine(cache, opts)
			if err != nil {
				return err
			}

			report := agreement.Report{}
			if method == "" {
				if report, err = engine.Report(); err != nil {
					return err
				}
			} else {
				scores, err := engine.Run(method)
				if err != nil {
					return err
				}
				report[method] = scores
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(jsonReport(report))
			}
			fmt.Printf("%d documents, raters: %s\n", len(idx.Documents()), strings.Join(cache.Raters(), ", "))
			for _, m := range agreement.Methods {
				scores, ok := report[m]
				if !ok {
					continue
				}
				fmt.Printf("\n%s\n", m)
				for _, label := range sortedLabels(scores) {
					fmt.Printf("  %-30s %s\n", label, formatScore(scores[label]))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&targets, "tag", nil, "tag type to compare, as TYPE or TYPE:att,att (repeatable)")
	cmd.Flags().StringVar(&method, "method", "", "only this method: "+strings.Join(agreement.Methods, ", "))
	cmd.Flags().BoolVar(&multi, "multi", false, "allow several tags of one annotator on one item")
	cmd.Flags().BoolVar(&perChar, "char", false, "compare every character instead of every tag extent")
	cmd.Flags().BoolVar(&combined, "combined", false, "also score all attributes of a tag type at once")
	cmd.Flags().BoolVar(&useGold, "gold", false, "count the gold standard as a rater")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "separator between document and annotator in file names")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.MarkFlagRequired("tag")
	return cmd
}

// parseTargets reads TYPE or TYPE:att,att specs
func parseTargets(specs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(specs))
	for _, spec := range specs {
		name, atts, _ := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid --tag %q", spec)
		}
		for _, a := range strings.Split(atts, ",") {
			if a = strings.TrimSpace(a); a != "" {
				out[name] = append(out[name], a)
			}
		}
		if _, ok := out[name]; !ok {
			out[name] = nil
		}
	}
	return out, nil
}

// expandPaths replaces directories with the annotation files they hold
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		for _, pattern := range []string{"*.xml", "*.xml.xz"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			paths = append(paths, matches...)
		}
	}
	return paths, nil
}

func sortedLabels(scores map[string]float64) []string {
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "NaN (not enough data)"
	}
	return fmt.Sprintf("%.4f", v)
}

// jsonReport replaces NaN, which JSON cannot carry, with null
func jsonReport(r agreement.Report) map[string]map[string]*float64 {
	out := make(map[string]map[string]*float64, len(r))
	for m, scores := range r {
		out[m] = make(map[string]*float64, len(scores))
		for label, v := range scores {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				out[m][label] = nil
				continue
			}
			v := v
			out[m][label] = &v
		}
	}
	return out
}
