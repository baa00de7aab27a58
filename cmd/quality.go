package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/presenceapp/presence/internal/recognition"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Score a training set offline",
	Long: `Compute the gallery quality report for a training set without a server
or a database. The input file holds per-image embeddings grouped by identity:

  {"identities": [{"name": "Alice", "embeddings": [[...], [...]]}]}

The same format the training upload endpoint accepts.`,
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(qualityCmd)

	qualityCmd.Flags().String("file", "", "JSON file with per-identity embeddings (required)")
	_ = qualityCmd.MarkFlagRequired("file")
}

type qualityFileIdentity struct {
	Name       string      `json:"name"`
	Embeddings [][]float32 `json:"embeddings"`
}

type qualityFile struct {
	Identities []qualityFileIdentity `json:"identities"`
}

func runQuality(cmd *cobra.Command, args []string) error {
	path := mustGetString(cmd, "file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file qualityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Identities) == 0 {
		return fmt.Errorf("no identities in %s", path)
	}

	bar := progressbar.NewOptions(len(file.Identities),
		progressbar.OptionSetDescription("Collecting embeddings"),
		progressbar.OptionShowCount(),
	)

	grouped := make(map[string][][]float32, len(file.Identities))
	for _, identity := range file.Identities {
		if identity.Name == "" {
			return fmt.Errorf("identity with empty name in %s", path)
		}
		grouped[identity.Name] = append(grouped[identity.Name], identity.Embeddings...)
		_ = bar.Add(1)
	}
	fmt.Println()

	report := recognition.EstimateQuality(grouped)

	fmt.Printf("Identities:        %d\n", report.Identities)
	fmt.Printf("Samples:           %d\n", report.Samples)
	fmt.Printf("Intra-class sim:   %.4f\n", report.IntraClass)
	fmt.Printf("Inter-class sim:   %.4f\n", report.InterClass)
	fmt.Printf("Separation:        %.4f\n", report.Separation)
	fmt.Printf("Accuracy estimate: %.1f%%\n", report.Accuracy)
	fmt.Printf("Precision:         %.1f%%\n", report.Precision)
	fmt.Printf("Optimal threshold: %.3f\n", report.OptimalThreshold)

	if report.Identities >= 2 && report.Separation < 0.1 {
		fmt.Println("\nWarning: low class separation, expect frequent misidentification.")
	}
	return nil
}
