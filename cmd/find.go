package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/facedetectd/internal/config"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/worker"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

// FindOptions configure the find command.
type FindOptions struct {
	Models         string  `validate:"required"`
	MatchThreshold float64 `validate:"gt=0,lte=2"`
	Limit          int     `validate:"min=1"`
	JSON           bool
}

var findOpts FindOptions

var findCmd = &cobra.Command{
	Use:         "find <image_path>",
	Short:       "Search the photo index for the face in an image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	findCmd.Flags().StringVarP(&findOpts.Models, "models", "m", "", "Colon-separated model directories (default $FACEDETECT_MODELS)")
	findCmd.Flags().Float64VarP(&findOpts.MatchThreshold, "threshold", "t", 0.4, "Maximum cosine distance of a match")
	findCmd.Flags().IntVarP(&findOpts.Limit, "limit", "l", 20, "Maximum number of matches")
	findCmd.Flags().BoolVar(&findOpts.JSON, "json", false, "Print matches as JSON")
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts FindOptions) error {
	if opts.Models == "" {
		opts.Models = cfg.Models
	}
	if err := config.Validate(opts); err != nil {
		return err
	}
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting detection worker...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewDetectWorker(0, "--log-level", cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer w.Close()

	if ok, err := w.LoadNet(opts.Models); err != nil || !ok {
		return errors.Join(errors.New("no usable detection model"), err)
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.DetectFaces(types.DetectRequest{ImagePath: imagePath, Scale: 1, Infer: true})
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	query, ok := largestFace(faces)
	if !ok {
		fmt.Println("❌ No faces with a vector detected in the provided image.")
		return nil
	}
	if len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	matches, err := DB.FindSimilarFaces(ctx, query.Vec, opts.MatchThreshold, opts.Limit)
	if err != nil {
		return fmt.Errorf("database search failed: %w", err)
	}

	if opts.JSON {
		return jsoniter.NewEncoder(os.Stdout).Encode(matches)
	}
	if len(matches) == 0 {
		fmt.Println("❌ No match found in database.")
		return nil
	}

	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "FACE\tPHOTO\tLABEL\tBOX\tDISTANCE")
	fmt.Fprintln(wOut, "----\t-----\t-----\t---\t--------")
	for _, m := range matches {
		label := m.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(wOut, "%d\t%s\t%s\t%.2f,%.2f %.2fx%.2f\t%.3f\n",
			m.FaceID, filepath.Base(m.Path), label,
			m.Rect.X, m.Rect.Y, m.Rect.Width, m.Rect.Height, m.Distance)
	}
	wOut.Flush()
	return nil
}

// largestFace picks the biggest face that carries a full vector.
func largestFace(faces []types.FaceRegion) (types.FaceRegion, bool) {
	var best types.FaceRegion
	found := false
	for _, f := range faces {
		if len(f.Vec) != types.EmbeddingDim {
			continue
		}
		if !found || f.Width*f.Height > best.Width*best.Height {
			best, found = f, true
		}
	}
	return best, found
}
