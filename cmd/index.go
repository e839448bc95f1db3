package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/facedetectd/internal/config"
	"github.com/andresmejia3/facedetectd/internal/store"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/utils"
	"github.com/andresmejia3/facedetectd/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// IndexOptions configure the index command.
type IndexOptions struct {
	InputDir   string  `validate:"required"`
	Models     string  `validate:"required"`
	NumEngines int     `validate:"min=1,max=64"`
	Scale      float64 `validate:"gte=1"`
	NoVectors  bool
}

var indexOpts IndexOptions

var indexCmd = &cobra.Command{
	Use:         "index",
	Short:       "Detect and embed every face in a photo directory and store them",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runIndex(cmd.Context(), indexOpts)
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexOpts.InputDir, "input", "i", "", "Directory of photos (jpg, jpeg, png)")
	indexCmd.Flags().StringVarP(&indexOpts.Models, "models", "m", "", "Colon-separated model directories (default $FACEDETECT_MODELS)")
	indexCmd.Flags().IntVarP(&indexOpts.NumEngines, "engines", "e", 1, "Number of parallel detection workers")
	indexCmd.Flags().Float64VarP(&indexOpts.Scale, "scale", "s", 1, "Downscale factor for the classical detector")
	indexCmd.Flags().BoolVar(&indexOpts.NoVectors, "no-vectors", false, "Store face boxes only")

	indexCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(indexCmd)
}

// indexResult is one processed photo on its way to the aggregator.
type indexResult struct {
	Path  string
	Faces []types.FaceRegion
	Err   error
}

// runIndex orchestrates indexing: photo discovery, the worker pool, DB writes and progress.
func runIndex(ctx context.Context, opts IndexOptions) {
	if opts.Models == "" {
		opts.Models = cfg.Models
	}
	if err := config.Validate(opts); err != nil {
		utils.Die("Invalid index options", err, nil)
	}

	photos, err := utils.FindImages(opts.InputDir)
	if err != nil {
		utils.Die("Failed to read input directory", err, nil)
	}
	if len(photos) == 0 {
		fmt.Fprintf(os.Stderr, "📭 No photos found in %s\n", opts.InputDir)
		return
	}
	fmt.Fprintf(os.Stderr, "🖼️  Found %d photos\n", len(photos))
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("🔍 Indexing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	tasks := make(chan string, opts.NumEngines)
	results := make(chan indexResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// Single consumer: the DB connection is not safe for concurrent use
	aggDone := make(chan struct{})
	var stored, failed, totalFaces int
	go func() {
		defer close(aggDone)
		for res := range results {
			bar.Add(1)
			if res.Err != nil {
				failed++
				log.WithFields(logrus.Fields{"filename": res.Path, "error": res.Err}).Warn("Photo skipped")
				continue
			}
			if err := storePhoto(ctx, DB, res); err != nil {
				if ctx.Err() != nil {
					failed++
					continue
				}
				utils.Die("Failed to store faces", err, nil)
			}
			stored++
			totalFaces += len(res.Faces)
		}
	}()

	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			startIndexWorker(ctx, workerID, opts, tasks, results)
		}(i)
	}

	for _, p := range photos {
		select {
		case tasks <- p:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(tasks)
	wg.Wait()
	close(results)
	<-aggDone

	bar.Finish()
	if ctx.Err() != nil {
		fmt.Fprintf(os.Stderr, "\n🛑 Indexing interrupted.\n")
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Indexed %d photos (%d faces), %d skipped.\n", stored, totalFaces, failed)
}

// startIndexWorker owns one `serve` child process for its whole life.
func startIndexWorker(ctx context.Context, id int, opts IndexOptions, tasks <-chan string, results chan<- indexResult) {
	w, err := worker.NewDetectWorker(id, "--log-level", cfg.LogLevel)
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	defer w.Close()

	ok, err := w.LoadNet(opts.Models)
	if err != nil {
		if ctx.Err() != nil {
			drain(tasks)
			return
		}
		utils.Die("Worker crashed while loading models", err, w.Cmd)
	}
	if !ok {
		utils.Die("No usable detection model", fmt.Errorf("search path %q", opts.Models), w.Cmd)
	}

	if err := indexPhotos(ctx, w, opts, tasks, results); err != nil {
		// DRAIN: Wait for process to exit and capture final stderr logs
		w.Close()
		utils.Die("Worker crashed", err, w.Cmd)
	}
}

// indexPhotos feeds tasks to w until the channel closes. A worker failure
// after ctx is cancelled is an interrupted run, not a crash: the signal
// reaches the child process as well.
func indexPhotos(ctx context.Context, w *worker.Worker, opts IndexOptions, tasks <-chan string, results chan<- indexResult) error {
	for path := range tasks {
		if ctx.Err() != nil {
			continue // drain
		}
		if _, err := os.Stat(path); err != nil {
			results <- indexResult{Path: path, Err: err}
			continue
		}
		regions, err := w.DetectFaces(types.DetectRequest{ImagePath: path, Scale: opts.Scale, Infer: !opts.NoVectors})
		if err != nil {
			if ctx.Err() != nil {
				drain(tasks)
				return nil
			}
			return err
		}
		results <- indexResult{Path: path, Faces: regions}
	}
	return nil
}

func drain(tasks <-chan string) {
	for range tasks {
	}
}

func storePhoto(ctx context.Context, db *store.Store, res indexResult) error {
	id, err := utils.GeneratePhotoID(res.Path)
	if err != nil {
		return err
	}
	if err := db.SavePhoto(ctx, id, res.Path, res.Faces); err != nil {
		return fmt.Errorf("store %s: %w", res.Path, err)
	}
	return nil
}
