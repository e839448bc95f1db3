package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/andresmejia3/facedetectd/internal/faces"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/vision/opencv"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// exitFailure is the status of the standalone commands on any error.
const exitFailure = -1

// DetectOptions configure the standalone detect command.
type DetectOptions struct {
	Cascade string
	Models  string
	Scale   string
	Infer   bool
	JSON    bool
}

var detectOpts DetectOptions

var detectCmd = &cobra.Command{
	Use:   "detect [flags] <image>",
	Short: "Detect faces in one image and print them",
	Long: `Detect prints one line per face on stdout:

  face;x=0.250000&y=0.125000&width=0.200000&height=0.300000

Coordinates are fractions of the image. Diagnostics go to stderr as
severity;message lines and any error ends the process with status -1.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var image string
		if len(args) == 1 {
			image = args[0]
		}
		os.Exit(runDetect(os.Stdout, image, detectOpts))
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.Cascade, "cascade", "c", "", "Frontal face cascade file")
	detectCmd.Flags().StringVarP(&detectOpts.Models, "models", "m", "", "Colon-separated model directories (default $FACEDETECT_MODELS)")
	detectCmd.Flags().StringVarP(&detectOpts.Scale, "scale", "s", "1", "Downscale factor for the classical detector (>= 1)")
	detectCmd.Flags().BoolVarP(&detectOpts.Infer, "infer", "i", false, "Compute a face vector for every face")
	detectCmd.Flags().BoolVar(&detectOpts.JSON, "json", false, "Print a JSON array instead of face; lines")
	detectCmd.MarkFlagsMutuallyExclusive("cascade", "models")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(out io.Writer, image string, opts DetectOptions) int {
	if image == "" {
		log.Error("You must specify the file to process.")
		return exitFailure
	}
	scale := parseScale(opts.Scale, log)

	svc := faces.NewService(opencv.New(), log)
	defer svc.Close()

	if code := loadDetectModels(svc, opts); code != 0 {
		return code
	}

	regions, err := svc.Detect(types.DetectRequest{ImagePath: image, Scale: scale, Infer: opts.Infer})
	if err != nil {
		var inputErr *faces.InputError
		if errors.As(err, &inputErr) {
			log.WithField("filename", image).Error("Could not load the file to process.")
		} else {
			log.WithFields(logrus.Fields{"filename": image, "error": err}).Error("Face detection failed")
		}
		return exitFailure
	}

	if err := writeFaces(out, regions, opts.JSON); err != nil {
		log.WithField("error", err).Error("Could not write results")
		return exitFailure
	}
	return 0
}

func loadDetectModels(svc *faces.Service, opts DetectOptions) int {
	if opts.Cascade != "" {
		if err := svc.LoadCascade(opts.Cascade); err != nil {
			log.WithFields(logrus.Fields{"cascade": opts.Cascade, "error": err}).Error("Could not load classifier cascade.")
			return exitFailure
		}
		return 0
	}

	models := opts.Models
	if models == "" {
		models = cfg.Models
	}
	if models == "" {
		log.Error("You must specify a cascade file or a model directory.")
		return exitFailure
	}
	if !svc.LoadNet(models) {
		return exitFailure
	}
	return 0
}

// parseScale accepts any number >= 1. Anything else falls back to 1 with a warning.
func parseScale(s string, log *logrus.Logger) float64 {
	scale, err := strconv.ParseFloat(s, 64)
	if err != nil || scale < 1 {
		log.WithField("scale", s).Warn("Invalid scale, using 1")
		return 1
	}
	return scale
}

// writeFaces prints regions as face; lines or, with asJSON, as a JSON array.
func writeFaces(w io.Writer, regions []types.FaceRegion, asJSON bool) error {
	if asJSON {
		if regions == nil {
			regions = []types.FaceRegion{}
		}
		return jsoniter.NewEncoder(w).Encode(regions)
	}
	for _, r := range regions {
		if _, err := fmt.Fprintf(w, "face;x=%f&y=%f&width=%f&height=%f\n", r.X, r.Y, r.Width, r.Height); err != nil {
			return err
		}
	}
	return nil
}
