package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/facedetectd/internal/faces"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/andresmejia3/facedetectd/internal/utils"
	"github.com/andresmejia3/facedetectd/internal/vision/opencv"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	vecModels  string
	vecCompare string
	vecJSON    bool
)

var vecCmd = &cobra.Command{
	Use:   "vec [flags] <face_image>",
	Short: "Print the face vector of a cropped face image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runVec(os.Stdout, args[0]))
	},
}

func init() {
	vecCmd.Flags().StringVarP(&vecModels, "models", "m", "", "Colon-separated model directories (default $FACEDETECT_MODELS)")
	vecCmd.Flags().StringVar(&vecCompare, "compare", "", "Second face image; print the cosine distance between both")
	vecCmd.Flags().BoolVar(&vecJSON, "json", false, "Print the vector as a JSON array")
	rootCmd.AddCommand(vecCmd)
}

func runVec(out io.Writer, image string) int {
	models := vecModels
	if models == "" {
		models = cfg.Models
	}
	if models == "" {
		log.Error("You must specify a model directory.")
		return exitFailure
	}

	svc := faces.NewService(opencv.New(), log)
	defer svc.Close()

	// A directory with only the embedding model is enough here.
	svc.LoadNet(models)
	if _, ok := svc.Resources()[types.EmbeddingNet]; !ok {
		log.WithField("search_path", models).Error("Embedding model not found.")
		return exitFailure
	}

	vec, err := svc.Embed(image)
	if err != nil {
		log.WithFields(logrus.Fields{"filename": image, "error": err}).Error("Could not compute the face vector.")
		return exitFailure
	}

	if vecCompare != "" {
		other, err := svc.Embed(vecCompare)
		if err != nil {
			log.WithFields(logrus.Fields{"filename": vecCompare, "error": err}).Error("Could not compute the face vector.")
			return exitFailure
		}
		fmt.Fprintf(out, "distance=%f\n", utils.CosineDist(vec, other))
		return 0
	}

	if err := writeVec(out, vec, vecJSON); err != nil {
		log.WithField("error", err).Error("Could not write results")
		return exitFailure
	}
	return 0
}

func writeVec(w io.Writer, vec []float64, asJSON bool) error {
	if asJSON {
		return jsoniter.NewEncoder(w).Encode(vec)
	}
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, " "))
	return err
}
