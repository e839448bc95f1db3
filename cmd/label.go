package cmd

import (
	"fmt"
	"strconv"

	"github.com/andresmejia3/facedetectd/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <face_id> <name>",
	Short:       "Assign a name to an indexed face (see find)",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid face ID", err, nil)
		}
		if err := DB.LabelFace(cmd.Context(), id, args[1]); err != nil {
			utils.Die("Failed to label face", err, nil)
		}
		fmt.Printf("✅ Face %d labeled as '%s'\n", id, args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
