package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facedetectd/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all indexed photos",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	photos, err := DB.ListPhotos(ctx)
	if err != nil {
		utils.Die("Failed to list photos", err, nil)
	}

	if len(photos) == 0 {
		fmt.Println("No photos found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tFACES\tINDEXED")
	fmt.Fprintln(w, "--\t----\t-----\t-------")

	for _, p := range photos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID[:12], p.Path, p.FaceCount, p.IndexedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
