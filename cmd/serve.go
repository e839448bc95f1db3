package cmd

import (
	"context"
	"io"

	"github.com/andresmejia3/facedetectd/internal/faces"
	"github.com/andresmejia3/facedetectd/internal/rpc"
	"github.com/andresmejia3/facedetectd/internal/status"
	"github.com/andresmejia3/facedetectd/internal/utils"
	"github.com/andresmejia3/facedetectd/internal/vision/opencv"
	"github.com/spf13/cobra"
)

// ServeOptions configure the serve command.
type ServeOptions struct {
	Models     string
	Listen     string
	Address    string
	StatusAddr string
}

var serveOpts ServeOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the face detection service for one controlling client",
	Long: `Serve answers loadNet, detectFaces, faceToVec and terminate calls.

By default requests are read from stdin and responses written to stdout.
With --listen the service accepts one client on a unix socket; with --address
it connects to the controlling application's socket instead. Both socket modes
only talk to processes of the same user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Models, "models", "m", "", "Colon-separated model directories to load at startup (default $FACEDETECT_MODELS)")
	serveCmd.Flags().StringVar(&serveOpts.Listen, "listen", "", "Listen on this unix socket path")
	serveCmd.Flags().StringVar(&serveOpts.Address, "address", "", "Connect to the controlling application's unix socket")
	serveCmd.Flags().StringVar(&serveOpts.StatusAddr, "status-addr", "", "Serve /healthz and /status on this HTTP address")
	serveCmd.MarkFlagsMutuallyExclusive("listen", "address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc := faces.NewService(opencv.New(), log)
	defer svc.Close()

	if opts.Models == "" {
		opts.Models = cfg.Models
	}
	if opts.Models != "" {
		svc.LoadNet(opts.Models)
	}

	var stream io.ReadWriteCloser
	switch {
	case opts.Listen != "":
		log.WithField("socket", opts.Listen).Info("Waiting for client")
		conn, err := rpc.Listen(ctx, opts.Listen)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			utils.Die("Could not accept the controlling client", err, nil)
		}
		stream = conn
	case opts.Address != "":
		conn, err := rpc.Dial(ctx, opts.Address)
		if err != nil {
			utils.Die("Could not connect to the controlling application", err, nil)
		}
		stream = conn
	default:
		stream = rpc.Stdio()
	}

	srv := rpc.NewServer(svc, log)
	if opts.StatusAddr != "" {
		go status.Run(ctx, status.NewApp(svc, srv.Session), opts.StatusAddr, log)
	}
	return srv.Serve(ctx, stream)
}
