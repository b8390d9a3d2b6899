package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

func main() {
	// .env is optional; flags and real environment still apply without it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:   "rover-vision",
		Usage:  "YOLO object detection service for the rover",
		Flags:  configFlags(),
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP detection server",
				Action: serveAction,
			},
			{
				Name:      "detect",
				Usage:     "run one detection on an image file and print the report",
				ArgsUsage: "<image>",
				Action:    detectAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup builds the configured detector; the caller owns closing it and
// syncing the logger.
func setup(c *cli.Context) (*AppState, error) {
	cfg, err := configFromContext(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	backend := newLazyBackend(onnxLoader(cfg, logger))
	return &AppState{
		Config:   cfg,
		Detector: NewRoverDetector(backend, cfg, nil),
		Logger:   logger,
	}, nil
}

func serveAction(c *cli.Context) error {
	state, err := setup(c)
	if err != nil {
		return err
	}
	defer state.Logger.Sync()
	defer func() {
		if err := state.Detector.Close(); err != nil {
			state.Logger.Errorw("failed to release model", "error", err)
		}
	}()

	if state.Config.LazyLoad {
		state.Logger.Info("model will load on first detection")
	} else if err := state.Detector.backend.Load(); err != nil {
		return err
	}

	return runServer(c.Context, state)
}

func detectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: detect <image>", 2)
	}
	state, err := setup(c)
	if err != nil {
		return err
	}
	defer state.Logger.Sync()
	defer state.Detector.Close()

	start := time.Now()
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "read image")
	}
	timings := &models.ProcessingTimings{RequestID: c.Args().First()}
	img, err := decodeImage(data)
	if err != nil {
		return err
	}
	timings.ImageDecode = time.Since(start)

	report, err := state.Detector.Detect(c.Context, img, timings)
	if err != nil {
		return err
	}
	timings.Total = time.Since(start)
	logTimings(state.Logger, timings)

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(detectResponse{
		DetectionReport: report,
		Navigation:      state.Detector.Navigate(report.Objects, report.ImageSize[0]),
		Status:          StatusSuccess,
		RequestID:       timings.RequestID,
	})
}
