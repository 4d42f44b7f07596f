// Command preview plays a video with the live tray tracks drawn over it.
// No alarms are sent.
package main

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/config"
	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/detector"
	"github.com/nvr-ai/traywatch/logging"
	"github.com/nvr-ai/traywatch/snapshot"
	"github.com/nvr-ai/traywatch/video"
)

func main() {
	app := &cli.App{
		Name:  "preview",
		Usage: "show tray tracks over a video",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Load configuration from `FILE`"},
			&cli.StringFlag{Name: "video", Required: true, Usage: "video file, frame directory or stream URL"},
			&cli.IntFlag{Name: "delay", Value: 1, Usage: "milliseconds to wait for a key between frames"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "preview:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	src, err := video.Open(c.String("video"))
	if err != nil {
		return err
	}
	defer src.Close()

	det, model, err := detector.Open(cfg.Detector.Inference(), cfg.Detector.Detection(), cfg.Video.Preprocessor(), logger)
	if err != nil {
		return err
	}
	defer model.Close()

	session := controller.NewSession(cfg.Tracking.Controller(), controller.Meta{VideoID: src.Name()}, nil, nil, logger)
	defer session.Close()

	window := gocv.NewWindow("Tray Preview")
	defer window.Close()

	img := gocv.NewMat()
	defer img.Close()

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	for ordinal := 0; ; ordinal++ {
		if ok := src.Read(&img); !ok {
			logger.Info("end of video", zap.String("video", src.Name()), zap.Int("frames", ordinal))
			return nil
		}
		if img.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}

		frame, err := det.Detect(c.Context, img)
		if err != nil {
			return err
		}
		frame.Ordinal = ordinal
		res, err := session.Process(c.Context, frame)
		if err != nil {
			return err
		}
		for _, id := range res.Alarmed {
			logger.Info("tray lost", zap.Int("track", id), zap.Int("frame", ordinal))
		}

		var overlays []snapshot.Overlay
		for _, t := range session.Tracks() {
			if t.MissedFrames > 0 {
				continue
			}
			overlays = append(overlays, snapshot.Overlay{Box: t.Box, Label: controller.Label(t.ID, t.LastObservedCount)})
		}
		snapshot.DrawTracks(&img, overlays, frame.Items)
		gocv.PutText(&img, fmt.Sprintf("FPS: %.1f | Frame %d", fps, ordinal), image.Pt(10, 30),
			gocv.FontHersheyPlain, 1.2, snapshot.TextColor, 2)

		window.IMShow(img)
		if window.WaitKey(c.Int("delay")) == 27 {
			return nil
		}
	}
}
