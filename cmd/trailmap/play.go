package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/trailmap/internal/config"
	"github.com/OCAP2/trailmap/internal/geo"
	"github.com/OCAP2/trailmap/internal/render/ndjson"
	"github.com/OCAP2/trailmap/pkg/trailmap"
)

func runPlay(args []string) error {
	fs := commonFlags("play")
	fs.Bool("replay", false, "play the data back bucket by bucket")
	fs.Float64("refresh", 0, "live polling interval in seconds")
	fs.String("trail", "", "draw trails (true/false)")
	fs.Int("trail-len", 0, "cap trail history per entity (enables trails)")
	fs.String("style", "", "map style")
	fs.String("icon", "", "default icon")
	fs.Bool("controls", false, "show navigation controls")
	fs.String("center", "", "initial center as lng,lat")
	fs.Float64("zoom", 0, "initial zoom")
	fs.Duration("replay-delay", 0, "pause between replay frames")
	fs.String("id", "map", "surface id")
	fs.Int("width", 0, "surface width in pixels")
	fs.Int("height", 0, "surface height in pixels")
	fs.Duration("duration", 0, "stop after this long (0 runs until interrupted)")

	err := loadConfig(fs, args, map[string]string{
		"replay":       "map.replay",
		"refresh":      "map.refresh",
		"trail":        "map.trail",
		"style":        "map.style",
		"icon":         "map.defaultIcon",
		"controls":     "map.controls",
		"zoom":         "map.zoom",
		"replay-delay": "map.replayDelay",
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("play needs exactly one source")
	}
	trailLen, _ := fs.GetInt("trail-len")
	center, _ := fs.GetString("center")
	if err := applyMapFlags(fs.Changed("trail-len"), trailLen, center); err != nil {
		return err
	}

	session, _ := fs.GetString("session")
	logs, err := setupLogging(session)
	if err != nil {
		return err
	}
	defer logs.Close()

	opts, err := config.MapOptions()
	if err != nil {
		return err
	}

	input, closeInput, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeInput()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d, _ := fs.GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out := ndjson.NewWriter(os.Stdout)
	deps := trailmap.Dependencies{
		NewRenderer: ndjson.Factory(out),
		Logger:      Logger,
	}
	if sink := openTelemetry(ctx); sink != nil {
		defer sink.Close()
		deps.Observer = sink
	}

	id, _ := fs.GetString("id")
	width, _ := fs.GetInt("width")
	height, _ := fs.GetInt("height")
	m, err := trailmap.New(ndjson.NewSurface(id, out, width, height), input, opts, deps)
	if err != nil {
		return err
	}
	Logger.Info("map started", "source", fs.Arg(0), "replay", opts.Replay, "refresh", opts.RefreshInterval())

	<-ctx.Done()
	m.Destroy()
	Logger.Info("map stopped", "frames", m.Frames())
	return nil
}

// applyMapFlags folds flags that do not map one to one onto config keys.
func applyMapFlags(trailLenSet bool, trailLen int, center string) error {
	if trailLenSet {
		viper.Set("map.trail", map[string]any{"len": trailLen})
	}
	if center != "" {
		c, err := geo.CoordinateFromString(center)
		if err != nil {
			return fmt.Errorf("center %q: %w", center, err)
		}
		viper.Set("map.center", []float64{c.Lng, c.Lat})
	}
	return nil
}

// waitFor blocks until ctx is done or d passes, whichever is first.
func waitFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
