// Command h264dec drives the stateless H.264 V4L2 M2M decoder core
// (internal/decoder) against a byte stream read from a local file, a
// local MPEG-TS file, or a remote SRT sender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/h264dec/internal/decoder"
	"github.com/zsiec/h264dec/internal/srtsource"
	"github.com/zsiec/h264dec/internal/tsvideo"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	devicePath := flag.String("device", envOr("H264DEC_DEVICE", "/dev/video0"), "V4L2 stateless decoder device node")
	input := flag.String("input", envOr("H264DEC_INPUT", ""), "path to an Annex-B .264 file or an MPEG-TS file (a .ts/.m2ts/.mpegts extension implies -ts)")
	ts := flag.Bool("ts", false, "treat -input (or -srt) as MPEG-TS, extracting the H.264 elementary stream")
	srtAddr := flag.String("srt", envOr("H264DEC_SRT", ""), "host:port of a remote SRT sender to pull from, instead of -input")
	srtStreamID := flag.String("srt-streamid", envOr("H264DEC_SRT_STREAMID", ""), "SRT stream ID to present when dialing -srt")
	width := flag.Uint("width", 1920, "initial coded width")
	height := flag.Uint("height", 1080, "initial coded height")
	flag.Parse()

	if *input == "" && *srtAddr == "" {
		slog.Error("one of -input or -srt is required")
		os.Exit(1)
	}
	if *input != "" && *srtAddr != "" {
		slog.Error("-input and -srt are mutually exclusive")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	cfg := decoder.DefaultConfig()
	cfg.InitialWidth = uint32(*width)
	cfg.InitialHeight = uint32(*height)

	var frameCount uint64
	dec, err := decoder.Open(*devicePath, cfg, slog.Default(), func(planes [][]byte, sequence uint32) {
		frameCount++
		slog.Debug("frame delivered", "sequence", sequence, "planes", len(planes))
	})
	if err != nil {
		slog.Error("failed to open decoder device", "device", *devicePath, "error", err)
		os.Exit(1)
	}

	slog.Info("h264dec starting",
		"version", version,
		"device", *devicePath,
		"width", *width,
		"height", *height,
	)

	g, ctx := errgroup.WithContext(ctx)
	src, err := buildSource(ctx, g, *input, *srtAddr, *srtStreamID, *ts)
	if err != nil {
		slog.Error("failed to set up input source", "error", err)
		os.Exit(1)
	}

	g.Go(func() error {
		return dec.Run(ctx, src)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("decode error", "error", err)
		os.Exit(1)
	}

	stats := dec.Stats()
	slog.Info("decode finished", "frames", stats.FramesDelivered, "warnings", stats.Warnings)
}

// buildSource wires the -input/-srt/-ts flags into an io.Reader of bare
// Annex-B bytes, starting whatever background goroutines (SRT dial/run,
// TS extraction) the chosen path needs under g.
func buildSource(ctx context.Context, g *errgroup.Group, input, srtAddr, srtStreamID string, wantsTS bool) (io.Reader, error) {
	if srtAddr != "" {
		src := srtsource.NewSource(srtAddr, srtStreamID, slog.Default())
		if err := src.Dial(ctx); err != nil {
			return nil, err
		}
		g.Go(func() error {
			return src.Run(ctx)
		})

		if !wantsTS {
			return src.Reader(), nil
		}
		ext := tsvideo.NewExtractor(src.Reader(), slog.Default())
		g.Go(func() error {
			return ext.Run(ctx)
		})
		return ext.Reader(), nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		f.Close()
		return nil
	})

	if !wantsTS && !looksLikeTS(input) {
		return f, nil
	}
	ext := tsvideo.NewExtractor(f, slog.Default())
	g.Go(func() error {
		return ext.Run(ctx)
	})
	return ext.Reader(), nil
}

// looksLikeTS applies the teacher's convention of inferring container
// format from the file extension when -ts isn't given explicitly.
func looksLikeTS(path string) bool {
	for _, ext := range []string{".ts", ".m2ts", ".mpegts"} {
		if len(path) >= len(ext) && path[len(path)-len(ext):] == ext {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
