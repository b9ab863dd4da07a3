// Command pitcher-encode drives a V4L2 M2M hardware encoder over a raw
// input file, optionally converting I420 to NV12 first, and writes the
// resulting elementary stream to an output file. It wires ifile ->
// [convert] -> v4l2 OUTPUT/CAPTURE -> ofile through the pitcher graph and
// runs it to completion, following cmd/ublk-mem/main.go's flag-parsing,
// logging, and signal-driven shutdown shape.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/adapters/control"
	"github.com/qiaoweibiao/pitcher/adapters/convert"
	"github.com/qiaoweibiao/pitcher/adapters/file"
	"github.com/qiaoweibiao/pitcher/adapters/v4l2"
	"github.com/qiaoweibiao/pitcher/internal/logging"
)

func main() {
	var (
		inPath   = flag.String("i", "", "input raw video file (required)")
		outPath  = flag.String("o", "", "output encoded bitstream file (required)")
		device   = flag.String("device", "/dev/video0", "V4L2 M2M encoder device node")
		width    = flag.Int("width", 1280, "frame width")
		height   = flag.Int("height", 720, "frame height")
		fps      = flag.Uint("fps", 30, "frame rate hint sent via VIDIOC_S_PARM (0 skips it)")
		inputI420 = flag.Bool("i420", false, "input is I420; convert to NV12 before encoding")
		verbose  = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: pitcher-encode -i <input> -o <output> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if err := run(logger, *inPath, *outPath, *device, *width, *height, uint32(*fps), *inputI420); err != nil {
		logger.Error("pitcher-encode failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger, inPath, outPath, devicePath string, width, height int, fps uint32, inputI420 bool) error {
	frameSize := uint64(width * height * 3 / 2) // I420/NV12 4:2:0

	ctx, err := pitcher.New(&pitcher.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer ctx.Close()

	logger.Info("opening encoder device", "path", devicePath, "width", width, "height", height)

	in, err := file.NewIn(ctx, file.DefaultInParams("source", inPath, frameSize))
	if err != nil {
		return err
	}
	inID, err := ctx.RegisterChannel(in.Descriptor())
	if err != nil {
		return err
	}
	in.Bind(inID)

	lastID := inID

	var conv *convert.I420ToNV12
	if inputI420 {
		conv, err = convert.NewI420ToNV12(ctx, convert.DefaultParams("i420-to-nv12", width, height))
		if err != nil {
			return err
		}
		convID, err := ctx.RegisterChannel(conv.Descriptor())
		if err != nil {
			return err
		}
		conv.Bind(convID)
		if err := ctx.Connect(lastID, convID); err != nil {
			return err
		}
		lastID = convID
	}

	dev := v4l2.NewDevice(v4l2.NewRealBackend(), devicePath)

	outParams := v4l2.DefaultDeviceParams("encoder-out", width, height, v4l2.PixFmtNV12)
	outParams.FrameRate = fps
	v4lOut, err := v4l2.NewOutput(ctx, dev, outParams)
	if err != nil {
		return err
	}
	outID, err := ctx.RegisterChannel(v4lOut.Descriptor())
	if err != nil {
		return err
	}
	v4lOut.Bind(outID)
	if err := ctx.Connect(lastID, outID); err != nil {
		return err
	}

	capParams := v4l2.DefaultDeviceParams("encoder-cap", width, height, v4l2.PixFmtH264)
	v4lCap, err := v4l2.NewCapture(ctx, dev, capParams)
	if err != nil {
		return err
	}
	capID, err := ctx.RegisterChannel(v4lCap.Descriptor())
	if err != nil {
		return err
	}
	v4lCap.Bind(capID)

	sink, err := file.NewOut(ctx, file.OutParams{Name: "sink", Path: outPath})
	if err != nil {
		return err
	}
	sinkID, err := ctx.RegisterChannel(sink.Descriptor())
	if err != nil {
		return err
	}
	sink.Bind(sinkID)
	if err := ctx.Connect(capID, sinkID); err != nil {
		return err
	}

	ctl := control.New(ctx, control.DefaultParams("shutdown"))
	ctlID, err := ctx.RegisterChannel(ctl.Descriptor())
	if err != nil {
		return err
	}
	ctl.Bind(ctlID)
	if err := ctx.StartChannel(ctlID); err != nil {
		return err
	}

	logger.Info("running pipeline", "input", inPath, "output", outPath)
	if err := ctx.Run(nil); err != nil {
		return err
	}

	snap := ctx.MetricsSnapshot()
	logger.Info("pipeline finished", "frames", snap.TotalFrames)
	return nil
}
