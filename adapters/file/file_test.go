package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

func writeTestFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.raw")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestStraightCopy_ByteIdentical(t *testing.T) {
	const frameSize = 16
	const frames = 5
	data := make([]byte, frameSize*frames)
	for i := range data {
		data[i] = byte(i)
	}
	inPath := writeTestFile(t, data)
	outPath := filepath.Join(t.TempDir(), "out.raw")

	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	in, err := NewIn(ctx, DefaultInParams("source", inPath, frameSize))
	require.NoError(t, err)
	out, err := NewOut(ctx, OutParams{Name: "sink", Path: outPath})
	require.NoError(t, err)

	inID, err := ctx.RegisterChannel(in.Descriptor())
	require.NoError(t, err)
	in.Bind(inID)

	outID, err := ctx.RegisterChannel(out.Descriptor())
	require.NoError(t, err)
	out.Bind(outID)

	require.NoError(t, ctx.Connect(inID, outID))
	require.NoError(t, ctx.Run(nil))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, data, got)

	ctx.UnregisterChannel(outID)
	ctx.UnregisterChannel(inID)
	require.Equal(t, int64(0), ctx.MemCounter())
}

func TestLoop_ThreePassesOverTenFrames(t *testing.T) {
	const frameSize = 8
	const frames = 10
	data := make([]byte, frameSize*frames)
	for i := range data {
		data[i] = byte(i)
	}
	inPath := writeTestFile(t, data)
	outPath := filepath.Join(t.TempDir(), "out.raw")

	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	params := DefaultInParams("source", inPath, frameSize)
	params.FrameNum = frames
	params.Loop = 3
	in, err := NewIn(ctx, params)
	require.NoError(t, err)
	out, err := NewOut(ctx, OutParams{Name: "sink", Path: outPath})
	require.NoError(t, err)

	inID, err := ctx.RegisterChannel(in.Descriptor())
	require.NoError(t, err)
	in.Bind(inID)
	outID, err := ctx.RegisterChannel(out.Descriptor())
	require.NoError(t, err)
	out.Bind(outID)

	require.NoError(t, ctx.Connect(inID, outID))
	require.NoError(t, ctx.Run(nil))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, got, frameSize*frames*3)
}

// TestSkip_ThirtyToTenFrameSkip wires a 30-frame source through an Out
// configured with a 30fps->10fps Skip ratio (scenario 3), end-to-end
// exercising ApplySkip/OutParams.Skip rather than just the underlying
// token-bucket algorithm internal/graph/graph_test.go already covers in
// isolation. SetSkip(20, 30) delivers 10 of every 30 attempts, landing on
// attempts 3, 6, 9, ... (0-indexed frames 2, 5, 8, ...), per the token
// bucket's deterministic schedule.
func TestSkip_ThirtyToTenFrameSkip(t *testing.T) {
	const frameSize = 4
	const frames = 30
	data := make([]byte, frameSize*frames)
	for f := 0; f < frames; f++ {
		for b := 0; b < frameSize; b++ {
			data[f*frameSize+b] = byte(f)
		}
	}
	inPath := writeTestFile(t, data)
	outPath := filepath.Join(t.TempDir(), "out.raw")

	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	in, err := NewIn(ctx, DefaultInParams("source", inPath, frameSize))
	require.NoError(t, err)
	out, err := NewOut(ctx, OutParams{Name: "sink", Path: outPath, Skip: &SkipRatio{Num: 20, Den: 30}})
	require.NoError(t, err)

	inID, err := ctx.RegisterChannel(in.Descriptor())
	require.NoError(t, err)
	in.Bind(inID)

	outID, err := ctx.RegisterChannel(out.Descriptor())
	require.NoError(t, err)
	out.Bind(outID)

	require.NoError(t, ctx.Connect(inID, outID))
	require.NoError(t, ctx.Run(nil))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, got, frameSize*10, "exactly 10 of 30 frames should survive the skip ratio")

	for i := 0; i < 10; i++ {
		wantFrame := byte(3*i + 2) // frames 2, 5, 8, ...
		for b := 0; b < frameSize; b++ {
			require.Equal(t, wantFrame, got[i*frameSize+b], "delivered frame %d", i)
		}
	}

	ctx.UnregisterChannel(outID)
	ctx.UnregisterChannel(inID)
	require.Equal(t, int64(0), ctx.MemCounter(), "skipped buffers must be recycled, not leaked")
}

func TestIn_InitFailsOnMissingFile(t *testing.T) {
	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	in, err := NewIn(ctx, DefaultInParams("source", "/nonexistent/path", 16))
	require.NoError(t, err)
	_, err = ctx.RegisterChannel(in.Descriptor())
	require.Error(t, err)
}

func TestOut_NotReadyWithoutInput(t *testing.T) {
	out, err := NewOut(nil, OutParams{Name: "sink", Path: filepath.Join(t.TempDir(), "out.raw")})
	require.NoError(t, err)
	desc := out.Descriptor()
	require.Equal(t, interfaces.ErrNotReady, desc.Run(nil, nil))
}
