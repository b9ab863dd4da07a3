package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/adapters/file"
)

// buildI420Frame fills one I420 frame (Y then U then V) with predictable,
// distinct byte ranges per plane so a mis-wired copy is easy to spot.
func buildI420Frame(width, height int, yBase, uBase, vBase byte) []byte {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	frame := make([]byte, ySize+2*cSize)
	for i := 0; i < ySize; i++ {
		frame[i] = yBase + byte(i)
	}
	for i := 0; i < cSize; i++ {
		frame[ySize+i] = uBase + byte(i)
	}
	for i := 0; i < cSize; i++ {
		frame[ySize+cSize+i] = vBase + byte(i)
	}
	return frame
}

func TestI420ToNV12_TwoFrames(t *testing.T) {
	const width, height = 256, 256
	const frames = 2
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	frameSz := ySize + 2*cSize

	data := make([]byte, 0, frameSz*frames)
	data = append(data, buildI420Frame(width, height, 0, 1, 2)...)
	data = append(data, buildI420Frame(width, height, 3, 4, 5)...)

	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.i420")
	require.NoError(t, os.WriteFile(inPath, data, 0o644))
	outPath := filepath.Join(dir, "out.nv12")

	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	in, err := file.NewIn(ctx, file.DefaultInParams("source", inPath, uint64(frameSz)))
	require.NoError(t, err)
	conv, err := NewI420ToNV12(ctx, DefaultParams("conv", width, height))
	require.NoError(t, err)
	out, err := file.NewOut(ctx, file.OutParams{Name: "sink", Path: outPath})
	require.NoError(t, err)

	inID, err := ctx.RegisterChannel(in.Descriptor())
	require.NoError(t, err)
	in.Bind(inID)

	convID, err := ctx.RegisterChannel(conv.Descriptor())
	require.NoError(t, err)
	conv.Bind(convID)

	outID, err := ctx.RegisterChannel(out.Descriptor())
	require.NoError(t, err)
	out.Bind(outID)

	require.NoError(t, ctx.Connect(inID, convID))
	require.NoError(t, ctx.Connect(convID, outID))
	require.NoError(t, ctx.Run(nil))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Len(t, got, frameSz*frames)

	for f := 0; f < frames; f++ {
		srcFrame := data[f*frameSz : (f+1)*frameSz]
		gotFrame := got[f*frameSz : (f+1)*frameSz]

		wantY := srcFrame[:ySize]
		gotY := gotFrame[:ySize]
		require.Equal(t, wantY, gotY, "frame %d: plane 0 must equal input Y bytewise", f)

		u := srcFrame[ySize : ySize+cSize]
		v := srcFrame[ySize+cSize : ySize+2*cSize]
		gotUV := gotFrame[ySize:]
		for i := 0; i < cSize; i++ {
			require.Equal(t, u[i], gotUV[2*i], "frame %d: uv[%d*2] must equal U[%d]", f, i, i)
			require.Equal(t, v[i], gotUV[2*i+1], "frame %d: uv[%d*2+1] must equal V[%d]", f, i, i)
		}
	}

	ctx.UnregisterChannel(outID)
	ctx.UnregisterChannel(convID)
	ctx.UnregisterChannel(inID)
	require.Equal(t, int64(0), ctx.MemCounter())
}

func TestI420ToNV12_RejectsNonPositiveDimensions(t *testing.T) {
	ctx, err := pitcher.New(nil)
	require.NoError(t, err)
	defer ctx.Close()

	_, err = NewI420ToNV12(ctx, Params{Name: "conv", Width: 0, Height: 16})
	require.Error(t, err)
}
