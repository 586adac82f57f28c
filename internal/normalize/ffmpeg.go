package normalize

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// decodeFFmpeg decodes data with FFmpeg via files in the scratch directory.
func (n *Normalizer) decodeFFmpeg(ctx context.Context, data []byte, label format.Label) (AudioBuffer, error) {
	if _, err := exec.LookPath(ffmpeg.Binary); err != nil {
		return AudioBuffer{}, util.WrapError("locate ffmpeg", err)
	}
	dir, err := n.scratchDir()
	if err != nil {
		return AudioBuffer{}, err
	}

	base := filepath.Join(dir, uuid.NewString())
	input := base + "." + label.Extension()
	output := base + ".wav"
	defer removeQuietly(input)
	defer removeQuietly(output)

	if err := os.WriteFile(input, data, 0o600); err != nil {
		return AudioBuffer{}, util.WrapError("write decode input", err)
	}

	stderr := util.NewStderrBuffer()
	cmd := exec.CommandContext(ctx, ffmpeg.Binary, ffmpeg.BuildDecodeArgs(input, output)...)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return AudioBuffer{}, fmt.Errorf("ffmpeg decode: %s", stderr.LastError(err.Error()))
	}

	decoded, err := os.ReadFile(output)
	if err != nil {
		return AudioBuffer{}, util.WrapError("read decoded audio", err)
	}
	buf, err := parseFloatWAV(decoded)
	if err != nil {
		return AudioBuffer{}, util.WrapError("parse decoded audio", err)
	}
	return buf, nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
