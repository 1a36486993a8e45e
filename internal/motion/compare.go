// Package motion implements the cheap perceptual frame comparator that gates
// the rest of the pipeline. It is deliberately stateless: the per-camera
// threshold decision lives in the monitor.
package motion

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// compareSize is the square both frames are reduced to before diffing.
// Small enough that the comparison costs microseconds, large enough that a
// person crossing the frame moves the average.
const compareSize = 64

// CompareFrames returns the mean absolute grayscale difference between two
// encoded frames, normalized to 0-100. Identical frames return 0. The
// function is symmetric and tolerates frames of differing resolution; both
// are unconditionally resized to compareSize x compareSize.
func CompareFrames(prev, curr []byte) (float64, error) {
	a, err := decodeGray(prev)
	if err != nil {
		return 0, fmt.Errorf("decode previous frame: %w", err)
	}
	b, err := decodeGray(curr)
	if err != nil {
		return 0, fmt.Errorf("decode current frame: %w", err)
	}

	var total int64
	for i := range a.Pix {
		d := int64(a.Pix[i]) - int64(b.Pix[i])
		if d < 0 {
			d = -d
		}
		total += d
	}
	mean := float64(total) / float64(len(a.Pix))
	return mean / 255.0 * 100.0, nil
}

// Brightness returns the average grayscale value (0-255) of an encoded
// frame, sampled at the comparator's reduced resolution. Used by tamper
// detection.
func Brightness(frame []byte) (float64, error) {
	g, err := decodeGray(frame)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range g.Pix {
		total += int64(p)
	}
	return float64(total) / float64(len(g.Pix)), nil
}

func decodeGray(data []byte) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	small := image.NewRGBA(image.Rect(0, 0, compareSize, compareSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	gray := image.NewGray(small.Bounds())
	for y := 0; y < compareSize; y++ {
		for x := 0; x < compareSize; x++ {
			gray.Set(x, y, small.At(x, y))
		}
	}
	return gray, nil
}
