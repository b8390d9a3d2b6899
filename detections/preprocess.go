package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// Preprocessor fits images into the model input and writes them as
// planar RGB float32 in [0, 1].
type Preprocessor struct {
	width, height int
	numWorkers    int
}

func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

// Letterbox resizes img to fit the input while keeping its aspect ratio and
// pads the remainder with LetterboxFill.
func (p *Preprocessor) Letterbox(img image.Image) (*image.NRGBA, Letterbox) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	scale := float32(math.Min(float64(p.width)/float64(srcW), float64(p.height)/float64(srcH)))
	nw := clampInt(int(math.Round(float64(srcW)*float64(scale))), 1, p.width)
	nh := clampInt(int(math.Round(float64(srcH)*float64(scale))), 1, p.height)
	padX := (p.width - nw) / 2
	padY := (p.height - nh) / 2

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(p.width, p.height, color.NRGBA{LetterboxFill, LetterboxFill, LetterboxFill, 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Letterbox{
		Scale: scale,
		PadX:  float32(padX),
		PadY:  float32(padY),
		SrcW:  srcW,
		SrcH:  srcH,
	}
}

// Fill writes img into dst as three planes (R, G, B). img must match the
// preprocessor size.
func (p *Preprocessor) Fill(dst []float32, img *image.NRGBA) {
	channelSize := p.width * p.height
	rowsPerWorker := p.height / p.numWorkers
	if rowsPerWorker == 0 {
		rowsPerWorker = p.height
	}

	var wg sync.WaitGroup
	for startRow := 0; startRow < p.height; startRow += rowsPerWorker {
		endRow := startRow + rowsPerWorker
		if endRow > p.height || p.height-endRow < rowsPerWorker {
			endRow = p.height
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
				offset := y * p.width
				for x := 0; x < p.width; x++ {
					i := offset + x
					dst[i] = float32(src[x*4]) / 255.0
					dst[channelSize+i] = float32(src[x*4+1]) / 255.0
					dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(startRow, endRow)

		if endRow == p.height {
			break
		}
	}

	wg.Wait()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
