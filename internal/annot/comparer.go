package annot

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// ImageSource supplies the rasterized page image for a comparison.
type ImageSource interface {
	ImageBytes(ctx context.Context, pageID string) ([]byte, error)
}

// Comparer runs the full crop-and-compare pipeline between two answers.
// Image bytes are fetched once per Compare call and never cached here;
// on-disk caching of rasterized pages belongs to the image store.
type Comparer struct {
	images       ImageSource
	iouThreshold float64
}

// NewComparer builds a Comparer. threshold <= 0 selects the default.
func NewComparer(images ImageSource, iouThreshold float64) *Comparer {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &Comparer{images: images, iouThreshold: iouThreshold}
}

// Compare decides whether two raw answers for the same page agree. Both
// answers are parsed, cropped to visible content in image pixel space and
// normalized to relative coordinates before the set comparison. A missing
// page image is a fatal per-page error.
func (c *Comparer) Compare(ctx context.Context, pageID string, answerA, answerB model.Answer) (bool, error) {
	imgBytes, err := c.images.ImageBytes(ctx, pageID)
	if err != nil {
		return false, fmt.Errorf("fetch image for page %s: %w", pageID, err)
	}
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(imgBytes))
	if err != nil {
		return false, fmt.Errorf("decode image config for page %s: %w", pageID, err)
	}

	relA, err := c.normalize(imgBytes, imgCfg, answerA)
	if err != nil {
		return false, fmt.Errorf("page %s answer A: %w", pageID, err)
	}
	relB, err := c.normalize(imgBytes, imgCfg, answerB)
	if err != nil {
		return false, fmt.Errorf("page %s answer B: %w", pageID, err)
	}

	return CheckAgreement(relA, relB, c.iouThreshold), nil
}

// normalize maps one answer into cropped, relative boxes in image space.
func (c *Comparer) normalize(imgBytes []byte, imgCfg image.Config, a model.Answer) ([]RelativeBoundingBox, error) {
	boxes, err := ParseAnswer(a)
	if err != nil {
		return nil, err
	}
	imgW, imgH := float64(imgCfg.Width), float64(imgCfg.Height)
	scaled := Scale(boxes, imgW/a.CanvasWidth, imgH/a.CanvasHeight)
	cropped, err := CropToContent(imgBytes, scaled)
	if err != nil {
		return nil, err
	}
	return ToRelative(cropped, imgW, imgH), nil
}

// CropAnswer tightens an answer's annotations to their visible content and
// returns the re-exported payload. Used by the review UI and the exporter
// when crop-whitespace is requested.
func (c *Comparer) CropAnswer(ctx context.Context, pageID string, a model.Answer) (model.Answer, error) {
	imgBytes, err := c.images.ImageBytes(ctx, pageID)
	if err != nil {
		return model.Answer{}, fmt.Errorf("fetch image for page %s: %w", pageID, err)
	}
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(imgBytes))
	if err != nil {
		return model.Answer{}, fmt.Errorf("decode image config for page %s: %w", pageID, err)
	}

	boxes, err := ParseAnswer(a)
	if err != nil {
		return model.Answer{}, err
	}
	imgW, imgH := float64(imgCfg.Width), float64(imgCfg.Height)
	scaled := Scale(boxes, imgW/a.CanvasWidth, imgH/a.CanvasHeight)
	cropped, err := CropToContent(imgBytes, scaled)
	if err != nil {
		return model.Answer{}, err
	}
	// back into canvas space so the payload stays in its original coordinates
	back := Scale(cropped, a.CanvasWidth/imgW, a.CanvasHeight/imgH)

	out := a
	out.Annotations = ExportAnswer(back, a.CanvasWidth, a.CanvasHeight).Annotations
	return out, nil
}
