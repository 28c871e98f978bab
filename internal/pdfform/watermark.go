package pdfform

import (
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// watermarkDescription builds the pdfcpu stamp parameter string for the
// diagonal text mark.
func watermarkDescription() string {
	return "font:Helvetica, points:42, color:.6 .6 .6, rotation:45, opacity:.35, scale:.9 abs"
}

// Watermark stamps the text on every page. onTop places the mark over the
// page content (stamp); false places it under (watermark, used by print
// mode).
func Watermark(rs io.ReadSeeker, w io.Writer, text string, onTop bool) error {
	if text == "" {
		_, err := io.Copy(w, rs)
		return err
	}

	wm, err := api.TextWatermark(text, watermarkDescription(), onTop, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("pdfform: build watermark: %w", err)
	}
	if err := api.AddWatermarks(rs, w, nil, wm, newConfiguration()); err != nil {
		return fmt.Errorf("pdfform: stamp watermark: %w", err)
	}
	return nil
}
