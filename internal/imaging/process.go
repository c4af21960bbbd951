package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"crosspost/internal/publisher"
)

// process decodes, resizes (maintaining aspect ratio) and re-encodes an
// image so it conforms to the target spec. Pure Go, no CGo.
//
// changed reports whether the bytes differ from the input; when the
// original already conforms the caller keeps the original reference.
func process(data []byte, spec publisher.ImageSpec) (out []byte, format string, changed bool, err error) {
	if len(data) == 0 {
		return nil, "", false, fmt.Errorf("empty image data")
	}

	img, srcFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	needResize := (spec.MaxWidth > 0 && w > spec.MaxWidth) || (spec.MaxHeight > 0 && h > spec.MaxHeight)
	needFormat := !spec.Accepts(srcFormat)
	needShrink := spec.MaxBytes > 0 && len(data) > spec.MaxBytes

	if !needResize && !needFormat && !needShrink {
		return data, srcFormat, false, nil
	}

	// Resize only when larger than the spec; never upscale.
	resized := img
	if needResize {
		nw, nh := fitWithin(w, h, spec.MaxWidth, spec.MaxHeight)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
		resized = dst
	}

	format = encodeFormat(srcFormat, spec)

	// JPEG quality ladder: step down until the size limit is met.
	qualities := []int{85}
	if format == "jpeg" && spec.MaxBytes > 0 {
		qualities = []int{85, 70, 55, 40}
	}
	for _, q := range qualities {
		b, encErr := encode(resized, format, q)
		if encErr != nil {
			return nil, "", false, encErr
		}
		if spec.MaxBytes <= 0 || len(b) <= spec.MaxBytes {
			return b, format, true, nil
		}
		out = b
	}
	return nil, "", false, fmt.Errorf("image exceeds size limit after recompression: %d > %d", len(out), spec.MaxBytes)
}

// fitWithin scales (w,h) down so both dimensions respect the maxima,
// preserving aspect ratio. Zero maxima mean unbounded.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	nw, nh := w, h
	if maxW > 0 && nw > maxW {
		nh = nh * maxW / nw
		nw = maxW
	}
	if maxH > 0 && nh > maxH {
		nw = nw * maxH / nh
		nh = maxH
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// encodeFormat picks the output format: keep the source format when the
// spec accepts it, otherwise the first accepted format (jpeg preferred).
func encodeFormat(srcFormat string, spec publisher.ImageSpec) string {
	if spec.Accepts(srcFormat) && srcFormat != "gif" {
		return srcFormat
	}
	if spec.Accepts("jpeg") {
		return "jpeg"
	}
	if len(spec.Formats) > 0 {
		return spec.Formats[0]
	}
	return "jpeg"
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}
