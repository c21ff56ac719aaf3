package classifier

import (
	"bytes"
	"fmt"
	"image"

	// Register decoders for the upload formats the service accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// inputSize is the spatial resolution the model was trained on.
const inputSize = 224

// preprocess decodes an uploaded image, resizes it to inputSize×inputSize and
// normalizes the channels to [0,1]. The returned slice is laid out
// row-major as H×W×RGB, matching the model's 1×224×224×3 input tensor.
func preprocess(imageBytes []byte) ([]float32, error) {
	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, inputSize, inputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	pixels := make([]float32, 0, inputSize*inputSize*3)
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			c := dst.RGBAAt(x, y)
			pixels = append(pixels,
				float32(c.R)/255.0,
				float32(c.G)/255.0,
				float32(c.B)/255.0,
			)
		}
	}
	return pixels, nil
}
