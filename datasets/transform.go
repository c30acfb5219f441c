package datasets

import "gorgonia.org/tensor"

// Transform mutates a [3, H, W] image tensor in place. Datasets apply
// it inside Get to images they freshly allocated, so aliasing is never
// a concern for callers.
type Transform func(img *tensor.Dense)

// ImageNet channel statistics, the normalization most pretrained
// backbones expect.
var (
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// Normalize returns a transform standardizing each channel to the
// given statistics.
func Normalize(mean, std [3]float64) Transform {
	return func(img *tensor.Dense) {
		data := img.Data().([]float64)
		hw := len(data) / 3
		for c := 0; c < 3; c++ {
			seg := data[c*hw : (c+1)*hw]
			for i := range seg {
				seg[i] = (seg[i] - mean[c]) / std[c]
			}
		}
	}
}

// Denormalize inverts Normalize on a flat channel-major image buffer.
// Used when dumping network inputs back out as viewable images.
func Denormalize(data []float64, mean, std [3]float64) []float64 {
	out := make([]float64, len(data))
	hw := len(data) / 3
	for c := 0; c < 3; c++ {
		for i := 0; i < hw; i++ {
			out[c*hw+i] = data[c*hw+i]*std[c] + mean[c]
		}
	}
	return out
}
