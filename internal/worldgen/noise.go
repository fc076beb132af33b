package worldgen

import (
	"github.com/aquilax/go-perlin"
)

const (
	noiseAlpha   = 2.0 // сглаживание
	noiseBeta    = 2.0 // частота
	noiseOctaves = int32(3)
)

// noise шум Перлина, приведённый к [0, 1]
type noise struct {
	p *perlin.Perlin
}

func newNoise(seed int64) noise {
	return noise{p: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)}
}

func (n noise) at(x, y float64) float64 {
	v := (n.p.Noise2D(x, y) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
