package measure

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/multifit/pkg/emath"
	"github.com/abworrall/multifit/pkg/wcs"
)

// A Source is a detection to be measured: where it is, how big it looks (second
// moments, PSF included), and a rough flux. Center and moments are in sky coords.
type Source struct {
	ID      int64
	Center  emath.Vec2
	Moments emath.Mat2
	PsfFlux float64
}

func (s Source) String() string {
	return fmt.Sprintf("src%d[%s, moments=%s, psfFlux=%.4g]", s.ID, s.Center, s.Moments, s.PsfFlux)
}

// MomentRadius is det(moments)^(1/4), converted to pixels of the given WCS. NaN if the
// moments aren't usable.
func (s Source) MomentRadius(w *wcs.WCS) float64 {
	det := s.Moments.Det()
	if !s.Moments.IsFinite() || !(det > 0) {
		return math.NaN()
	}
	return math.Pow(det, 0.25) / w.PixelScale()
}

/* Example sources file; coords are pixels of the WCS given to LoadSources ...

- {id: 1, x: 10.2, y: 33.0, ixx: 4.1, iyy: 3.9, ixy: 0.1, psfFlux: 1200}
- {id: 2, x: 51.7, y: 12.4, ixx: 9.0, iyy: 6.2, ixy: -1.1, psfFlux: 310}

*/

type sourceRecord struct {
	ID      int64   `yaml:"id"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Ixx     float64 `yaml:"ixx"`
	Iyy     float64 `yaml:"iyy"`
	Ixy     float64 `yaml:"ixy"`
	PsfFlux float64 `yaml:"psfFlux"`
}

// LoadSources reads a yaml list of pixel-coord detections, and moves them onto the sky.
func LoadSources(filename string, w *wcs.WCS) ([]Source, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read '%s': %w", filename, err)
	}
	recs := []sourceRecord{}
	if err := yaml.Unmarshal(contents, &recs); err != nil {
		return nil, fmt.Errorf("parse '%s': %w", filename, err)
	}

	lin := w.PixelToSkyLinear()
	sources := make([]Source, 0, len(recs))
	for _, r := range recs {
		sources = append(sources, Source{
			ID:      r.ID,
			Center:  w.PixelToSky(emath.Vec2{r.X, r.Y}),
			Moments: lin.Congruent(emath.Sym2(r.Ixx, r.Iyy, r.Ixy)),
			PsfFlux: r.PsfFlux,
		})
	}
	return sources, nil
}
