package similarity

import "go.uber.org/zap"

// Relaxed parameters are dropped once the corpus shrinks below this fraction
// of LargeCorpusThreshold.
const revertFraction = 0.9

// adaptLocked switches between the normal and large-corpus retrieval parameters.
func (e *Engine) adaptLocked() {
	threshold := e.cfg.LargeCorpusThreshold
	if threshold <= 0 {
		return
	}
	n := len(e.docs)
	switch {
	case !e.relaxed && n > threshold:
		e.setRelaxedLocked(true)
	case e.relaxed && float64(n) < revertFraction*float64(threshold):
		e.setRelaxedLocked(false)
	}
}

func (e *Engine) setRelaxedLocked(relaxed bool) {
	switch {
	case e.bands != nil:
		bands, rows := e.cfg.MinHash.Bands, e.cfg.MinHash.Rows
		if relaxed {
			bands, rows = e.cfg.MinHash.LargeCorpusBands, e.cfg.MinHash.LargeCorpusRows
		}
		if cur, _ := e.bands.Banding(); cur != bands {
			if err := e.bands.Rebucket(bands, rows, arena(e.docs)); err != nil {
				e.logger.Error("rebucket failed", zap.Bool("relaxed", relaxed), zap.Error(err))
				return
			}
		}
	case e.chunks != nil:
		d := e.cfg.SimHash.MaxDistance
		if relaxed {
			d = e.cfg.SimHash.LargeCorpusMaxDistance
		}
		e.chunks.SetMaxDistance(d)
	}
	e.relaxed = relaxed
	e.logger.Info("retrieval parameters changed",
		zap.Bool("relaxed", relaxed),
		zap.Int("documents", len(e.docs)))
}
