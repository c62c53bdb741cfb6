package store

// NormalizeBM25Score maps a raw (negative, lower-is-better) bm25 score
// onto a 0-100 confidence scale: clamp the magnitude to 20, then scale
// to a percentage.
func NormalizeBM25Score(raw float64) uint32 {
	mag := -raw
	if mag > 20.0 {
		mag = 20.0
	}
	if mag < 0 {
		mag = 0
	}
	return uint32(mag / 20.0 * 100.0)
}
