package smf

// VisualGrid is the dense occupancy buffer consumed by an external renderer:
// one signed byte per (time bucket, key) cell. Cell encoding:
//
//	0   empty
//	+v  continuation of a note owned by channel-color index v (1..16)
//	-v  transient onset/boundary marker, only present while parsing
//
// After parsing completes normalize() folds every marker to its absolute
// value, so consumers only ever see 0 or a positive color index.
//
// The grid is sized from the maximum tick discovered during the structural
// pass instead of a fixed worst-case constant, capped at maxVisualCells.
// Writes that fall outside the allocation are silently dropped; a note past
// the cap simply is not drawn.
type VisualGrid struct {
	Cells       []int8
	BucketTicks uint64 // ticks per time bucket, derived from PPQN
	Buckets     int
}

const (
	gridKeys = 128
	// maxVisualCells bounds the allocation for pathological files
	// (64M cells = 512K buckets of 128 keys, one byte each).
	maxVisualCells = 64 << 20
)

// newVisualGrid allocates a grid covering maxTick at the resolution of a
// 128th note (ppqn/32 ticks per bucket, at least one tick).
func newVisualGrid(maxTick uint64, ppqn uint16) *VisualGrid {
	bucketTicks := uint64(ppqn) / 32
	if bucketTicks == 0 {
		bucketTicks = 1
	}
	// Clamp before converting to int: for tick counts near 2^64 the
	// bucket count does not fit, so the comparison has to happen in uint64
	// and on the quotient (the +1 itself can wrap at the top of the range).
	buckets := maxTick / bucketTicks
	if buckets >= maxVisualCells/gridKeys {
		buckets = maxVisualCells/gridKeys - 1
	}
	buckets++
	return &VisualGrid{
		Cells:       make([]int8, int(buckets)*gridKeys),
		BucketTicks: bucketTicks,
		Buckets:     int(buckets),
	}
}

// Bucket converts a tick position to its bucket index. Positions beyond the
// allocation clamp to Buckets, which every accessor treats as out of range.
func (g *VisualGrid) Bucket(tick uint64) int {
	b := tick / g.BucketTicks
	if b >= uint64(g.Buckets) {
		return g.Buckets
	}
	return int(b)
}

// At returns the cell for (bucket, key), or 0 when out of range.
func (g *VisualGrid) At(bucket int, key byte) int8 {
	idx := bucket*gridKeys + int(key)
	if bucket < 0 || int(key) >= gridKeys || idx >= len(g.Cells) {
		return 0
	}
	return g.Cells[idx]
}

// markOnset drops the transient negative marker for a note starting on the
// given channel. Occupied cells are left alone so an overlapping note does
// not erase its neighbor's boundary.
func (g *VisualGrid) markOnset(tick uint64, key, channel byte) {
	if int(key) >= gridKeys {
		return
	}
	idx := g.Bucket(tick)*gridKeys + int(key)
	if idx >= len(g.Cells) {
		return
	}
	if g.Cells[idx] == 0 {
		g.Cells[idx] = -int8(channel + 1)
	}
}

// paintSpan fills every bucket strictly between onsetTick and offTick with
// the channel's color index. When the walk hits a negative marker left by an
// overlapping same-key note it skips forward to the first empty cell before
// resuming, which threads the two bars without overwriting the boundary.
func (g *VisualGrid) paintSpan(onsetTick, offTick uint64, key, channel byte) {
	if int(key) >= gridKeys || offTick <= onsetTick {
		return
	}
	color := int8(channel + 1)
	b := g.Bucket(onsetTick) + 1
	end := g.Bucket(offTick)
	for ; b < end; b++ {
		idx := b*gridKeys + int(key)
		if idx >= len(g.Cells) {
			return
		}
		if g.Cells[idx] < 0 {
			for b < end {
				idx = b*gridKeys + int(key)
				if idx >= len(g.Cells) {
					return
				}
				if g.Cells[idx] == 0 {
					break
				}
				b++
			}
			if b >= end {
				return
			}
		}
		if g.Cells[idx] == 0 {
			g.Cells[idx] = color
		}
	}
}

// normalize folds transient markers into plain color cells. Called once when
// parsing completes; afterwards the grid is immutable.
func (g *VisualGrid) normalize() {
	for i, c := range g.Cells {
		if c < 0 {
			g.Cells[i] = -c
		}
	}
}
