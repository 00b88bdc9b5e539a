package smf

// Radix sort over the 64-bit tick key, eight passes of eight bits, least
// significant byte first. Each pass is a stable counting sort, so the
// pre-assigned Seq order survives within every run of equal ticks; the merged
// input arrives in Seq order, which makes the result ordered by (Tick, Seq)
// without ever comparing Seq. A comparison sort would be simpler but the
// event stream of a dense file reaches tens of millions of entries, where
// the per-pass linear scans win decisively.

// sortEvents sorts ev ascending by Tick, ties broken by Seq. The slice is
// sorted in place; the scratch buffer is allocated once.
func sortEvents(ev []Event) {
	if len(ev) < 2 {
		return
	}
	buf := make([]Event, len(ev))
	src, dst := ev, buf
	swapped := false
	for shift := uint(0); shift < 64; shift += 8 {
		if radixPassEvents(src, dst, shift) {
			src, dst = dst, src
			swapped = !swapped
		}
	}
	if swapped {
		copy(ev, src)
	}
	fixEqualRunsEvents(ev)
}

// radixPassEvents performs one counting-sort pass on the byte at shift.
// Returns false (and writes nothing) when every key shares that byte, which
// skips the pass entirely; real files cluster in the low bytes.
func radixPassEvents(src, dst []Event, shift uint) bool {
	var counts [256]int
	first := byte(src[0].Tick >> shift)
	uniform := true
	for i := range src {
		b := byte(src[i].Tick >> shift)
		counts[b]++
		if b != first {
			uniform = false
		}
	}
	if uniform {
		return false
	}
	pos := 0
	var offsets [256]int
	for b := 0; b < 256; b++ {
		offsets[b] = pos
		pos += counts[b]
	}
	for i := range src {
		b := byte(src[i].Tick >> shift)
		dst[offsets[b]] = src[i]
		offsets[b]++
	}
	return true
}

// fixEqualRunsEvents walks the sorted slice and restores Seq order inside any
// equal-tick run. With a correct stable radix this never moves anything; it
// exists so the two-key contract does not silently depend on pass stability.
func fixEqualRunsEvents(ev []Event) {
	for i := 1; i < len(ev); i++ {
		if ev[i].Tick != ev[i-1].Tick || ev[i].Seq >= ev[i-1].Seq {
			continue
		}
		// Insertion within the run; runs needing this are short in practice.
		for j := i; j > 0 && ev[j].Tick == ev[j-1].Tick && ev[j].Seq < ev[j-1].Seq; j-- {
			ev[j], ev[j-1] = ev[j-1], ev[j]
		}
	}
}

// sortTempos applies the same two-key discipline to tempo breakpoints.
// Tempo maps are small, but they share the ordering contract with events.
func sortTempos(ts []Tempo) {
	if len(ts) < 2 {
		return
	}
	buf := make([]Tempo, len(ts))
	src, dst := ts, buf
	swapped := false
	for shift := uint(0); shift < 64; shift += 8 {
		var counts [256]int
		first := byte(src[0].Tick >> shift)
		uniform := true
		for i := range src {
			b := byte(src[i].Tick >> shift)
			counts[b]++
			if b != first {
				uniform = false
			}
		}
		if uniform {
			continue
		}
		pos := 0
		var offsets [256]int
		for b := 0; b < 256; b++ {
			offsets[b] = pos
			pos += counts[b]
		}
		for i := range src {
			b := byte(src[i].Tick >> shift)
			dst[offsets[b]] = src[i]
			offsets[b]++
		}
		src, dst = dst, src
		swapped = !swapped
	}
	if swapped {
		copy(ts, src)
	}
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Tick == ts[j-1].Tick && ts[j].Seq < ts[j-1].Seq; j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}
