package tokenizer

// pair is a merge-rank map key: two adjacent symbols. A value type of two
// strings, not a concatenated "left right" string, so rank lookups never
// allocate (spec.md §4.6 "no per-merge allocation beyond two buffers").
type pair struct {
	left, right string
}

// applyMerges runs the BPE merge loop to a fixed point, per spec.md §4.6:
//  1. Scan adjacent pairs left to right; select the pair with the smallest
//     rank, ties broken by leftmost position.
//  2. If no pair has a rank, stop.
//  3. Replace every occurrence of that exact pair in a single forward
//     scan, alternating between two buffers (never shifting the same
//     slice in place, which would be quadratic).
//  4. Repeat until the sequence length is 1 or no rank applies.
func applyMerges(symbols []string, ranks map[pair]int) []string {
	cur := symbols
	spare := make([]string, 0, len(symbols))
	for len(cur) > 1 {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(cur)-1; i++ {
			if rank, ok := ranks[pair{cur[i], cur[i+1]}]; ok {
				if bestIdx == -1 || rank < bestRank {
					bestRank = rank
					bestIdx = i
				}
			}
		}
		if bestIdx == -1 {
			break
		}

		merged := cur[bestIdx] + cur[bestIdx+1]
		next := spare[:0]
		for i := 0; i < len(cur); i++ {
			if i < len(cur)-1 && cur[i] == cur[bestIdx] && cur[i+1] == cur[bestIdx+1] {
				next = append(next, merged)
				i++
				continue
			}
			next = append(next, cur[i])
		}
		spare = cur
		cur = next
	}
	return cur
}
