package nilsimsa

import "sort"

// SecondaryKey breaks ties between items with identical or very close
// Nilsimsa signatures: larger items sort first, then items are ordered
// by their reversed path (spec.md §4.3 step 2/3).
type SecondaryKey struct {
	Size        uint64
	ReversePath string
}

// Less implements the "size descending, then reverse-path ascending"
// comparison spec.md requires for duplicate emission order and as the
// leaf-level greedy tie-break.
func (a SecondaryKey) Less(b SecondaryKey) bool {
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	return a.ReversePath < b.ReversePath
}

// Item is one signed, weighted element to be ordered (an inode or a
// fragment, from the caller's point of view).
type Item struct {
	ID     int
	Digest Digest
	Weight uint64
	Key    SecondaryKey
}

// Options configures the clustering/linearisation pass.
type Options struct {
	// MaxChildren bounds how many child clusters a node may split into
	// before new arrivals are forced into the nearest existing child.
	MaxChildren int
	// MaxClusterSize is the item count below which a cluster with
	// D<=1 stops splitting and is ordered by the leaf greedy instead.
	MaxClusterSize int
}

// DefaultOptions mirrors the upstream tool's defaults: a handful of
// children per split, leaves capped in the low hundreds of items.
var DefaultOptions = Options{MaxChildren: 16, MaxClusterSize: 128}

// Order computes a permutation of items (returned as a reordered slice
// of their IDs) that places similar items adjacently, following the
// algorithm of spec.md §4.3: dedup, hierarchical clustering by distance,
// bottom-up nearest-neighbour-greedy linearisation, then DFS emission of
// representative-then-duplicates groups.
func Order(items []Item, opt Options) []int {
	if len(items) == 0 {
		return nil
	}
	if opt.MaxChildren <= 0 {
		opt.MaxChildren = DefaultOptions.MaxChildren
	}
	if opt.MaxClusterSize <= 0 {
		opt.MaxClusterSize = DefaultOptions.MaxClusterSize
	}

	groups := dedup(items)
	reps := make([]*group, len(groups))
	for i := range groups {
		reps[i] = &groups[i]
	}

	root := cluster(reps, 128, opt)
	ordered := linearize(root)

	out := make([]int, 0, len(items))
	for _, g := range ordered {
		out = append(out, g.items[0].ID)
		for _, it := range g.items[1:] {
			out = append(out, it.ID)
		}
	}
	return out
}

// group is a set of items sharing one exact Nilsimsa signature: items[0]
// is the representative used for clustering distance, items[1:] are
// duplicates re-emitted immediately after it.
type group struct {
	digest Digest
	weight uint64
	key    SecondaryKey
	items  []Item
}

func dedup(items []Item) []group {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		for w := 0; w < 4; w++ {
			if sorted[i].Digest[w] != sorted[j].Digest[w] {
				return sorted[i].Digest[w] < sorted[j].Digest[w]
			}
		}
		return sorted[i].Key.Less(sorted[j].Key)
	})

	var groups []group
	i := 0
	for i < len(sorted) {
		j := i + 1
		for j < len(sorted) && sorted[j].Digest == sorted[i].Digest {
			j++
		}
		members := append([]Item(nil), sorted[i:j]...)
		sort.Slice(members, func(a, b int) bool { return members[a].Key.Less(members[b].Key) })
		var weight uint64
		for _, m := range members {
			weight += m.Weight
		}
		groups = append(groups, group{
			digest: sorted[i].Digest,
			weight: weight,
			key:    members[0].Key,
			items:  members,
		})
		i = j
	}
	return groups
}

// centroid accumulates an elementwise bit-majority vote over the
// signatures assigned to a cluster.
type centroid struct {
	counts [256]int
	n      int
}

func (c *centroid) add(d Digest) {
	for w := 0; w < 4; w++ {
		word := d[w]
		base := w * 64
		for word != 0 {
			b := trailingZeros64(word)
			c.counts[base+b]++
			word &= word - 1
		}
	}
	c.n++
}

func (c *centroid) digest() Digest {
	var d Digest
	for i := 0; i < 256; i++ {
		if 2*c.counts[i] > c.n {
			d[i>>6] |= uint64(1) << uint(i&0x3F)
		}
	}
	return d
}

func trailingZeros64(v uint64) int {
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}

// clusterTree is either a leaf (holding groups to be ordered by the
// nearest-neighbour greedy) or an internal node (holding child clusters
// to be linearised and concatenated).
type clusterTree struct {
	groups   []*group
	children []*clusterTree
	weight   uint64
}

// cluster implements spec.md §4.3 step 3: recursively split by distance
// D (halving each level, bottoming out at 1) until a cluster is both
// below MaxClusterSize and at D<=1, at which point it becomes a leaf.
func cluster(items []*group, d int, opt Options) *clusterTree {
	if len(items) <= opt.MaxClusterSize && d <= 1 {
		leaf := &clusterTree{groups: items}
		for _, g := range items {
			leaf.weight += g.weight
		}
		return leaf
	}

	type child struct {
		c   *centroid
		grp []*group
		wt  uint64
	}
	var children []*child

	for _, it := range items {
		cd := it.digest
		best := -1
		bestDist := 1 << 30
		for idx, ch := range children {
			dist := Distance(ch.c.digest(), cd)
			if dist <= d && dist < bestDist {
				best = idx
				bestDist = dist
			}
		}
		if best < 0 {
			if len(children) < opt.MaxChildren {
				nc := &child{c: &centroid{}}
				children = append(children, nc)
				best = len(children) - 1
			} else {
				// Bound reached: fall back to the nearest existing
				// child regardless of distance, so no item is ever
				// dropped from the tree.
				bestDist = 1 << 30
				for idx, ch := range children {
					dist := Distance(ch.c.digest(), cd)
					if dist < bestDist {
						best = idx
						bestDist = dist
					}
				}
			}
		}
		children[best].c.add(cd)
		children[best].grp = append(children[best].grp, it)
		children[best].wt += it.weight
	}

	node := &clusterTree{}
	nextD := d / 2
	if nextD < 1 {
		nextD = 1
	}
	for _, ch := range children {
		sub := cluster(ch.grp, nextD, opt)
		node.children = append(node.children, sub)
		node.weight += sub.weight
	}
	return node
}

// linearize implements spec.md §4.3 step 4: bottom-up ordering. Leaves
// order their groups by nearest-neighbour greedy; internal nodes sort
// children by weight descending, then greedily chain children by the
// distance between the last signature of the running order and the
// first signature of each remaining child.
func linearize(t *clusterTree) []*group {
	if t == nil {
		return nil
	}
	if t.children == nil {
		return orderLeaf(t.groups)
	}

	type ordered struct {
		groups []*group
		weight uint64
	}
	seqs := make([]ordered, len(t.children))
	for i, c := range t.children {
		seqs[i] = ordered{groups: linearize(c), weight: c.weight}
	}

	sort.SliceStable(seqs, func(i, j int) bool { return seqs[i].weight > seqs[j].weight })

	used := make([]bool, len(seqs))
	var out []*group
	cur := -1
	for count := 0; count < len(seqs); count++ {
		next := -1
		if cur < 0 {
			for i := range seqs {
				if !used[i] {
					next = i
					break
				}
			}
		} else {
			lastSig := out[len(out)-1].digest
			bestDist := 1 << 30
			for i, s := range seqs {
				if used[i] || len(s.groups) == 0 {
					continue
				}
				dist := Distance(lastSig, s.groups[0].digest)
				if dist < bestDist || (dist == bestDist && next >= 0 && s.groups[0].key.Less(seqs[next].groups[0].key)) {
					bestDist = dist
					next = i
				}
			}
		}
		if next < 0 {
			break
		}
		used[next] = true
		out = append(out, seqs[next].groups...)
		cur = next
	}
	return out
}

// orderLeaf implements the leaf-level nearest-neighbour shortest-path
// greedy: repeatedly pick the unplaced group closest to the last placed
// group's signature, breaking ties by secondary key.
func orderLeaf(groups []*group) []*group {
	if len(groups) <= 1 {
		return groups
	}
	remaining := append([]*group(nil), groups...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].key.Less(remaining[j].key) })

	out := make([]*group, 0, len(remaining))
	out = append(out, remaining[0])
	remaining = remaining[1:]

	for len(remaining) > 0 {
		last := out[len(out)-1].digest
		best := 0
		bestDist := Distance(last, remaining[0].digest)
		for i := 1; i < len(remaining); i++ {
			dist := Distance(last, remaining[i].digest)
			if dist < bestDist || (dist == bestDist && remaining[i].key.Less(remaining[best].key)) {
				bestDist = dist
				best = i
			}
		}
		out = append(out, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}
