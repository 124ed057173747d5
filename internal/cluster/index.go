package cluster

import "github.com/kozaktomas/photo-dedup/internal/fingerprint"

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// bkTree indexes item positions in Hamming space.
type bkTree struct {
	root *bkNode
}

type bkNode struct {
	item     int
	children map[int]*bkNode
}

func (t *bkTree) add(items []Item, i int) {
	node := &bkNode{item: i, children: make(map[int]*bkNode)}
	if t.root == nil {
		t.root = node
		return
	}
	cur := t.root
	for {
		dist := fingerprint.HammingDistance(items[cur.item].Hash, items[i].Hash)
		next := cur.children[dist]
		if next == nil {
			cur.children[dist] = node
			return
		}
		cur = next
	}
}

// search returns positions of items within radius of hash.
func (t *bkTree) search(items []Item, hash uint64, radius int) []int {
	if t.root == nil {
		return nil
	}

	var results []int
	candidates := []*bkNode{t.root}
	for len(candidates) > 0 {
		cand := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		dist := fingerprint.HammingDistance(items[cand.item].Hash, hash)
		if dist <= radius {
			results = append(results, cand.item)
		}

		low, high := dist-radius, dist+radius
		for d, child := range cand.children {
			if d >= low && d <= high {
				candidates = append(candidates, child)
			}
		}
	}
	return results
}
