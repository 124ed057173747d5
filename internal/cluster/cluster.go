// Package cluster groups perceptual hashes into duplicate buckets.
//
// Two items are linked when the Hamming distance of their hashes is at most
// the threshold; a bucket is a connected component of that relation with at
// least two members.
package cluster

import (
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Item is a record id with its hash.
type Item struct {
	ID   int64
	Hash uint64
}

// Bucket is a group of near-duplicate records.
type Bucket struct {
	Representative int64   `json:"representative"`
	Members        []int64 `json:"members"`
}

// FromRecords extracts clustering items from stored records.
func FromRecords(records []database.ImageRecord) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, Item{ID: r.ID, Hash: r.Hash})
	}
	return items
}

// Cluster groups items using the indexed engine.
func Cluster(items []Item, threshold int) []Bucket {
	return Indexed(items, threshold)
}

// Naive compares every pair of items.
func Naive(items []Item, threshold int) []Bucket {
	if threshold < 0 || len(items) < 2 {
		return nil
	}

	uf := newUnionFind(len(items))
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if fingerprint.HammingDistance(items[i].Hash, items[j].Hash) <= threshold {
				uf.union(i, j)
			}
		}
	}
	return collect(items, uf)
}

// Indexed inserts items into a BK-tree and only compares items whose
// distance to a tree node can satisfy the triangle inequality.
func Indexed(items []Item, threshold int) []Bucket {
	if threshold < 0 || len(items) < 2 {
		return nil
	}

	tree := &bkTree{}
	uf := newUnionFind(len(items))
	for i, it := range items {
		for _, j := range tree.search(items, it.Hash, threshold) {
			uf.union(i, j)
		}
		tree.add(items, i)
	}
	return collect(items, uf)
}

// collect turns union-find components into sorted buckets.
func collect(items []Item, uf *unionFind) []Bucket {
	groups := make(map[int][]int64)
	for i, it := range items {
		root := uf.find(i)
		groups[root] = append(groups[root], it.ID)
	}

	var buckets []Bucket
	for _, ids := range groups {
		slices.Sort(ids)
		ids = slices.Compact(ids)
		if len(ids) < 2 {
			continue
		}
		buckets = append(buckets, Bucket{Representative: ids[0], Members: ids})
	}

	slices.SortFunc(buckets, func(a, b Bucket) int {
		switch {
		case a.Representative < b.Representative:
			return -1
		case a.Representative > b.Representative:
			return 1
		default:
			return 0
		}
	})
	return buckets
}
