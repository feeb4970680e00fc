// elsig: a high-performance tool for mapping raw nanopore signals.
// Copyright (c) 2024 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elsig/blob/master/LICENSE.txt>.

package chain

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash"
	"github.com/exascience/elsig/seeds"
)

// A Region is a chain placed on the reference, with the bookkeeping
// needed to resolve primary and secondary mappings.
type Region struct {
	// ID is the index of the region in its slice; Parent is the ID
	// of the primary region it is secondary to, or ID itself.
	ID, Parent int32

	RefID uint32
	Rev   bool

	QStart, QEnd     int32
	RefStart, RefEnd int32

	// AnchorStart and Count locate the chain's anchors in the
	// Result it was generated from.
	AnchorStart, Count int32

	Score, Score0, SubScore int32
	NumSub                  int32
	Hash                    uint32

	MapQ       uint8
	AlignScore float32
}

// Primary reports whether the region is not secondary to another.
func (r *Region) Primary() bool {
	return r.Parent == r.ID
}

// MaxMapQ is the largest mapping quality assigned.
const MaxMapQ = 60

func hash64(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}

// ReadHash returns the per-chunk hash mixed into region tie-breaks.
func ReadHash(events uint32) uint32 {
	return uint32(hash64(uint64(events), 11))
}

// GenRegions converts chains to regions sorted by descending score.
// Ties are broken by a hash of the chain's first anchor mixed with
// hash. qlen is the number of query events mapped so far.
func GenRegions(dst []Region, hash uint32, qlen int32, res Result) []Region {
	dst = dst[:0]
	var start int32
	for _, ch := range res.Chains {
		first := res.Anchors[start]
		last := res.Anchors[start+ch.Count-1]
		qSpan := first.QSpan()
		r := Region{
			Parent:      -1,
			RefID:       first.RefID(),
			Rev:         first.Rev(),
			RefEnd:      last.RefPos() + 1,
			AnchorStart: start,
			Count:       ch.Count,
			Score:       ch.Score,
			Score0:      ch.Score,
			Hash:        uint32(hash64(first.X, first.Y)) ^ hash,
		}
		if rs := first.RefPos() + 1; rs > qSpan {
			r.RefStart = rs - qSpan
		}
		if !r.Rev {
			r.QStart = first.QPos() + 1 - qSpan
			r.QEnd = last.QPos() + 1
		} else {
			r.QStart = qlen - (last.QPos() + 1)
			r.QEnd = qlen - (first.QPos() + 1 - qSpan)
		}
		dst = append(dst, r)
		start += ch.Count
	}
	sort.SliceStable(dst, func(i, j int) bool {
		return regionLess(&dst[i], &dst[j])
	})
	for i := range dst {
		dst[i].ID = int32(i)
	}
	return dst
}

func regionLess(a, b *Region) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Hash != b.Hash {
		return a.Hash > b.Hash
	}
	return a.AnchorStart < b.AnchorStart
}

// sortRegions sorts by descending score and keeps ID and Parent in
// sync. IDs must equal positions on entry.
func sortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regionLess(&regions[i], &regions[j])
	})
	pos := make([]int32, len(regions))
	for i := range regions {
		pos[regions[i].ID] = int32(i)
	}
	for i := range regions {
		regions[i].ID = int32(i)
		regions[i].Parent = pos[regions[i].Parent]
	}
}

// syncRegions keeps the regions in keep, renumbers them, and remaps
// parents. A region whose parent was removed becomes primary.
func syncRegions(regions []Region, keep *bitset.BitSet) []Region {
	index := make([]int32, len(regions))
	k := 0
	for i := range regions {
		if !keep.Test(uint(i)) {
			index[i] = -1
			continue
		}
		index[i] = int32(k)
		regions[k] = regions[i]
		k++
	}
	regions = regions[:k]
	for i := range regions {
		r := &regions[i]
		r.ID = int32(i)
		if r.Parent >= 0 && index[r.Parent] >= 0 {
			r.Parent = index[r.Parent]
		} else {
			r.Parent = r.ID
		}
	}
	sortRegions(regions)
	return regions
}

type span struct {
	start, end int32
}

// SetParent marks each region as secondary to the first higher-scoring
// primary region it overlaps on the query: when the overlap fraction
// minus the uncovered fraction exceeds maskLevel and at most maskLen
// query positions are left uncovered by primaries. Secondary regions
// scoring below (1 - altDrop) of their parent are removed.
func SetParent(regions []Region, maskLevel float32, maskLen int32, altDrop float32) []Region {
	n := len(regions)
	if n == 0 {
		return regions
	}
	for i := range regions {
		regions[i].ID = int32(i)
	}
	primaries := make([]int32, 1, n)
	regions[0].Parent = 0
	var cov []span
	for i := 1; i < n; i++ {
		ri := &regions[i]
		si, ei := ri.QStart, ri.QEnd
		cov = cov[:0]
		for _, w := range primaries {
			rp := &regions[w]
			sj, ej := rp.QStart, rp.QEnd
			if ej <= si || sj >= ei {
				continue
			}
			cov = append(cov, span{maxInt32(sj, si), minInt32(ej, ei)})
		}
		var uncov int32
		if len(cov) > 0 {
			sort.Slice(cov, func(i, j int) bool {
				if cov[i].start != cov[j].start {
					return cov[i].start < cov[j].start
				}
				return cov[i].end < cov[j].end
			})
			x := si
			for _, c := range cov {
				if c.start > x {
					uncov += c.start - x
				}
				x = maxInt32(x, c.end)
			}
			if ei > x {
				uncov += ei - x
			}
		}
		secondary := false
		for _, w := range primaries {
			rp := &regions[w]
			sj, ej := rp.QStart, rp.QEnd
			if len(cov) == 0 || ej <= si || sj >= ei {
				continue
			}
			min := minInt32(ej-sj, ei-si)
			max := maxInt32(ej-sj, ei-si)
			ol := minInt32(ei, ej) - maxInt32(si, sj)
			if float32(ol)/float32(min)-float32(uncov)/float32(max) > maskLevel && uncov <= maskLen {
				ri.Parent = rp.Parent
				if ri.Score > rp.SubScore {
					rp.SubScore = ri.Score
				}
				if ri.Count >= rp.Count {
					rp.NumSub++
				}
				secondary = true
				break
			}
		}
		if !secondary {
			primaries = append(primaries, int32(i))
			ri.Parent = int32(i)
			ri.NumSub = 0
		}
	}
	if altDrop <= 0 {
		return regions
	}
	keep := bitset.New(uint(n))
	dropped := false
	for i := range regions {
		r := &regions[i]
		if !r.Primary() && float32(r.Score) < float32(regions[r.Parent].Score)*(1-altDrop) {
			dropped = true
			continue
		}
		keep.Set(uint(i))
	}
	if !dropped {
		return regions
	}
	return syncRegions(regions, keep)
}

// SelectSub keeps all primary regions and at most bestN secondary
// regions: those scoring at least priRatio of their parent, and those
// on the opposite strand of their parent scoring above minStrandScore.
// Secondary regions identical to their parent are removed.
func SelectSub(regions []Region, priRatio float32, bestN int, minStrandScore int32) []Region {
	n := len(regions)
	if priRatio <= 0 || n == 0 {
		return regions
	}
	keep := bitset.New(uint(n))
	nSecondary := 0
	for i := range regions {
		r := &regions[i]
		if r.Primary() {
			keep.Set(uint(i))
			continue
		}
		p := &regions[r.Parent]
		if float32(r.Score) >= float32(p.Score)*priRatio && nSecondary < bestN {
			if !(r.QStart == p.QStart && r.QEnd == p.QEnd && r.RefID == p.RefID && r.RefStart == p.RefStart && r.RefEnd == p.RefEnd) {
				keep.Set(uint(i))
				nSecondary++
			}
		} else if nSecondary < bestN && r.Score > minStrandScore && r.Rev != p.Rev {
			keep.Set(uint(i))
			nSecondary++
		}
	}
	if keep.Count() == uint(n) {
		return regions
	}
	return syncRegions(regions, keep)
}

// SetMapQ assigns mapping qualities. Primary regions are scored from
// the ratio of their best secondary score to their own score, their
// anchor count, and the fraction of the query that is not repetitive.
// Secondary regions, regions with fewer than minCount anchors and,
// when verified is set, regions whose alignment score is below
// minAlignScore get zero.
func SetMapQ(regions []Region, minChainScore int32, repLen int, minCount int32, verified bool, minAlignScore float32) {
	const qCoef = 40
	if len(regions) == 0 {
		return
	}
	var sum int64
	for i := range regions {
		if regions[i].Primary() {
			sum += int64(regions[i].Score)
		}
	}
	uniqRatio := float32(sum) / float32(sum+int64(repLen))
	for i := range regions {
		r := &regions[i]
		r.MapQ = 0
		if !r.Primary() || r.Score <= 0 || r.Count < minCount || (verified && r.AlignScore < minAlignScore) {
			continue
		}
		penS1 := float32(1)
		if r.Score <= 100 {
			penS1 = 0.01 * float32(r.Score)
		}
		penS1 *= uniqRatio
		penCm := float32(1)
		if r.Count <= 10 {
			penCm = 0.1 * float32(r.Count)
		}
		if penS1 < penCm {
			penCm = penS1
		}
		subsc := maxInt32(r.SubScore, minChainScore)
		x := float32(subsc) / float32(r.Score0)
		mapq := int(penCm * qCoef * (1 - x) * float32(math.Log(float64(r.Score))))
		mapq -= int(4.343*math.Log(float64(r.NumSub+1)) + .499)
		if mapq < 0 {
			mapq = 0
		}
		if mapq > MaxMapQ {
			mapq = MaxMapQ
		}
		r.MapQ = uint8(mapq)
	}
}

// Anchors returns the anchors of the region.
func (r *Region) Anchors(res Result) []seeds.Packed {
	return res.Anchors[r.AnchorStart : r.AnchorStart+r.Count]
}
