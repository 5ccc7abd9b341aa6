package lsh

// partitionTable maps (partition, key) to the set of ids stored under it and
// remembers each id's keys so removal does not need the old sketch.
type partitionTable struct {
	parts []map[uint64]map[string]struct{}
	keys  map[string][]uint64
}

func newPartitionTable(n int) partitionTable {
	t := partitionTable{}
	t.reset(n)
	return t
}

func (t *partitionTable) reset(n int) {
	t.parts = make([]map[uint64]map[string]struct{}, n)
	for i := range t.parts {
		t.parts[i] = make(map[uint64]map[string]struct{})
	}
	t.keys = make(map[string][]uint64)
}

// put stores id under keys, one per partition. nil keys record id without buckets.
func (t *partitionTable) put(id string, keys []uint64) {
	t.drop(id)
	t.keys[id] = keys
	for p, k := range keys {
		bucket := t.parts[p][k]
		if bucket == nil {
			bucket = make(map[string]struct{})
			t.parts[p][k] = bucket
		}
		bucket[id] = struct{}{}
	}
}

func (t *partitionTable) drop(id string) bool {
	keys, ok := t.keys[id]
	if !ok {
		return false
	}
	for p, k := range keys {
		bucket := t.parts[p][k]
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(t.parts[p], k)
		}
	}
	delete(t.keys, id)
	return true
}

func (t *partitionTable) has(id string) bool {
	_, ok := t.keys[id]
	return ok
}

func (t *partitionTable) members(p int, k uint64) map[string]struct{} {
	return t.parts[p][k]
}

func (t *partitionTable) stats() Stats {
	s := Stats{Partitions: len(t.parts), Documents: len(t.keys)}
	total := 0
	for _, part := range t.parts {
		for _, bucket := range part {
			s.Buckets++
			total += len(bucket)
			if len(bucket) > s.MaxBucketSize {
				s.MaxBucketSize = len(bucket)
			}
		}
	}
	if s.Buckets > 0 {
		s.AvgBucketSize = float64(total) / float64(s.Buckets)
	}
	return s
}
