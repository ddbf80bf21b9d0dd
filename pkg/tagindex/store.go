package tagindex

import "sync"

// Store serializes load, merge and save of index files so concurrent passes
// never interleave on the same file.
type Store struct {
	mu sync.Mutex
}

// Update loads the index at path, deduplicates it, hands it to fn and saves it.
// fn returns the number of mutations it made. The file is only rewritten
// when fn or deduplication changed something. The returned count is fn's.
func (s *Store) Update(path string, fn func(*Index) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := Load(path)
	if err != nil {
		return 0, err
	}
	dropped := idx.Deduplicate()
	mutations := fn(idx)
	if mutations == 0 && dropped == 0 {
		return 0, nil
	}
	if err := idx.Save(path); err != nil {
		return 0, err
	}
	return mutations, nil
}
