package integrity

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/semaphore"
)

// exclusive is the weight a writer acquires; readers take 1.
const exclusive = 1 << 20

// lockSet names the kinds a mutation writes and the kinds it only reads.
type lockSet struct {
	write []string
	read  []string
}

func newLockSet(write, read []string) lockSet {
	w := slices.Clone(write)
	slices.Sort(w)
	w = slices.Compact(w)

	r := make([]string, 0, len(read))
	for _, kind := range read {
		if _, found := slices.BinarySearch(w, kind); !found {
			r = append(r, kind)
		}
	}
	slices.Sort(r)
	return lockSet{write: w, read: slices.Compact(r)}
}

// locks holds one weighted semaphore per kind. Kinds are always acquired in
// name order, so two mutations can never wait on each other in a cycle.
type locks struct {
	kinds map[string]*semaphore.Weighted
}

func newLocks(kinds []string) *locks {
	l := &locks{kinds: make(map[string]*semaphore.Weighted, len(kinds))}
	for _, kind := range kinds {
		l.kinds[kind] = semaphore.NewWeighted(exclusive)
	}
	return l
}

type held struct {
	sem    *semaphore.Weighted
	weight int64
}

// acquire blocks until every kind in set is held or ctx is done. The returned
// function releases them.
func (l *locks) acquire(ctx context.Context, set lockSet) (func(), error) {
	type want struct {
		kind   string
		weight int64
	}
	wants := make([]want, 0, len(set.write)+len(set.read))
	for _, kind := range set.write {
		wants = append(wants, want{kind, exclusive})
	}
	for _, kind := range set.read {
		wants = append(wants, want{kind, 1})
	}
	slices.SortFunc(wants, func(a, b want) int { return strings.Compare(a.kind, b.kind) })

	acquired := make([]held, 0, len(wants))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].sem.Release(acquired[i].weight)
		}
	}
	for _, w := range wants {
		sem, ok := l.kinds[w.kind]
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, w.weight); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, held{sem: sem, weight: w.weight})
	}
	return release, nil
}
