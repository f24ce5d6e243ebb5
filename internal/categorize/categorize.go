// Package categorize implements the scanner-side categorizer manager of
// spec.md §4.1: a composition of random-access and sequential
// categorizers that partitions a file's bytes into fragments, each
// tagged with a category and an interned subcategory.
package categorize

import (
	"io"

	"github.com/dwarfs-go/dwarfs"
)

// Mapper turns a category name into the stable integer id used on disk.
// The same mapper instance must be shared across a whole scan so that
// equal names always resolve to equal ids.
type Mapper interface {
	CategoryID(name string) dwarfs.Category
}

// MapperFunc adapts a function to a Mapper.
type MapperFunc func(name string) dwarfs.Category

func (f MapperFunc) CategoryID(name string) dwarfs.Category { return f(name) }

// RandomAccess categorizers see the whole file mapped into memory at
// once (spec.md §4.1).
type RandomAccess interface {
	Name() string
	// GlobalBest reports whether a non-empty result from this
	// categorizer should short-circuit the rest of the manager's
	// composition instead of merely being a candidate.
	GlobalBest() bool
	CategorizeRandomAccess(path string, data []byte, m Mapper) ([]dwarfs.Fragment, error)
}

// Sequential categorizers receive a file as a byte stream and only know
// the total partition at end-of-file.
type Sequential interface {
	Name() string
	NewJob(path string, m Mapper) SequentialJob
}

// SequentialJob is one in-progress sequential categorization.
type SequentialJob interface {
	io.Writer
	Finish() ([]dwarfs.Fragment, error)
}

// Manager composes categorizers in the precedence order spec.md §4.1
// describes: all random-access categorizers run first (in registration
// order); a non-empty "global best" result short-circuits everything
// else. Failing that, sequential categorizers run in registration order
// against the stream and the first non-empty result wins. If nothing
// matches, the manager falls back to the first non-empty, non-global-best
// random-access candidate it saw, and failing that to a single
// default-category fragment spanning the whole file.
type Manager struct {
	Mapper     Mapper
	randomAcc  []RandomAccess
	sequential []Sequential
}

// NewManager builds a manager over the given mapper. Categorizers are
// registered with AddRandomAccess/AddSequential in the priority order
// they should be tried.
func NewManager(m Mapper) *Manager {
	return &Manager{Mapper: m}
}

func (mgr *Manager) AddRandomAccess(c RandomAccess) { mgr.randomAcc = append(mgr.randomAcc, c) }
func (mgr *Manager) AddSequential(c Sequential)     { mgr.sequential = append(mgr.sequential, c) }

// HasMultiFragmentSequential reports whether any sequential categorizer
// is registered at all; it does not inspect how many fragments those
// categorizers produce.
func (mgr *Manager) HasMultiFragmentSequential() bool {
	return len(mgr.sequential) > 0
}

// CategorizeRandomAccess runs the full composition against an
// already-mapped file.
func (mgr *Manager) CategorizeRandomAccess(path string, data []byte) ([]dwarfs.Fragment, error) {
	var candidate []dwarfs.Fragment

	for _, c := range mgr.randomAcc {
		frags, err := c.CategorizeRandomAccess(path, data, mgr.Mapper)
		if err != nil {
			return nil, err
		}
		if len(frags) == 0 {
			continue
		}
		if c.GlobalBest() {
			return frags, nil
		}
		if candidate == nil {
			candidate = frags
		}
	}

	for _, c := range mgr.sequential {
		job := c.NewJob(path, mgr.Mapper)
		if _, err := job.Write(data); err != nil {
			return nil, err
		}
		frags, err := job.Finish()
		if err != nil {
			return nil, err
		}
		if len(frags) > 0 {
			return frags, nil
		}
	}

	if candidate != nil {
		return candidate, nil
	}

	return []dwarfs.Fragment{{Category: dwarfs.DefaultCategory, Subcategory: dwarfs.NoSubcategory, Length: uint64(len(data))}}, nil
}

// Interner assigns stable, equality-preserving subcategory ids to
// arbitrary comparable keys, per categorizer (spec.md §4.1: "interned in
// a per-categorizer map so identical subcategories compare equal").
type Interner[K comparable] struct {
	ids  map[K]dwarfs.Subcategory
	next dwarfs.Subcategory
}

func NewInterner[K comparable]() *Interner[K] {
	return &Interner[K]{ids: make(map[K]dwarfs.Subcategory)}
}

func (in *Interner[K]) Intern(key K) dwarfs.Subcategory {
	if id, ok := in.ids[key]; ok {
		return id
	}
	id := in.next
	in.ids[key] = id
	in.next++
	return id
}
