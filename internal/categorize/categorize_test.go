package categorize_test

import (
	"testing"

	"github.com/dwarfs-go/dwarfs"
	"github.com/dwarfs-go/dwarfs/internal/categorize"
)

type fakeRandomAccess struct {
	name       string
	globalBest bool
	frags      []dwarfs.Fragment
}

func (f *fakeRandomAccess) Name() string     { return f.name }
func (f *fakeRandomAccess) GlobalBest() bool { return f.globalBest }
func (f *fakeRandomAccess) CategorizeRandomAccess(path string, data []byte, m categorize.Mapper) ([]dwarfs.Fragment, error) {
	return f.frags, nil
}

type fakeSequential struct {
	name  string
	frags []dwarfs.Fragment
}

func (f *fakeSequential) Name() string { return f.name }
func (f *fakeSequential) NewJob(path string, m categorize.Mapper) categorize.SequentialJob {
	return &fakeSequentialJob{frags: f.frags}
}

type fakeSequentialJob struct {
	frags []dwarfs.Fragment
}

func (j *fakeSequentialJob) Write(p []byte) (int, error)       { return len(p), nil }
func (j *fakeSequentialJob) Finish() ([]dwarfs.Fragment, error) { return j.frags, nil }

func TestManagerGlobalBestShortCircuits(t *testing.T) {
	mgr := categorize.NewManager(intMapper())
	mgr.AddRandomAccess(&fakeRandomAccess{
		name:  "candidate",
		frags: []dwarfs.Fragment{{Category: 1, Length: 4}},
	})
	mgr.AddRandomAccess(&fakeRandomAccess{
		name:       "winner",
		globalBest: true,
		frags:      []dwarfs.Fragment{{Category: 2, Length: 4}},
	})
	mgr.AddSequential(&fakeSequential{
		name:  "never-reached",
		frags: []dwarfs.Fragment{{Category: 3, Length: 4}},
	})

	frags, err := mgr.CategorizeRandomAccess("x", []byte("data"))
	if err != nil {
		t.Fatalf("CategorizeRandomAccess: %v", err)
	}
	if len(frags) != 1 || frags[0].Category != 2 {
		t.Fatalf("got %+v, want the global-best winner's fragments", frags)
	}
}

func TestManagerFallsBackToSequential(t *testing.T) {
	mgr := categorize.NewManager(intMapper())
	mgr.AddRandomAccess(&fakeRandomAccess{name: "empty", frags: nil})
	mgr.AddSequential(&fakeSequential{
		name:  "seq",
		frags: []dwarfs.Fragment{{Category: 5, Length: 4}},
	})

	frags, err := mgr.CategorizeRandomAccess("x", []byte("data"))
	if err != nil {
		t.Fatalf("CategorizeRandomAccess: %v", err)
	}
	if len(frags) != 1 || frags[0].Category != 5 {
		t.Fatalf("got %+v, want the sequential categorizer's fragments", frags)
	}
}

func TestManagerFallsBackToNonGlobalBestCandidate(t *testing.T) {
	mgr := categorize.NewManager(intMapper())
	mgr.AddRandomAccess(&fakeRandomAccess{
		name:  "candidate",
		frags: []dwarfs.Fragment{{Category: 7, Length: 4}},
	})

	frags, err := mgr.CategorizeRandomAccess("x", []byte("data"))
	if err != nil {
		t.Fatalf("CategorizeRandomAccess: %v", err)
	}
	if len(frags) != 1 || frags[0].Category != 7 {
		t.Fatalf("got %+v, want the lone non-global-best candidate", frags)
	}
}

func TestManagerDefaultsToWholeFileFragment(t *testing.T) {
	mgr := categorize.NewManager(intMapper())
	mgr.AddRandomAccess(&fakeRandomAccess{name: "empty", frags: nil})

	data := []byte("some file contents")
	frags, err := mgr.CategorizeRandomAccess("x", data)
	if err != nil {
		t.Fatalf("CategorizeRandomAccess: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Category != dwarfs.DefaultCategory {
		t.Fatalf("category = %d, want DefaultCategory", frags[0].Category)
	}
	if frags[0].Subcategory != dwarfs.NoSubcategory {
		t.Fatalf("subcategory = %d, want NoSubcategory", frags[0].Subcategory)
	}
	if frags[0].Length != uint64(len(data)) {
		t.Fatalf("length = %d, want %d", frags[0].Length, len(data))
	}
}

func TestManagerHasMultiFragmentSequential(t *testing.T) {
	mgr := categorize.NewManager(intMapper())
	if mgr.HasMultiFragmentSequential() {
		t.Fatalf("empty manager reports a sequential categorizer")
	}
	mgr.AddSequential(&fakeSequential{name: "seq"})
	if !mgr.HasMultiFragmentSequential() {
		t.Fatalf("manager with a registered sequential categorizer reports none")
	}
}

func TestInternerAssignsStableIDs(t *testing.T) {
	in := categorize.NewInterner[string]()
	a1 := in.Intern("a")
	b := in.Intern("b")
	a2 := in.Intern("a")

	if a1 != a2 {
		t.Fatalf("same key interned to different ids: %d != %d", a1, a2)
	}
	if a1 == b {
		t.Fatalf("different keys interned to the same id: %d", a1)
	}
}
