package discord

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"wrathbot/internal/types"
)

// GifPicker selects a random gif for an interaction kind from the asset
// directory (one subdirectory per kind). It remembers the previous pick per
// kind and avoids repeating it back to back, unless only one gif exists.
type GifPicker struct {
	dir string

	mu   sync.Mutex
	last map[types.InteractionKind]string

	// intn is injectable for tests; defaults to rand.IntN.
	intn func(n int) int
}

// NewGifPicker creates a picker rooted at dir.
func NewGifPicker(dir string) *GifPicker {
	return &GifPicker{
		dir:  dir,
		last: make(map[types.InteractionKind]string),
		intn: rand.IntN,
	}
}

// Pick returns the path of a randomly chosen gif for the kind.
func (p *GifPicker) Pick(kind types.InteractionKind) (string, error) {
	kindDir := filepath.Join(p.dir, string(kind))
	entries, err := os.ReadDir(kindDir)
	if err != nil {
		return "", fmt.Errorf("listing gifs for %s: %w", kind, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no gifs available for %s in %s", kind, kindDir)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	name := names[p.intn(len(names))]
	for len(names) > 1 && name == p.last[kind] {
		name = names[p.intn(len(names))]
	}
	p.last[kind] = name
	return filepath.Join(kindDir, name), nil
}
