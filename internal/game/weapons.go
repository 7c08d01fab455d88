package game

import "math/rand"

// TargetWeapons is how many pickups the arena keeps on the ground.
const TargetWeapons = 5

// offsetSteps is the number of gun variants per sprite-sheet axis; the sheet
// is four tiles wide and tall.
const (
	offsetSteps = 3
	offsetTiles = 4
)

// DefaultCatalog lists the arena coordinates a weapon can spawn on.
var DefaultCatalog = []Location{
	{X: 10, Z: 40}, {X: -17, Z: 45}, {X: 7, Z: 21}, {X: -10, Z: 19},
	{X: 0, Z: 35}, {X: 14, Z: 10}, {X: -15, Z: 10}, {X: -22, Z: 4},
	{X: 22, Z: 2}, {X: 0, Z: 13}, {X: 15.5, Z: 2}, {X: 12, Z: -12},
	{X: -8, Z: 12}, {X: -21, Z: -24}, {X: 0, Z: -15}, {X: -2, Z: -34},
	{X: -12, Z: -37}, {X: -22, Z: -40}, {X: -9, Z: 45}, {X: 12, Z: -24},
	{X: 15, Z: -43}, {X: 0, Z: -46}, {X: 22, Z: 24}, {X: -23, Z: 40},
	{X: -23, Z: 25}, {X: -15, Z: 8}, {X: -9, Z: -10}, {X: 9, Z: 16},
	{X: 22, Z: 11}, {X: -22, Z: 12}, {X: 14, Z: -10},
}

// WeaponPool keeps the live pickups, at most one per catalog location.
type WeaponPool struct {
	catalog []Location
	target  int
	live    []WeaponSpawn
	nextID  int
	rng     *rand.Rand
}

// NewWeaponPool copies catalog and draws locations from rng. A catalog shorter
// than TargetWeapons lowers the target to the catalog size.
func NewWeaponPool(catalog []Location, rng *rand.Rand) *WeaponPool {
	target := TargetWeapons
	if len(catalog) < target {
		target = len(catalog)
	}
	return &WeaponPool{
		catalog: append([]Location(nil), catalog...),
		target:  target,
		rng:     rng,
	}
}

// EnsureSpawned returns the live weapons, filling the pool to its target only
// when it is empty.
func (p *WeaponPool) EnsureSpawned() []WeaponSpawn {
	if len(p.live) == 0 {
		for len(p.live) < p.target {
			p.spawn()
		}
	}
	return p.list()
}

// Collect removes the weapon with id and spawns one replacement. An unknown id
// leaves the pool untouched and reports false.
func (p *WeaponPool) Collect(id int) ([]WeaponSpawn, bool) {
	idx := -1
	for i, w := range p.live {
		if w.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return p.list(), false
	}
	p.live = append(p.live[:idx], p.live[idx+1:]...)
	if len(p.live) < p.target {
		p.spawn()
	}
	return p.list(), true
}

func (p *WeaponPool) ByID(id int) (WeaponSpawn, bool) {
	for _, w := range p.live {
		if w.ID == id {
			return w, true
		}
	}
	return WeaponSpawn{}, false
}

// AllocatedLocations returns the catalog indices currently occupied.
func (p *WeaponPool) AllocatedLocations() map[int]struct{} {
	used := make(map[int]struct{}, len(p.live))
	for _, w := range p.live {
		used[w.LocationIndex] = struct{}{}
	}
	return used
}

func (p *WeaponPool) Len() int { return len(p.live) }

func (p *WeaponPool) spawn() {
	used := p.AllocatedLocations()
	free := make([]int, 0, len(p.catalog)-len(used))
	for i := range p.catalog {
		if _, taken := used[i]; !taken {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return
	}
	idx := free[p.rng.Intn(len(free))]
	loc := p.catalog[idx]
	p.live = append(p.live, WeaponSpawn{
		ID:            p.nextID,
		LocationIndex: idx,
		X:             loc.X,
		Z:             loc.Z,
		OffsetX:       float64(p.rng.Intn(offsetSteps)) / offsetTiles,
		OffsetY:       float64(p.rng.Intn(offsetSteps)) / offsetTiles,
	})
	p.nextID++
}

func (p *WeaponPool) list() []WeaponSpawn {
	return append([]WeaponSpawn{}, p.live...)
}
