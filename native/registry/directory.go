package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMarketExists is returned when creating a market whose id is taken.
	// Market ids are never reused, so a create under a known id always fails.
	ErrMarketExists = errors.New("registry engine: market already exists")

	// ErrDependencyCycle is returned when a dependency update would make the
	// market graph cyclic. The check runs at configuration time so execution
	// never has to walk a cyclic graph.
	ErrDependencyCycle = errors.New("registry engine: market dependency cycle")

	errInvalidMarketID = errors.New("registry engine: market id must be non-zero")
	errSelfDependency  = errors.New("registry engine: market cannot depend on itself")
)

// Market is the directory entry for one venue: its identity, the fuse that
// values its positions, and the markets whose state its valuation reads.
type Market struct {
	ID           uint64
	Name         string
	BalanceFuse  common.Address
	Dependencies []uint64
}

// DirectoryReader is the read half of the directory's persistence surface.
// Valuation walks the market graph through it without gaining mutators.
type DirectoryReader interface {
	MarketGet(id uint64) (Market, bool, error)
	MarketIDs() ([]uint64, error)
}

// DirectoryState is the persistence surface the market directory relies on.
type DirectoryState interface {
	DirectoryReader
	MarketPut(rec Market) error
}

// Directory maintains the market catalogue. Ids are append-only; an entry
// is disabled by emptying its substrate set, never by deletion.
type Directory struct {
	state DirectoryState
}

func NewDirectory(state DirectoryState) *Directory {
	return &Directory{state: state}
}

// Create registers a new market under the given id.
func (d *Directory) Create(id uint64, name string) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if id == 0 {
		return errInvalidMarketID
	}
	_, exists, err := d.state.MarketGet(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrMarketExists, id)
	}
	return d.state.MarketPut(Market{ID: id, Name: name})
}

// SetBalanceFuse binds the fuse that computes the market's value. A repeat
// call replaces the previous binding.
func (d *Directory) SetBalanceFuse(id uint64, fuse common.Address) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	rec, exists, err := d.state.MarketGet(id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	rec.BalanceFuse = fuse
	return d.state.MarketPut(rec)
}

// SetDependencies replaces the market's dependency list. Every dependency
// must exist, and the resulting graph must stay acyclic.
func (d *Directory) SetDependencies(id uint64, deps []uint64) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	rec, exists, err := d.state.MarketGet(id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	cleaned := make([]uint64, 0, len(deps))
	seen := make(map[uint64]bool, len(deps))
	for _, dep := range deps {
		if dep == id {
			return errSelfDependency
		}
		if seen[dep] {
			continue
		}
		if _, ok, err := d.state.MarketGet(dep); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: dependency %d", ErrUnknownMarket, dep)
		}
		seen[dep] = true
		cleaned = append(cleaned, dep)
	}
	if err := d.checkAcyclic(id, cleaned); err != nil {
		return err
	}
	rec.Dependencies = cleaned
	return d.state.MarketPut(rec)
}

// Market returns the directory entry for the id.
func (d *Directory) Market(id uint64) (Market, error) {
	if d == nil || d.state == nil {
		return Market{}, errNilState
	}
	rec, exists, err := d.state.MarketGet(id)
	if err != nil {
		return Market{}, err
	}
	if !exists {
		return Market{}, fmt.Errorf("%w: %d", ErrUnknownMarket, id)
	}
	return rec, nil
}

// List returns every market ordered by id.
func (d *Directory) List() ([]Market, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	return ListMarkets(d.state)
}

// TopoOrder returns every market id with dependencies ahead of their
// dependents. Ties resolve by ascending id so the walk is deterministic.
func (d *Directory) TopoOrder() ([]uint64, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	return TopoOrder(d.state)
}

// ListMarkets reads every market ordered by id.
func ListMarkets(r DirectoryReader) ([]Market, error) {
	if r == nil {
		return nil, errNilState
	}
	ids, err := r.MarketIDs()
	if err != nil {
		return nil, err
	}
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]Market, 0, len(sorted))
	for _, id := range sorted {
		rec, exists, err := r.MarketGet(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// TopoOrder orders every market id with dependencies ahead of their
// dependents.
func TopoOrder(r DirectoryReader) ([]uint64, error) {
	markets, err := ListMarkets(r)
	if err != nil {
		return nil, err
	}
	deps := make(map[uint64][]uint64, len(markets))
	for _, m := range markets {
		deps[m.ID] = m.Dependencies
	}
	order := make([]uint64, 0, len(markets))
	state := make(map[uint64]int, len(markets))
	var visit func(id uint64) error
	visit = func(id uint64) error {
		switch state[id] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: market %d", ErrDependencyCycle, id)
		}
		state[id] = 1
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = 2
		order = append(order, id)
		return nil
	}
	for _, m := range markets {
		if err := visit(m.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// checkAcyclic walks the graph with id's dependency list replaced by the
// proposal and fails if id becomes reachable from itself.
func (d *Directory) checkAcyclic(id uint64, proposed []uint64) error {
	depsOf := func(market uint64) ([]uint64, error) {
		if market == id {
			return proposed, nil
		}
		rec, exists, err := d.state.MarketGet(market)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
		return rec.Dependencies, nil
	}
	visited := make(map[uint64]bool)
	stack := append([]uint64(nil), proposed...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if next == id {
			return fmt.Errorf("%w: market %d", ErrDependencyCycle, id)
		}
		if visited[next] {
			continue
		}
		visited[next] = true
		deps, err := depsOf(next)
		if err != nil {
			return err
		}
		stack = append(stack, deps...)
	}
	return nil
}
