package poller

import (
	"sort"

	"github.com/example/taxi-dispatch/internal/models"
)

type ChangeKind uint8

const (
	Appeared ChangeKind = iota + 1
	StatusChanged
	Disappeared
)

func (k ChangeKind) String() string {
	switch k {
	case Appeared:
		return "appeared"
	case StatusChanged:
		return "status_changed"
	case Disappeared:
		return "disappeared"
	}
	return "unknown"
}

// Change is one edge between two snapshots. From is set for StatusChanged.
type Change struct {
	Kind  ChangeKind
	Order models.Order
	From  models.OrderStatus
}

// Diff reports what changed from prev to next in ascending order id. Orders
// present in both with the same status produce nothing, so repeated polls of
// an unchanged list stay silent.
func Diff(prev, next []models.Order) []Change {
	before := make(map[int64]models.Order, len(prev))
	for _, o := range prev {
		before[o.ID] = o
	}
	var out []Change
	seen := make(map[int64]struct{}, len(next))
	for _, o := range next {
		seen[o.ID] = struct{}{}
		old, ok := before[o.ID]
		switch {
		case !ok:
			out = append(out, Change{Kind: Appeared, Order: o})
		case old.Status != o.Status:
			out = append(out, Change{Kind: StatusChanged, Order: o, From: old.Status})
		}
	}
	for id, o := range before {
		if _, ok := seen[id]; !ok {
			out = append(out, Change{Kind: Disappeared, Order: o})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return out
}
