package equalize

import (
	"slices"
	"strings"

	"github.com/matzehuels/portkeeper/pkg/atom"
	"github.com/matzehuels/portkeeper/pkg/errors"
	"github.com/matzehuels/portkeeper/pkg/portage"
)

// SlotGroup holds the best visible candidates of one slot of an atom, one per
// profile that sees the slot.
type SlotGroup struct {
	Slot string
	Best []atom.CPV
}

// SlotIndex groups the visible candidates of a by slot (sub-slots ignored)
// and returns each slot's best visible candidates, ordered by slot. An atom
// without visible candidates has no groups.
func SlotIndex(repo Repository, a string) ([]SlotGroup, error) {
	visible, err := repo.MatchVisible(a)
	if err != nil {
		return nil, err
	}

	var slots []string
	for _, cpv := range visible {
		vals, err := repo.AuxInfo(cpv, portage.KeySlot)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInspectionFailure, err, "slot of %s", cpv)
		}
		slot, _, _ := strings.Cut(vals[0], "/")
		if slot == "" {
			slot = "0"
		}
		if !slices.Contains(slots, slot) {
			slots = append(slots, slot)
		}
	}
	slices.Sort(slots)

	groups := make([]SlotGroup, 0, len(slots))
	for _, slot := range slots {
		best, err := repo.BestVisibleSet(a + ":" + slot)
		if err != nil {
			return nil, err
		}
		groups = append(groups, SlotGroup{Slot: slot, Best: best})
	}
	return groups, nil
}
