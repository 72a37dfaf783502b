package expr

// SlotGetSomeAttrs deforms the stored tuple until at least n attributes are
// valid. Attributes the stored tuple does not carry read as null; requests
// wider than the slot are clamped to its width.
func SlotGetSomeAttrs(slot *TupleSlot, n int64) {
	if n > slot.Natts {
		n = slot.Natts
	}
	if slot.Nvalid >= n {
		return
	}
	for i := slot.Nvalid; i < n; i++ {
		if i < slot.TupleNatts {
			d := slot.stored(int(i))
			slot.set(int(i), d.Value, d.IsNull)
		} else {
			slot.set(int(i), 0, true)
		}
	}
	slot.Nvalid = n
}
