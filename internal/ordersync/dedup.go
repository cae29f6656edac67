package ordersync

// DedupIndex remembers the upstream ids already handled by one run. It is not
// safe for concurrent use; each run owns its own index.
type DedupIndex struct {
	ids map[string]struct{}
}

func NewDedupIndex() *DedupIndex {
	return &DedupIndex{ids: map[string]struct{}{}}
}

func (d *DedupIndex) Seen(id string) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *DedupIndex) Mark(id string) {
	d.ids[id] = struct{}{}
}

func (d *DedupIndex) Len() int {
	return len(d.ids)
}
