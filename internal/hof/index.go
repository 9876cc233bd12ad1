package hof

// CharacterIndex accumulates crawl results in memory: player records, an
// equipment→players inverted index, and a level→naked-players index
// (spec.md §4.3). Like WorkerQueue, it is owned by the coordinator and
// guarded by the coordinator's lock(s); the fixed acquisition order is
// queue before index (spec.md §5) to avoid priority inversion.
type CharacterIndex struct {
	PlayerInfo map[PlayerID]CharacterInfo
	Equipment  map[EquipmentIdent]map[PlayerID]struct{}
	Naked      map[uint32]map[PlayerID]struct{}
}

// NewCharacterIndex returns an empty index.
func NewCharacterIndex() *CharacterIndex {
	return &CharacterIndex{
		PlayerInfo: make(map[PlayerID]CharacterInfo),
		Equipment:  make(map[EquipmentIdent]map[PlayerID]struct{}),
		Naked:      make(map[uint32]map[PlayerID]struct{}),
	}
}

// Upsert inserts or wholesale-replaces ci, maintaining invariants 3 and 4
// of spec.md §3: every equipment/naked index entry stays consistent with
// the just-inserted record.
func (idx *CharacterIndex) Upsert(ci CharacterInfo) {
	if prev, ok := idx.PlayerInfo[ci.UID]; ok {
		for _, e := range prev.Equipment {
			if set, ok := idx.Equipment[e]; ok {
				delete(set, prev.UID)
				if len(set) == 0 {
					delete(idx.Equipment, e)
				}
			}
		}
		if len(prev.Equipment) == 0 {
			if set, ok := idx.Naked[prev.Level]; ok {
				delete(set, prev.UID)
				if len(set) == 0 {
					delete(idx.Naked, prev.Level)
				}
			}
		}
	}

	idx.PlayerInfo[ci.UID] = ci

	if len(ci.Equipment) == 0 {
		set, ok := idx.Naked[ci.Level]
		if !ok {
			set = make(map[PlayerID]struct{})
			idx.Naked[ci.Level] = set
		}
		set[ci.UID] = struct{}{}
		return
	}

	for _, e := range ci.Equipment {
		set, ok := idx.Equipment[e]
		if !ok {
			set = make(map[PlayerID]struct{})
			idx.Equipment[e] = set
		}
		set[ci.UID] = struct{}{}
	}
}

// LookupByEquipment returns every player currently wearing e.
func (idx *CharacterIndex) LookupByEquipment(e EquipmentIdent) []PlayerID {
	set, ok := idx.Equipment[e]
	if !ok {
		return nil
	}
	out := make([]PlayerID, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}

// LookupNaked returns every naked (zero-equipment) player whose level
// falls in [minLevel, maxLevel].
func (idx *CharacterIndex) LookupNaked(minLevel, maxLevel uint32) []PlayerID {
	var out []PlayerID
	for lvl, set := range idx.Naked {
		if lvl < minLevel || lvl > maxLevel {
			continue
		}
		for pid := range set {
			out = append(out, pid)
		}
	}
	return out
}

// Characters returns a snapshot slice of every record in the index, for
// handing to the backup codec (spec.md §4.2's snapshot_for_backup).
func (idx *CharacterIndex) Characters() []CharacterInfo {
	out := make([]CharacterInfo, 0, len(idx.PlayerInfo))
	for _, ci := range idx.PlayerInfo {
		out = append(out, ci)
	}
	return out
}
