package uafcheck

// UafPair is one reported (free_site, use_site) pair (§3 Uaf, §6).
type UafPair struct {
	Free Loc
	Use  Loc
}

// DeriveUaf implements §4.8: for useLoc with incoming state ptsIn, for
// each non-temp base variable v with derefs >= 2 read at useLoc,
// emit a UafPair for every site in ptsIn.FreeSites(v).
func DeriveUaf(useLoc Loc, ptsIn *PointsTo, readVars []VarPath) []UafPair {
	var out []UafPair
	seen := map[Loc]struct{}{}
	for _, vp := range readVars {
		if vp.Depth() < 2 || vp.Base.IsTemp() {
			continue
		}
		for _, site := range ptsIn.FreeSites(vp.Base) {
			if _, ok := seen[site]; ok {
				continue
			}
			seen[site] = struct{}{}
			out = append(out, UafPair{Free: site, Use: useLoc})
		}
	}
	return out
}

// uafDedupKey is the deduplication key of §4.8: (free.addr, use.addr)
// when context-sensitivity is off, the full Locs when it's on (so
// bugs reachable only via one caller are distinguished).
type uafDedupKey struct {
	contextual bool
	freeAddr   uint64
	useAddr    uint64
	free, use  Loc
}

func dedupKey(p UafPair, contextual bool) uafDedupKey {
	if contextual {
		return uafDedupKey{contextual: true, free: p.Free, use: p.Use}
	}
	return uafDedupKey{freeAddr: p.Free.Addr, useAddr: p.Use.Addr}
}

// DedupUaf collapses a flat list of UafPairs per §4.8's dedup rule.
func DedupUaf(pairs []UafPair, contextual bool) []UafPair {
	seen := make(map[uafDedupKey]struct{}, len(pairs))
	var out []UafPair
	for _, p := range pairs {
		k := dedupKey(p, contextual)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
