package document

// Merge combines an incoming attribute document with the stored one.
//
// A Null incoming keeps the stored document and a Null stored document takes
// the incoming one. Two objects merge key by key: nested objects recurse and
// everything else, arrays and explicit nulls included, is replaced by the
// incoming value. Any other pairing yields the incoming value. Neither input
// is modified and the result shares no storage with them.
func Merge(existing, incoming Value) Value {
	if incoming.IsNull() {
		return existing.Clone()
	}
	if existing.IsNull() {
		return incoming.Clone()
	}
	if existing.IsObject() && incoming.IsObject() {
		return mergeObjects(existing, incoming)
	}
	return incoming.Clone()
}

func mergeObjects(existing, incoming Value) Value {
	out := existing.Clone()
	for k, in := range incoming.obj {
		cur, ok := out.obj[k]
		if ok && cur.IsObject() && in.IsObject() {
			out.obj[k] = mergeObjects(cur, in)
			continue
		}
		out.obj[k] = in.Clone()
	}
	return out
}
