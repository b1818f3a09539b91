package transfer

// MetadataFunc resolves extra metadata for a record. Returning false leaves the
// record's metadata untouched.
type MetadataFunc func(r Record) (map[string]string, bool)

// Enrich runs the metadata post-pass. Records already enriched are passed through
// unchanged so the pass is applied at most once per record. Existing non-empty
// metadata values win over resolved ones; the input slice is not modified.
func Enrich(records []Record, resolve MetadataFunc) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		if r.enriched {
			out[i] = r
			continue
		}
		r.enriched = true
		if extra, ok := resolve(r); ok && len(extra) > 0 {
			merged := make(map[string]string, len(r.Metadata)+len(extra))
			for k, v := range extra {
				merged[k] = v
			}
			for k, v := range r.Metadata {
				if v != "" {
					merged[k] = v
				}
			}
			r.Metadata = merged
		}
		out[i] = r
	}
	return out
}
