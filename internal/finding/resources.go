package finding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RegionResources holds the resource ids of one region in the order they
// were first encountered.
type RegionResources struct {
	Region    string
	Resources []string
}

// AffectedResources groups resource ids by region. Region and resource order
// is insertion order and survives a JSON round trip.
type AffectedResources []RegionResources

// Count returns the number of resource ids across all regions.
func (a AffectedResources) Count() int {
	n := 0
	for _, rr := range a {
		n += len(rr.Resources)
	}
	return n
}

// Add appends id under region unless it is already present. An empty id
// registers the region without adding a resource.
func (a *AffectedResources) Add(region, id string) bool {
	for i := range *a {
		rr := &(*a)[i]
		if rr.Region != region {
			continue
		}
		if id == "" {
			return false
		}
		for _, existing := range rr.Resources {
			if existing == id {
				return false
			}
		}
		rr.Resources = append(rr.Resources, id)
		return true
	}
	rr := RegionResources{Region: region}
	if id != "" {
		rr.Resources = []string{id}
	}
	*a = append(*a, rr)
	return id != ""
}

// Contains reports whether id is listed under region.
func (a AffectedResources) Contains(region, id string) bool {
	for _, rr := range a {
		if rr.Region != region {
			continue
		}
		for _, r := range rr.Resources {
			if r == id {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy.
func (a AffectedResources) Clone() AffectedResources {
	if a == nil {
		return nil
	}
	out := make(AffectedResources, len(a))
	for i, rr := range a {
		out[i] = RegionResources{Region: rr.Region, Resources: append([]string(nil), rr.Resources...)}
	}
	return out
}

// MarshalJSON writes {"region": ["id", ...], ...} keeping region order.
func (a AffectedResources) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(rr.Region)
		if err != nil {
			return nil, err
		}
		resources := rr.Resources
		if resources == nil {
			resources = []string{}
		}
		val, err := json.Marshal(resources)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form, preserving key order.
func (a *AffectedResources) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("affected resources: expected object, got %v", tok)
	}
	var out AffectedResources
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		region, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("affected resources: expected region key, got %v", keyTok)
		}
		var ids []string
		if err := dec.Decode(&ids); err != nil {
			return fmt.Errorf("affected resources %s: %w", region, err)
		}
		out = append(out, RegionResources{Region: region, Resources: ids})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}
