package event

import "encoding/json"

// MarshalRecord serialises a RecordData to JSON.
func MarshalRecord(r RecordData) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord deserialises a RecordData, payload included.
func UnmarshalRecord(data []byte) (RecordData, error) {
	var r RecordData
	err := json.Unmarshal(data, &r)
	return r, err
}

// ByContext splits a stream per correlation id, keeping arrival order inside
// each group. The returned order lists ids by first appearance.
func ByContext(records []RecordData) (map[string][]RecordData, []string) {
	groups := make(map[string][]RecordData)
	var order []string
	for _, r := range records {
		if _, ok := groups[r.RelatedID]; !ok {
			order = append(order, r.RelatedID)
		}
		groups[r.RelatedID] = append(groups[r.RelatedID], r)
	}
	return groups, order
}
