package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MinPolygonVertices минимальное количество вершин корректного полигона
const MinPolygonVertices = 3

// ErrDegenerateGeometry полигон содержит меньше трех вершин
var ErrDegenerateGeometry = errors.New("degenerate region geometry")

// Vertex вершина полигона в нормализованных координатах [0,1].
// В JSON сериализуется как [y, x].
type Vertex struct {
	X float64
	Y float64
}

// MarshalJSON пишет вершину в порядке [y, x]
func (v Vertex) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{v.Y, v.X})
}

// UnmarshalJSON читает вершину из массива [y, x]
func (v *Vertex) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid vertex %s: %w", string(data), err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("invalid vertex %s: expected [y, x]", string(data))
	}
	v.Y, v.X = pair[0], pair[1]
	return nil
}

// Region сегментированная клетка на одном кадре
type Region struct {
	ID           string   `json:"id"`
	Vertices     []Vertex `json:"vertices"`
	LinkID       *string  `json:"link_id,omitempty"`
	ManualLink   *bool    `json:"manual_link,omitempty"`
	Edited       *bool    `json:"edited,omitempty"`
	AvgIntensity *float64 `json:"avg_intensity,omitempty"`
}

// Regions набор регионов одного кадра в порядке вставки
type Regions []Region

// HasLink установлен ли link_id
func (r *Region) HasLink() bool {
	return r.LinkID != nil
}

// IsManualLink закреплена ли связь человеком
func (r *Region) IsManualLink() bool {
	return r.ManualLink != nil && *r.ManualLink
}

// IsEdited изменен ли регион пользователем
func (r *Region) IsEdited() bool {
	return r.Edited != nil && *r.Edited
}

// SetLink устанавливает link_id
func (r *Region) SetLink(id string) {
	r.LinkID = &id
}

// ClearLink удаляет link_id
func (r *Region) ClearLink() {
	r.LinkID = nil
}

// Valid проверяет что полигон не вырожден
func (r *Region) Valid() bool {
	return len(r.Vertices) >= MinPolygonVertices
}

// Clone глубокая копия региона
func (r Region) Clone() Region {
	out := Region{ID: r.ID}
	if r.Vertices != nil {
		out.Vertices = make([]Vertex, len(r.Vertices))
		copy(out.Vertices, r.Vertices)
	}
	if r.LinkID != nil {
		v := *r.LinkID
		out.LinkID = &v
	}
	if r.ManualLink != nil {
		v := *r.ManualLink
		out.ManualLink = &v
	}
	if r.Edited != nil {
		v := *r.Edited
		out.Edited = &v
	}
	if r.AvgIntensity != nil {
		v := *r.AvgIntensity
		out.AvgIntensity = &v
	}
	return out
}

// Clone глубокая копия набора регионов
func (rs Regions) Clone() Regions {
	if rs == nil {
		return nil
	}
	out := make(Regions, len(rs))
	for i := range rs {
		out[i] = rs[i].Clone()
	}
	return out
}

// IDs идентификаторы регионов в порядке массива
func (rs Regions) IDs() []string {
	ids := make([]string, len(rs))
	for i := range rs {
		ids[i] = rs[i].ID
	}
	return ids
}

// CountEdited количество регионов с отметкой edited
func (rs Regions) CountEdited() int {
	n := 0
	for i := range rs {
		if rs[i].IsEdited() {
			n++
		}
	}
	return n
}

// FilterDegenerate отбрасывает полигоны с менее чем тремя вершинами.
// Возвращает корректные регионы и идентификаторы отброшенных.
func FilterDegenerate(rs Regions) (Regions, []string) {
	valid := make(Regions, 0, len(rs))
	var dropped []string
	for i := range rs {
		if rs[i].Valid() {
			valid = append(valid, rs[i])
			continue
		}
		dropped = append(dropped, rs[i].ID)
	}
	return valid, dropped
}

// FilterInvalidIDs отбрасывает регионы без идентификатора и повторы
// идентификатора, первый регион с данным идентификатором сохраняется.
// Регион без идентификатора попадает в отброшенные как "#<индекс>".
func FilterInvalidIDs(rs Regions) (Regions, []string) {
	valid := make(Regions, 0, len(rs))
	seen := make(map[string]struct{}, len(rs))
	var dropped []string
	for i := range rs {
		id := rs[i].ID
		if id == "" {
			dropped = append(dropped, fmt.Sprintf("#%d", i))
			continue
		}
		if _, ok := seen[id]; ok {
			dropped = append(dropped, id)
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, rs[i])
	}
	return valid, dropped
}

// Sanitize применяет FilterInvalidIDs и FilterDegenerate
func Sanitize(rs Regions) (Regions, []string) {
	valid, dropped := FilterInvalidIDs(rs)
	valid, degenerate := FilterDegenerate(valid)
	return valid, append(dropped, degenerate...)
}

// DecodeDocument разбирает JSON документ сегментации кадра
func DecodeDocument(data []byte) (Regions, error) {
	var rs Regions
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode segmentation document: %w", err)
	}
	if rs == nil {
		rs = Regions{}
	}
	return rs, nil
}

// EncodeDocument сериализует регионы в канонический JSON документ
func EncodeDocument(rs Regions) ([]byte, error) {
	if rs == nil {
		rs = Regions{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rs); err != nil {
		return nil, fmt.Errorf("failed to encode segmentation document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
