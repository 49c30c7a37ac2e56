package dref

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rockowitz/go-ddcutil/edid"
)

// snapshotVersion is bumped whenever the on-disk record shape changes
// in an incompatible way.
const snapshotVersion = 1

// record is the on-disk representation of one DisplayRef. Kept
// separate from DisplayRef itself so that internal fields (mutexes,
// cached transports) never leak into the serialized form.
type record struct {
	ID          ID     `json:"id"`
	BusNo       int    `json:"bus_no"`
	Dispno      int    `json:"dispno"`
	Flags       Flags  `json:"flags"`
	MCCSVersion string `json:"mccs_version,omitempty"`
	Actual      ID     `json:"actual,omitempty"`

	MfgID       string `json:"mfg_id"`
	ModelName   string `json:"model_name"`
	ProductCode uint16 `json:"product_code"`
	SerialASCII string `json:"serial_ascii,omitempty"`
	SerialBin   uint32 `json:"serial_bin,omitempty"`
}

// document is the top-level persisted shape: {"version":1,
// "all_displays":[...]}.
type document struct {
	Version     int      `json:"version"`
	AllDisplays []record `json:"all_displays"`
}

// Save writes every known DisplayRef (including removed ones, so that
// a published dref id remains resolvable across a process restart) to
// w as JSON.
func Save(r *Registry, w io.Writer) error {
	drefs := r.List()
	doc := document{Version: snapshotVersion, AllDisplays: make([]record, 0, len(drefs))}
	for _, d := range drefs {
		s := d.snapshot()
		rec := record{
			ID:          d.ID,
			BusNo:       d.BusNo,
			Dispno:      s.Dispno,
			Flags:       s.Flags,
			MCCSVersion: s.MCCSVersion,
			Actual:      s.Actual,
		}
		if d.EDID != nil {
			rec.MfgID = d.Identity.MfgID
			rec.ModelName = d.Identity.ModelName
			rec.ProductCode = d.Identity.ProductCode
			rec.SerialASCII = d.Identity.SerialASCII
			rec.SerialBin = d.Identity.SerialBin
		}
		doc.AllDisplays = append(doc.AllDisplays, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Load reconstructs a Registry from JSON previously written by Save.
// Loaded drefs carry no live EDID or transport binding; they exist so
// that a previously published id and its last-known identity remain
// inspectable, per spec §4.F invariant (iii).
func Load(r io.Reader) (*Registry, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("dref: decoding snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("dref: unsupported snapshot version %d", doc.Version)
	}

	reg := NewRegistry()
	for _, rec := range doc.AllDisplays {
		d := &DisplayRef{
			ID:    rec.ID,
			BusNo: rec.BusNo,
			Identity: edid.Identity{
				MfgID:       rec.MfgID,
				ModelName:   rec.ModelName,
				ProductCode: rec.ProductCode,
				SerialASCII: rec.SerialASCII,
				SerialBin:   rec.SerialBin,
			},
			dispno:      rec.Dispno,
			flags:       rec.Flags,
			mccsVersion: rec.MCCSVersion,
			actual:      rec.Actual,
		}
		reg.byID[d.ID] = d
		reg.order = append(reg.order, d.ID)
		if d.ID > reg.nextID {
			reg.nextID = d.ID
		}
	}
	return reg, nil
}
