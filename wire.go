package ate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/learn-decentralized-systems/toytlv"
)

// Wire format, TLV all the way down. A data message is a 'D' record wrapping
//
//	I: object id (16 bytes)     V: version (16 bytes)
//	P: previous version         M: merge parent (repeated)
//	C: payload class            W: inherit-write flag (1 byte)
//	A: allow-write entry        B: payload body (absent for tombstones)
//
// and its log coordinate is a 'T' record of three big-endian int64s
// (partition, offset, timestamp-millis).

var ErrBadMessage = errors.New("bad data message record")
var ErrBadMeta = errors.New("bad meta record")

func (d *Data) TLV() []byte {
	h := d.Header
	oid, ver := h.ObjectId, h.Version
	body := [][]byte{
		toytlv.Record('I', oid[:]),
		toytlv.Record('V', ver[:]),
	}
	if h.PreviousVersion != uuid.Nil {
		prev := h.PreviousVersion
		body = append(body, toytlv.Record('P', prev[:]))
	}
	if h.Merges != nil {
		merges := h.Merges.ToSlice()
		slices.SortFunc(merges, func(a, b uuid.UUID) int {
			return bytes.Compare(a[:], b[:])
		})
		for _, m := range merges {
			body = append(body, toytlv.Record('M', m[:]))
		}
	}
	body = append(body, toytlv.Record('C', []byte(h.PayloadClass)))
	w := byte(0)
	if h.InheritWrite {
		w = 1
	}
	body = append(body, toytlv.Record('W', []byte{w}))
	for _, a := range h.AllowWrite {
		body = append(body, toytlv.Record('A', []byte(a)))
	}
	if d.Payload != nil {
		body = append(body, toytlv.Record('B', d.Payload))
	}
	return toytlv.Record('D', toytlv.Concat(body...))
}

func (m *Meta) TLV() []byte {
	var b [24]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(m.partition))
	binary.BigEndian.PutUint64(b[8:16], uint64(m.offset))
	binary.BigEndian.PutUint64(b[16:24], uint64(m.timestamp))
	return toytlv.Record('T', b[:])
}

// TLV renders the message followed by its meta; the layout chainlog persists
// and the registry drains.
func (dm *DataMeta) TLV() []byte {
	return toytlv.Concat(dm.Data.TLV(), dm.Meta.TLV())
}

func takeUUID(body []byte) (uuid.UUID, bool) {
	if len(body) != 16 {
		return uuid.Nil, false
	}
	var id uuid.UUID
	copy(id[:], body)
	return id, true
}

// ParseData decodes a 'D' record. Duplicate merge parents collapse on decode;
// the merges field has set semantics on the wire.
func ParseData(rec []byte) (data *Data, rest []byte, err error) {
	body, rest := toytlv.Take('D', rec)
	if body == nil {
		return nil, rec, ErrBadMessage
	}
	header := &DataHeader{Merges: mapset.NewSet[uuid.UUID]()}
	data = &Data{Header: header}
	var sawI, sawV bool
	for len(body) > 0 {
		lit, inner, next := toytlv.TakeAny(body)
		if inner == nil && next == nil {
			return nil, rec, ErrBadMessage
		}
		switch lit {
		case 'I':
			if header.ObjectId, sawI = takeUUID(inner); !sawI {
				return nil, rec, ErrBadMessage
			}
		case 'V':
			if header.Version, sawV = takeUUID(inner); !sawV {
				return nil, rec, ErrBadMessage
			}
		case 'P':
			prev, ok := takeUUID(inner)
			if !ok {
				return nil, rec, ErrBadMessage
			}
			header.PreviousVersion = prev
		case 'M':
			m, ok := takeUUID(inner)
			if !ok {
				return nil, rec, ErrBadMessage
			}
			header.Merges.Add(m)
		case 'C':
			header.PayloadClass = string(inner)
		case 'W':
			if len(inner) != 1 {
				return nil, rec, ErrBadMessage
			}
			header.InheritWrite = inner[0] != 0
		case 'A':
			header.AllowWrite = append(header.AllowWrite, string(inner))
		case 'B':
			data.Payload = append([]byte{}, inner...)
		default:
			// unknown records are skipped so the format can grow
		}
		body = next
	}
	if !sawI || !sawV {
		return nil, rec, ErrBadMessage
	}
	return data, rest, nil
}

func ParseMeta(rec []byte) (meta *Meta, rest []byte, err error) {
	body, rest := toytlv.Take('T', rec)
	if body == nil || len(body) != 24 {
		return nil, rec, ErrBadMeta
	}
	meta = &Meta{
		partition: int64(binary.BigEndian.Uint64(body[0:8])),
		offset:    int64(binary.BigEndian.Uint64(body[8:16])),
		timestamp: int64(binary.BigEndian.Uint64(body[16:24])),
	}
	return meta, rest, nil
}

func ParseDataMeta(rec []byte) (dm *DataMeta, err error) {
	data, rest, err := ParseData(rec)
	if err != nil {
		return nil, err
	}
	meta, _, err := ParseMeta(rest)
	if err != nil {
		return nil, err
	}
	return &DataMeta{Data: data, Meta: meta}, nil
}
