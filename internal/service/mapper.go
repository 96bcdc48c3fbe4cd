package service

import (
	"fmt"

	"erpsync/internal/domain"
)

// MapFunc is the per-module field-mapping hook: a pure transform from the
// remote envelope to the local record shape.
type MapFunc func(module string, raw domain.RawRecord) (domain.Record, error)

// DefaultMapper keeps the typed fields and carries the rest of the remote
// attribute bag verbatim as the payload.
func DefaultMapper(module string, raw domain.RawRecord) (domain.Record, error) {
	if raw.ID <= 0 {
		return domain.Record{}, fmt.Errorf("record without valid id in %s", module)
	}

	rec := domain.Record{
		Module:     module,
		RemoteID:   raw.ID,
		ModifiedAt: raw.ModifiedAt,
		Payload:    raw.Fields,
	}
	if name, ok := raw.Fields["name"].(string); ok {
		rec.Name = name
	}
	return rec, nil
}
