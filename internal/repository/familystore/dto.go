package familystore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
)

// recordRow is the JSON-serializable representation of a record.
type recordRow struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	SourceRef   string `json:"source_ref,omitempty"`
}

// snapshotToHash converts a snapshot to a map for HSET.
func snapshotToHash(s familydb.Snapshot) (map[string]string, error) {
	rows := make([]recordRow, len(s.Records))
	for i, r := range s.Records {
		rows[i] = recordRow{ID: r.Identifier(), Description: r.Description(), SourceRef: r.SourceRef()}
	}
	recordsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return map[string]string{
		"kind":         string(s.Kind),
		"source":       s.Source,
		"mod_time":     strconv.FormatInt(s.ModTime.UnixNano(), 10),
		"built_at":     strconv.FormatInt(s.BuiltAt.UnixNano(), 10),
		"count":        strconv.Itoa(len(rows)),
		"records_json": string(recordsJSON),
	}, nil
}

// snapshotFromHash hydrates a snapshot from an HGETALL result map.
func snapshotFromHash(m map[string]string) (familydb.Snapshot, error) {
	kind, err := family.ParseKind(m["kind"])
	if err != nil {
		return familydb.Snapshot{}, err
	}
	modTime, err := strconv.ParseInt(m["mod_time"], 10, 64)
	if err != nil {
		return familydb.Snapshot{}, fmt.Errorf("invalid mod_time: %w", err)
	}

	var builtAt int64
	if s := m["built_at"]; s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			builtAt = parsed
		}
	}

	var rows []recordRow
	if err := json.Unmarshal([]byte(m["records_json"]), &rows); err != nil {
		return familydb.Snapshot{}, fmt.Errorf("unmarshal records: %w", err)
	}
	if count, err := strconv.Atoi(m["count"]); err == nil && count != len(rows) {
		return familydb.Snapshot{}, fmt.Errorf("record count %d does not match %d rows", count, len(rows))
	}

	records := make([]family.Record, len(rows))
	for i, r := range rows {
		rec, err := family.NewRecord(kind, r.ID, r.Description, r.SourceRef)
		if err != nil {
			return familydb.Snapshot{}, fmt.Errorf("record %d: %w", i, err)
		}
		records[i] = rec
	}

	return familydb.Snapshot{
		Kind:    kind,
		Source:  m["source"],
		ModTime: time.Unix(0, modTime),
		Records: records,
		BuiltAt: time.Unix(0, builtAt),
	}, nil
}
