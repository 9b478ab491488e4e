package database

import (
	"fmt"
	"strings"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/zone"
)

// ZoneRecordRow is one locally authored record as stored. RData holds
// the zone-file presentation form ("192.0.2.1", "10 mail.example.com.").
type ZoneRecordRow struct {
	ID    int64
	Name  string
	TTL   uint32
	Type  string
	RData string
}

// AddZoneRecord stores a locally authored record.
func (db *DB) AddZoneRecord(name string, ttl uint32, rtype, rdata string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO zone_records (name, ttl, type, rdata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name, type, rdata) DO UPDATE SET
			ttl = excluded.ttl
	`
	if _, err := db.conn.Exec(query, dns.NormalizeName(name), ttl, strings.ToUpper(rtype), rdata); err != nil {
		return fmt.Errorf("failed to add zone record %s %s: %w", name, rtype, err)
	}
	return nil
}

// RemoveZoneRecords deletes every stored record at name.
func (db *DB) RemoveZoneRecords(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM zone_records WHERE name = ?`, dns.NormalizeName(name)); err != nil {
		return fmt.Errorf("failed to remove zone records for %s: %w", name, err)
	}
	return nil
}

// ZoneRecords returns every stored record row.
func (db *DB) ZoneRecords() ([]ZoneRecordRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT id, name, ttl, type, rdata FROM zone_records ORDER BY name, type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone records: %w", err)
	}
	defer rows.Close()

	var out []ZoneRecordRow
	for rows.Next() {
		var r ZoneRecordRow
		if err := rows.Scan(&r.ID, &r.Name, &r.TTL, &r.Type, &r.RData); err != nil {
			return nil, fmt.Errorf("failed to scan zone record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zone records: %w", err)
	}
	return out, nil
}

// LoadZoneRecords parses every stored record and installs it into the
// zone as established. Rows are rendered through the zone-file parser so
// both sources share one grammar.
func (db *DB) LoadZoneRecords(z *zone.Zone, ifindex int) error {
	rows, err := db.ZoneRecords()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("$ORIGIN .\n")
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = "."
		} else if !strings.HasSuffix(name, ".") {
			name += "."
		}
		fmt.Fprintf(&b, "%s %d IN %s %s\n", name, r.TTL, r.Type, r.RData)
	}

	f, err := zone.ParseText(b.String())
	if err != nil {
		return fmt.Errorf("failed to parse stored zone records: %w", err)
	}
	f.InstallInto(z, ifindex)
	return nil
}
