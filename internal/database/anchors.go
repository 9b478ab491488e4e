package database

import (
	"fmt"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/dnssec"
	"github.com/jroosing/lernadns/internal/trust"
)

// TrustAnchorRow is one configured anchor as stored.
type TrustAnchorRow struct {
	ID         int64
	Name       string
	Kind       string // "DS", "DNSKEY" or "NEGATIVE"
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     []byte
	Flags      uint16
	PublicKey  []byte
}

// AddDSAnchor stores a positive DS trust anchor.
func (db *DB) AddDSAnchor(name string, keyTag uint16, algorithm, digestType uint8, digest []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO trust_anchors (name, kind, key_tag, algorithm, digest_type, digest)
		VALUES (?, 'DS', ?, ?, ?, ?)
		ON CONFLICT(name, kind, key_tag) DO UPDATE SET
			algorithm = excluded.algorithm,
			digest_type = excluded.digest_type,
			digest = excluded.digest
	`
	if _, err := db.conn.Exec(query, dns.NormalizeName(name), keyTag, algorithm, digestType, digest); err != nil {
		return fmt.Errorf("failed to add DS anchor for %s: %w", name, err)
	}
	return nil
}

// AddDNSKEYAnchor stores a positive DNSKEY trust anchor.
func (db *DB) AddDNSKEYAnchor(name string, flags uint16, algorithm uint8, publicKey []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := &dns.DNSKEYRecord{Flags: flags, Protocol: dns.DNSKEYProtocol, Algorithm: algorithm, PublicKey: publicKey}
	query := `
		INSERT INTO trust_anchors (name, kind, key_tag, algorithm, flags, public_key)
		VALUES (?, 'DNSKEY', ?, ?, ?, ?)
		ON CONFLICT(name, kind, key_tag) DO UPDATE SET
			algorithm = excluded.algorithm,
			flags = excluded.flags,
			public_key = excluded.public_key
	`
	if _, err := db.conn.Exec(query, dns.NormalizeName(name), dnssec.KeyTag(key), algorithm, flags, publicKey); err != nil {
		return fmt.Errorf("failed to add DNSKEY anchor for %s: %w", name, err)
	}
	return nil
}

// AddNegativeAnchor stores a negative trust anchor: names at or below
// name resolve without DNSSEC validation.
func (db *DB) AddNegativeAnchor(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO trust_anchors (name, kind, key_tag)
		VALUES (?, 'NEGATIVE', 0)
		ON CONFLICT(name, kind, key_tag) DO NOTHING
	`
	if _, err := db.conn.Exec(query, dns.NormalizeName(name)); err != nil {
		return fmt.Errorf("failed to add negative anchor for %s: %w", name, err)
	}
	return nil
}

// RemoveAnchor deletes every stored anchor at name.
func (db *DB) RemoveAnchor(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM trust_anchors WHERE name = ?`, dns.NormalizeName(name)); err != nil {
		return fmt.Errorf("failed to remove anchors for %s: %w", name, err)
	}
	return nil
}

// TrustAnchors returns every stored anchor row.
func (db *DB) TrustAnchors() ([]TrustAnchorRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, name, kind,
		       COALESCE(key_tag, 0), COALESCE(algorithm, 0), COALESCE(digest_type, 0),
		       COALESCE(digest, X''), COALESCE(flags, 0), COALESCE(public_key, X'')
		FROM trust_anchors
		ORDER BY name, kind, key_tag
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust anchors: %w", err)
	}
	defer rows.Close()

	var out []TrustAnchorRow
	for rows.Next() {
		var r TrustAnchorRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.KeyTag, &r.Algorithm, &r.DigestType,
			&r.Digest, &r.Flags, &r.PublicKey); err != nil {
			return nil, fmt.Errorf("failed to scan trust anchor: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trust anchors: %w", err)
	}
	return out, nil
}

// LoadTrustAnchors installs every stored anchor into the runtime store.
func (db *DB) LoadTrustAnchors(anchor *trust.Anchor) error {
	rowsByName := map[string][]TrustAnchorRow{}
	rows, err := db.TrustAnchors()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.Kind == "NEGATIVE" {
			anchor.AddNegative(r.Name)
			continue
		}
		rowsByName[r.Name] = append(rowsByName[r.Name], r)
	}

	for name, group := range rowsByName {
		dsAns := dns.NewAnswer(0)
		keyAns := dns.NewAnswer(0)
		for _, r := range group {
			switch r.Kind {
			case "DS":
				dsAns.Add(&dns.DSRecord{
					H:          dns.NewRRHeader(name, dns.ClassIN, 0),
					KeyTag:     r.KeyTag,
					Algorithm:  r.Algorithm,
					DigestType: r.DigestType,
					Digest:     r.Digest,
				}, 0, dns.AnswerAuthenticated)
			case "DNSKEY":
				keyAns.Add(&dns.DNSKEYRecord{
					H:         dns.NewRRHeader(name, dns.ClassIN, 0),
					Flags:     r.Flags,
					Protocol:  dns.DNSKEYProtocol,
					Algorithm: r.Algorithm,
					PublicKey: r.PublicKey,
				}, 0, dns.AnswerAuthenticated)
			}
		}
		if !dsAns.IsEmpty() {
			anchor.AddPositive(dns.NewKey(name, dns.TypeDS, dns.ClassIN), dsAns)
		}
		if !keyAns.IsEmpty() {
			anchor.AddPositive(dns.NewKey(name, dns.TypeDNSKEY, dns.ClassIN), keyAns)
		}
	}
	return nil
}
